// Package catalog provides the read-only reference-data readers consumed by
// ingest and query: Regions, Servers, Monitors, and Customers.
//
// Catalogs never cache. Admin edits (customer/monitor/host/region/server
// CRUD, out of core scope per spec §1) must be visible on the next call, and
// the fast path is the ingest bulk insert, which batches its own lookups via
// Servers.ValidIDs/Monitors.ValidIDs rather than one call per row. Single-row
// lookups map every error to the type's "invalid" sentinel plus a log line
// (§4.B, §7); list and id-set reads return the error to the caller.
package catalog

import (
	"context"
	"log"

	"github.com/jackc/pgx/v5"

	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/latency"
)

// Regions reads the regions table.
type Regions struct {
	db *dbpool.Manager
}

func NewRegions(db *dbpool.Manager) *Regions {
	return &Regions{db: db}
}

// ByID looks up a single region. threadID is used only to label the pool
// acquisition in logs; it selects no separate handle under pgxpool.
func (r *Regions) ByID(ctx context.Context, id latency.RegionID, threadID string) latency.Region {
	var name string
	err := r.db.Pool().QueryRow(ctx, `SELECT name FROM regions WHERE region_id = $1`, uint16(id)).Scan(&name)
	if err == pgx.ErrNoRows {
		return latency.InvalidRegion
	}
	if err != nil {
		log.Printf("[catalog:regions] thread=%s ByID(%d): %v", threadID, id, err)
		return latency.InvalidRegion
	}
	return latency.Region{RegionID: id, Name: name}
}

// All returns every region row.
func (r *Regions) All(ctx context.Context, threadID string) ([]latency.Region, error) {
	rows, err := r.db.Pool().Query(ctx, `SELECT region_id, name FROM regions ORDER BY region_id`)
	if err != nil {
		log.Printf("[catalog:regions] thread=%s All(): %v", threadID, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.Region
	for rows.Next() {
		var id uint16
		var name string
		if err := rows.Scan(&id, &name); err != nil {
			log.Printf("[catalog:regions] thread=%s All() scan: %v", threadID, err)
			return nil, err
		}
		out = append(out, latency.Region{RegionID: latency.RegionID(id), Name: name})
	}
	return out, rows.Err()
}

// Servers reads the servers table.
type Servers struct {
	db *dbpool.Manager
}

func NewServers(db *dbpool.Manager) *Servers {
	return &Servers{db: db}
}

func scanServer(row pgx.Row) (latency.Server, error) {
	var s latency.Server
	var status uint8
	err := row.Scan(&s.ServerID, &s.RegionID, &s.Identifier, &status, &s.MonitorsPerSecond, &s.CPULoading, &s.MemoryLoading)
	s.Status = latency.ServerStatus(status)
	return s, err
}

// ByID looks up a server by its numeric id.
func (s *Servers) ByID(ctx context.Context, id latency.ServerID, threadID string) latency.Server {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT server_id, region_id, identifier, status, monitors_per_second, cpu_loading, memory_loading
		FROM servers WHERE server_id = $1`, uint16(id))
	srv, err := scanServer(row)
	if err == pgx.ErrNoRows {
		return latency.InvalidServer
	}
	if err != nil {
		log.Printf("[catalog:servers] thread=%s ByID(%d): %v", threadID, id, err)
		return latency.InvalidServer
	}
	return srv
}

// ByIdentifier looks up a server by its string identifier (the secondary
// key workers present on registration).
func (s *Servers) ByIdentifier(ctx context.Context, identifier string, threadID string) latency.Server {
	row := s.db.Pool().QueryRow(ctx, `
		SELECT server_id, region_id, identifier, status, monitors_per_second, cpu_loading, memory_loading
		FROM servers WHERE identifier = $1`, identifier)
	srv, err := scanServer(row)
	if err == pgx.ErrNoRows {
		return latency.InvalidServer
	}
	if err != nil {
		log.Printf("[catalog:servers] thread=%s ByIdentifier(%q): %v", threadID, identifier, err)
		return latency.InvalidServer
	}
	return srv
}

// All returns every server row.
func (s *Servers) All(ctx context.Context, threadID string) ([]latency.Server, error) {
	rows, err := s.db.Pool().Query(ctx, `
		SELECT server_id, region_id, identifier, status, monitors_per_second, cpu_loading, memory_loading
		FROM servers ORDER BY server_id`)
	if err != nil {
		log.Printf("[catalog:servers] thread=%s All(): %v", threadID, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.Server
	for rows.Next() {
		srv, err := scanServer(rows)
		if err != nil {
			log.Printf("[catalog:servers] thread=%s All() scan: %v", threadID, err)
			return nil, err
		}
		out = append(out, srv)
	}
	return out, rows.Err()
}

// ByRegion lists every server id belonging to a region, used by
// QueryLayer's region-scoped server predicate (spec §4.F).
func (s *Servers) ByRegion(ctx context.Context, region latency.RegionID, threadID string) ([]latency.ServerID, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT server_id FROM servers WHERE region_id = $1`, uint16(region))
	if err != nil {
		log.Printf("[catalog:servers] thread=%s ByRegion(%d): %v", threadID, region, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.ServerID
	for rows.Next() {
		var id uint16
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, latency.ServerID(id))
	}
	return out, rows.Err()
}

// UpdateStatus records a worker's self-reported status and load, carried in
// the binary upload header (spec §6.1). It is the one write path on an
// otherwise read-only catalog: unlike samples, server health has no history
// to preserve, so each report simply overwrites the prior one. Returns false
// (plus a log line) on failure, matching §7's write-op error contract.
func (s *Servers) UpdateStatus(ctx context.Context, id latency.ServerID, status latency.ServerStatus, monitorsPerSecond, cpuLoading, memoryLoading float32, threadID string) bool {
	tag, err := s.db.Pool().Exec(ctx, `
		UPDATE servers SET status = $2, monitors_per_second = $3, cpu_loading = $4, memory_loading = $5
		WHERE server_id = $1`,
		uint16(id), uint8(status), monitorsPerSecond, cpuLoading, memoryLoading)
	if err != nil {
		log.Printf("[catalog:servers] thread=%s UpdateStatus(%d): %v", threadID, id, err)
		return false
	}
	if tag.RowsAffected() == 0 {
		log.Printf("[catalog:servers] thread=%s UpdateStatus(%d): no such server", threadID, id)
		return false
	}
	return true
}

// ValidIDs returns the full set of currently-valid server ids, for ingest's
// bulk validation, loaded once per flush (spec §4.C step 4).
func (s *Servers) ValidIDs(ctx context.Context) (map[latency.ServerID]struct{}, error) {
	rows, err := s.db.Pool().Query(ctx, `SELECT server_id FROM servers`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[latency.ServerID]struct{})
	for rows.Next() {
		var id uint16
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[latency.ServerID(id)] = struct{}{}
	}
	return set, rows.Err()
}

// Monitors reads the monitor table.
type Monitors struct {
	db *dbpool.Manager
}

func NewMonitors(db *dbpool.Manager) *Monitors {
	return &Monitors{db: db}
}

// ByID looks up a monitor.
func (m *Monitors) ByID(ctx context.Context, id latency.MonitorID, threadID string) latency.Monitor {
	var mon latency.Monitor
	mon.MonitorID = id
	err := m.db.Pool().QueryRow(ctx, `
		SELECT customer_id, host_scheme_id FROM monitor WHERE monitor_id = $1`, uint32(id)).
		Scan(&mon.CustomerID, &mon.HostSchemeID)
	if err == pgx.ErrNoRows {
		return latency.InvalidMonitor
	}
	if err != nil {
		log.Printf("[catalog:monitors] thread=%s ByID(%d): %v", threadID, id, err)
		return latency.InvalidMonitor
	}
	return mon
}

// All returns every monitor row.
func (m *Monitors) All(ctx context.Context, threadID string) ([]latency.Monitor, error) {
	rows, err := m.db.Pool().Query(ctx, `SELECT monitor_id, customer_id, host_scheme_id FROM monitor ORDER BY monitor_id`)
	if err != nil {
		log.Printf("[catalog:monitors] thread=%s All(): %v", threadID, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.Monitor
	for rows.Next() {
		var mon latency.Monitor
		if err := rows.Scan(&mon.MonitorID, &mon.CustomerID, &mon.HostSchemeID); err != nil {
			return nil, err
		}
		out = append(out, mon)
	}
	return out, rows.Err()
}

// ByHostScheme lists every monitor id under a host/scheme, used by
// QueryLayer's host-scheme monitor predicate.
func (m *Monitors) ByHostScheme(ctx context.Context, hs latency.HostSchemeID, threadID string) ([]latency.MonitorID, error) {
	rows, err := m.db.Pool().Query(ctx, `SELECT monitor_id FROM monitor WHERE host_scheme_id = $1`, uint32(hs))
	if err != nil {
		log.Printf("[catalog:monitors] thread=%s ByHostScheme(%d): %v", threadID, hs, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.MonitorID
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, latency.MonitorID(id))
	}
	return out, rows.Err()
}

// ByCustomer lists every monitor id owned by a customer.
func (m *Monitors) ByCustomer(ctx context.Context, customer latency.CustomerID, threadID string) ([]latency.MonitorID, error) {
	rows, err := m.db.Pool().Query(ctx, `SELECT monitor_id FROM monitor WHERE customer_id = $1`, uint32(customer))
	if err != nil {
		log.Printf("[catalog:monitors] thread=%s ByCustomer(%d): %v", threadID, customer, err)
		return nil, err
	}
	defer rows.Close()

	var out []latency.MonitorID
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, latency.MonitorID(id))
	}
	return out, rows.Err()
}

// ValidIDs returns the full set of currently-valid monitor ids, for
// ingest's bulk validation, loaded once per flush.
func (m *Monitors) ValidIDs(ctx context.Context) (map[latency.MonitorID]struct{}, error) {
	rows, err := m.db.Pool().Query(ctx, `SELECT monitor_id FROM monitor`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	set := make(map[latency.MonitorID]struct{})
	for rows.Next() {
		var id uint32
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		set[latency.MonitorID(id)] = struct{}{}
	}
	return set, rows.Err()
}

// Customers reads customer capability bits.
type Customers struct {
	db *dbpool.Manager
}

func NewCustomers(db *dbpool.Manager) *Customers {
	return &Customers{db: db}
}

// Capabilities looks up one customer's capability record.
func (c *Customers) Capabilities(ctx context.Context, id latency.CustomerID, threadID string) latency.CustomerCapabilities {
	var caps latency.CustomerCapabilities
	caps.CustomerID = id
	err := c.db.Pool().QueryRow(ctx, `
		SELECT polling_interval, max_monitors, retention_days, flags
		FROM customer_capabilities WHERE customer_id = $1`, uint32(id)).
		Scan(&caps.PollingInterval, &caps.MaxMonitors, &caps.RetentionDays, &caps.Flags)
	if err == pgx.ErrNoRows {
		return latency.InvalidCustomerCapabilities
	}
	if err != nil {
		log.Printf("[catalog:customers] thread=%s Capabilities(%d): %v", threadID, id, err)
		return latency.InvalidCustomerCapabilities
	}
	return caps
}
