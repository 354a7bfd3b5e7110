// Package aggregator implements the time-windowed resampler that compresses
// aging raw (or already-aggregated) samples into fixed-period statistical
// summaries, and enforces the retention horizon on both tables (spec §4.E).
package aggregator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/eventbus"
	"github.com/flowindex/latencyctl/internal/latency"
	"github.com/flowindex/latencyctl/internal/zoran"
)

const dbThreadKey = "aggregator"

// Params are the live-tunable knobs of one Aggregator instance (spec §5:
// "parameters are guarded by a mutex so operators can retune live").
// Tiering two Aggregator instances — one raw->short-window, one
// aggregated->long-window — implements the re-aggregation chain described in
// spec §4.E; the component itself only knows about one input/output pair.
type Params struct {
	InputTable       string
	OutputTable      string
	InputTableMaxAge time.Duration
	ResamplePeriod   time.Duration
	ExpungePeriod    time.Duration
	InputAggregated  bool
}

func validTableName(name string) bool {
	return name == "latency_seconds" || name == "latency_aggregated"
}

// Aggregator owns a single background tick loop over one input/output table
// pair. Multiple Aggregator instances can be composed into a re-aggregation
// chain; each is independent and single-threaded.
type Aggregator struct {
	db  *dbpool.Manager
	bus *eventbus.Bus

	mu     sync.Mutex
	params Params

	rng *xoshiro256pp

	stop chan struct{}
	done chan struct{}
}

// New constructs an Aggregator. Call Start to begin its tick loop.
func New(db *dbpool.Manager, params Params) *Aggregator {
	return &Aggregator{
		db:     db,
		params: params,
		rng:    newXoshiro256pp(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// SetEventBus attaches the bus a successful Tick publishes "aggregator.tick"
// events to. Nil (the default) means ticks are silent. main.go attaches a bus
// to every tier; whether those events reach internal/dispatch depends on its
// tick notifier, which subscribes only when AGGREGATOR_WEBHOOK_URL is set.
func (a *Aggregator) SetEventBus(bus *eventbus.Bus) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.bus = bus
}

// SetParameters retunes a running Aggregator; takes effect on the next tick.
func (a *Aggregator) SetParameters(p Params) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.params = p
}

func (a *Aggregator) snapshotParams() Params {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.params
}

// Start launches the background tick loop, running Tick every
// params.ResamplePeriod.
func (a *Aggregator) Start(ctx context.Context) {
	go a.run(ctx)
}

// Shutdown stops the tick loop and waits for the in-flight tick to finish.
func (a *Aggregator) Shutdown(ctx context.Context) {
	close(a.stop)
	select {
	case <-a.done:
	case <-ctx.Done():
	}
}

func (a *Aggregator) run(ctx context.Context) {
	defer close(a.done)

	period := a.snapshotParams().ResamplePeriod
	if period <= 0 {
		period = time.Hour
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			if err := a.Tick(ctx); err != nil {
				log.Printf("[aggregator] tick failed: %v", err)
			}
		}
	}
}

type rawContribution struct {
	monitorID latency.MonitorID
	serverID  latency.ServerID
	rowEnd    uint32
	repTS     uint32
	repVal    uint32
	stat      latency.Contribution
}

// Tick runs one pass of spec §4.E steps 1-6: compute the eligibility
// threshold, partition eligible input rows into resample windows, write one
// summary row per window, delete the now-aggregated input rows, and run the
// best-effort retention sweep.
func (a *Aggregator) Tick(ctx context.Context) error {
	p := a.snapshotParams()
	if !validTableName(p.InputTable) || !validTableName(p.OutputTable) {
		return fmt.Errorf("aggregator: invalid table configuration %q -> %q", p.InputTable, p.OutputTable)
	}
	if p.ResamplePeriod <= 0 {
		return fmt.Errorf("aggregator: resample period must be positive")
	}

	resample := uint32(p.ResamplePeriod.Seconds())
	nowZoran := zoran.ToZoran(time.Now().Unix())

	var threshold uint32
	maxAge := uint32(p.InputTableMaxAge.Seconds())
	if nowZoran > maxAge {
		threshold = nowZoran - maxAge
	}
	threshold -= threshold % resample

	if err := a.aggregateEligible(ctx, p, threshold, resample); err != nil {
		return err
	}

	a.sweepRetention(ctx, p, nowZoran)

	a.mu.Lock()
	bus := a.bus
	a.mu.Unlock()
	if bus != nil {
		bus.Publish(eventbus.Event{
			Type:      "aggregator.tick",
			Timestamp: time.Now(),
			Data: map[string]string{
				"input_table":  p.InputTable,
				"output_table": p.OutputTable,
			},
		})
	}

	return nil
}

func (a *Aggregator) aggregateEligible(ctx context.Context, p Params, threshold, resample uint32) error {
	tx, err := a.db.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	contributions, err := a.readEligible(ctx, tx, p, threshold)
	if err != nil {
		return err
	}
	if len(contributions) == 0 {
		return tx.Commit(ctx)
	}

	// Delete the consumed input rows before writing their summaries: when a
	// tier re-aggregates into its own table (5m-to-1h), InputTable and
	// OutputTable are the same table, and a newly written window's
	// timestamp is copied from one of the rows just read, so it also
	// satisfies "< threshold". Deleting first means that row doesn't exist
	// yet to be caught by this DELETE; deleting after would erase the
	// summary row in the same breath it was inserted.
	deleteSQL := fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, p.InputTable)
	if _, err := tx.Exec(ctx, deleteSQL, threshold); err != nil {
		return err
	}

	windows := partitionWindows(contributions, resample)
	for _, w := range windows {
		if err := a.writeWindow(ctx, tx, p.OutputTable, w); err != nil {
			return err
		}
	}

	return tx.Commit(ctx)
}

func (a *Aggregator) readEligible(ctx context.Context, tx pgx.Tx, p Params, threshold uint32) ([]rawContribution, error) {
	if p.InputAggregated {
		rows, err := tx.Query(ctx, fmt.Sprintf(`
			SELECT monitor_id, server_id, timestamp, latency,
			       end_timestamp, mean_latency, variance_latency, minimum_latency, maximum_latency, number_samples
			FROM %s WHERE timestamp < $1
			ORDER BY monitor_id ASC, server_id ASC, timestamp ASC`, p.InputTable), threshold)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		var out []rawContribution
		for rows.Next() {
			var c rawContribution
			var mean, variance float64
			var min, max, n uint32
			if err := rows.Scan(&c.monitorID, &c.serverID, &c.repTS, &c.repVal, &c.rowEnd, &mean, &variance, &min, &max, &n); err != nil {
				return nil, err
			}
			c.stat = latency.Contribution{N: n, Mean: mean, Variance: variance, Min: min, Max: max}
			out = append(out, c)
		}
		return out, rows.Err()
	}

	rows, err := tx.Query(ctx, fmt.Sprintf(`
		SELECT monitor_id, server_id, timestamp, latency
		FROM %s WHERE timestamp < $1
		ORDER BY monitor_id ASC, server_id ASC, timestamp ASC`, p.InputTable), threshold)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []rawContribution
	for rows.Next() {
		var c rawContribution
		if err := rows.Scan(&c.monitorID, &c.serverID, &c.repTS, &c.repVal); err != nil {
			return nil, err
		}
		c.rowEnd = c.repTS
		c.stat = latency.Contribution{N: 1, Mean: float64(c.repVal), Variance: 0, Min: c.repVal, Max: c.repVal}
		out = append(out, c)
	}
	return out, rows.Err()
}

type window struct {
	monitorID latency.MonitorID
	serverID  latency.ServerID
	start     uint32
	end       uint32
	stats     []latency.Contribution
	repTS     []uint32
	repVal    []uint32
}

// partitionWindows implements spec §4.E step 3: a new window begins when
// monitorId or serverId changes, or when the current row's end timestamp
// reaches/exceeds the current window's end.
func partitionWindows(rows []rawContribution, resample uint32) []window {
	var out []window
	var cur *window

	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}

	for _, r := range rows {
		needsNew := cur == nil || r.monitorID != cur.monitorID || r.serverID != cur.serverID || r.rowEnd >= cur.end
		if needsNew {
			flush()
			start := r.rowEnd - (r.rowEnd % resample)
			cur = &window{
				monitorID: r.monitorID,
				serverID:  r.serverID,
				start:     start,
				end:       start + resample,
			}
		}
		cur.stats = append(cur.stats, r.stat)
		cur.repTS = append(cur.repTS, r.repTS)
		cur.repVal = append(cur.repVal, r.repVal)
	}
	flush()
	return out
}

func (a *Aggregator) writeWindow(ctx context.Context, tx pgx.Tx, outputTable string, w window) error {
	mean, variance, min, max, n, ok := latency.Pool(w.stats)
	if !ok {
		return nil
	}

	idx := a.rng.intn(len(w.repTS))
	repTS, repVal := w.repTS[idx], w.repVal[idx]

	sql := fmt.Sprintf(`
		INSERT INTO %s (monitor_id, server_id, timestamp, latency, start_timestamp, end_timestamp,
		                 mean_latency, variance_latency, minimum_latency, maximum_latency, number_samples)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT DO NOTHING`, outputTable)

	_, err := tx.Exec(ctx, sql,
		uint32(w.monitorID), uint16(w.serverID), repTS, repVal, w.start, w.end,
		mean, variance, min, max, n)
	return err
}

// sweepRetention deletes rows older than expungePeriod from both tables.
// Best-effort: failures are logged, never returned, so a retention failure
// never masks a successful aggregation (spec §4.E step 6, §7).
func (a *Aggregator) sweepRetention(ctx context.Context, p Params, nowZoran uint32) {
	var expungeThreshold uint32
	expunge := uint32(p.ExpungePeriod.Seconds())
	if nowZoran > expunge {
		expungeThreshold = nowZoran - expunge
	}

	for _, table := range []string{"latency_seconds", "latency_aggregated"} {
		tag, err := a.db.Pool().Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE timestamp < $1`, table), expungeThreshold)
		if err != nil {
			log.Printf("[aggregator] retention sweep on %s failed: %v", table, err)
			continue
		}
		if n := tag.RowsAffected(); n > 0 {
			log.Printf("[aggregator] retention sweep on %s removed %d rows", table, n)
		}
	}
}

// DeleteByCustomerID deletes every row in both tables belonging to any
// monitor owned by one of the given customers, in one transaction. Used by
// account-closure flows (spec §4.E).
func (a *Aggregator) DeleteByCustomerID(ctx context.Context, customerIDs map[latency.CustomerID]struct{}) error {
	if len(customerIDs) == 0 {
		return nil
	}
	ids := make([]uint32, 0, len(customerIDs))
	for id := range customerIDs {
		ids = append(ids, uint32(id))
	}

	tx, err := a.db.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	for _, table := range []string{"latency_seconds", "latency_aggregated"} {
		sql := fmt.Sprintf(`
			DELETE FROM %s WHERE monitor_id IN (
				SELECT monitor_id FROM monitor WHERE customer_id = ANY($1)
			)`, table)
		if _, err := tx.Exec(ctx, sql, ids); err != nil {
			return fmt.Errorf("aggregator: delete by customer on %s: %w", table, err)
		}
	}

	return tx.Commit(ctx)
}
