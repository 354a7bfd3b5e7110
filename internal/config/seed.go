package config

import (
	"context"
	"fmt"

	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/latency"
)

var capabilityByName = map[string]latency.CapabilityBit{
	"active":                  latency.CapabilityActive,
	"multi_region":            latency.CapabilityMultiRegion,
	"supports_wordpress":      latency.CapabilitySupportsWordPress,
	"supports_rest":           latency.CapabilitySupportsREST,
	"supports_content_check":  latency.CapabilitySupportsContentCheck,
	"supports_keywords":       latency.CapabilitySupportsKeywords,
	"supports_post":           latency.CapabilitySupportsPOST,
	"supports_latency":        latency.CapabilitySupportsLatency,
	"supports_ssl_expiration": latency.CapabilitySupportsSSLExpiration,
	"supports_ping_polling":   latency.CapabilitySupportsPingPolling,
	"supports_blacklist":      latency.CapabilitySupportsBlacklist,
	"supports_domain_expiry":  latency.CapabilitySupportsDomainExpiry,
	"supports_maintenance":    latency.CapabilitySupportsMaintenance,
	"supports_rollups":        latency.CapabilitySupportsRollups,
	"paused":                  latency.CapabilityPaused,
}

func flagsFromNames(names []string) latency.CapabilityBit {
	var flags latency.CapabilityBit
	for _, n := range names {
		flags |= capabilityByName[n]
	}
	return flags
}

// Seed inserts every fixture row with ON CONFLICT DO NOTHING, so re-running
// it against an already-seeded database is harmless. Intended for local/dev
// bring-up only, invoked from cmd/latencyctl/main.go when SeedFixturesPath is
// set.
func Seed(ctx context.Context, db *dbpool.Manager, f *Fixtures) error {
	pool := db.Pool()

	for _, r := range f.Regions {
		if _, err := pool.Exec(ctx, `
			INSERT INTO regions (region_id, name) VALUES ($1, $2)
			ON CONFLICT (region_id) DO NOTHING`, r.RegionID, r.Name); err != nil {
			return fmt.Errorf("config: seed region %d: %w", r.RegionID, err)
		}
	}

	for _, s := range f.Servers {
		if _, err := pool.Exec(ctx, `
			INSERT INTO servers (server_id, region_id, identifier, status, monitors_per_second, cpu_loading, memory_loading)
			VALUES ($1, $2, $3, $4, 0, 0, 0)
			ON CONFLICT (server_id) DO NOTHING`,
			s.ServerID, s.RegionID, s.Identifier, uint8(latency.ServerStatusActive)); err != nil {
			return fmt.Errorf("config: seed server %d: %w", s.ServerID, err)
		}
	}

	for _, c := range f.Customers {
		flags := flagsFromNames(c.Capabilities)
		if _, err := pool.Exec(ctx, `
			INSERT INTO customer_capabilities (customer_id, polling_interval, max_monitors, retention_days, flags)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (customer_id) DO NOTHING`,
			c.CustomerID, c.PollingInterval, c.MaxMonitors, c.RetentionDays, uint32(flags)); err != nil {
			return fmt.Errorf("config: seed customer %d: %w", c.CustomerID, err)
		}
	}

	for _, m := range f.Monitors {
		if _, err := pool.Exec(ctx, `
			INSERT INTO monitor (monitor_id, customer_id, host_scheme_id)
			VALUES ($1, $2, $3)
			ON CONFLICT (monitor_id) DO NOTHING`,
			m.MonitorID, m.CustomerID, m.HostSchemeID); err != nil {
			return fmt.Errorf("config: seed monitor %d: %w", m.MonitorID, err)
		}
	}

	return nil
}
