package config

import (
	"os"

	"gopkg.in/yaml.v3"
)

// Fixtures is the optional dev/local seed data for bringing up a fresh
// database: a handful of regions, servers, customers, and monitors so the
// ingest/query surfaces have something to exercise without a full catalog
// admin flow (out of core scope per spec.md §1).
type Fixtures struct {
	Regions []FixtureRegion `yaml:"regions"`
	Servers []FixtureServer `yaml:"servers"`

	Customers []FixtureCustomer `yaml:"customers"`
	Monitors  []FixtureMonitor  `yaml:"monitors"`
}

type FixtureRegion struct {
	RegionID uint16 `yaml:"region_id"`
	Name     string `yaml:"name"`
}

type FixtureServer struct {
	ServerID   uint16 `yaml:"server_id"`
	RegionID   uint16 `yaml:"region_id"`
	Identifier string `yaml:"identifier"`
}

type FixtureCustomer struct {
	CustomerID      uint32   `yaml:"customer_id"`
	PollingInterval uint32   `yaml:"polling_interval"`
	MaxMonitors     uint32   `yaml:"max_monitors"`
	RetentionDays   uint32   `yaml:"retention_days"`
	Capabilities    []string `yaml:"capabilities"`
}

type FixtureMonitor struct {
	MonitorID    uint32 `yaml:"monitor_id"`
	CustomerID   uint32 `yaml:"customer_id"`
	HostSchemeID uint32 `yaml:"host_scheme_id"`
}

// LoadFixtures reads a YAML seed file. An empty path is not an error — it
// means "no seed data", the normal case outside local/dev bring-up.
func LoadFixtures(path string) (*Fixtures, error) {
	if path == "" {
		return &Fixtures{}, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var f Fixtures
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	return &f, nil
}
