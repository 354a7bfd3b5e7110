// Package config collects the environment-variable driven settings read
// once at process start (spec §5's "parameters guarded by a mutex so
// operators can retune live" covers in-process retuning; config.Load covers
// the initial values), following the teacher's os.Getenv-with-inline-default
// idiom.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full set of process-start settings for cmd/latencyctl.
type Config struct {
	DatabaseURL       string
	APIPort           int
	OperatorJWTSecret string
	SeedFixturesPath  string
	AggregatorTiers   []AggregatorTier
	DispatchMaxIdle   time.Duration
}

// AggregatorTier is one entry in the re-aggregation chain (spec §4.E): a
// tier reads InputTable and writes OutputTable on a ResamplePeriod tick,
// retaining rows no older than ExpungePeriod.
type AggregatorTier struct {
	Name             string
	InputTable       string
	OutputTable      string
	InputTableMaxAge time.Duration
	ResamplePeriod   time.Duration
	ExpungePeriod    time.Duration
	InputAggregated  bool
}

// defaultTiers is the two-tier chain spec.md's Aggregator examples assume:
// raw samples roll up into 5-minute buckets, which in turn roll up into
// hourly buckets. Load always uses this chain; no environment variable
// overrides it. The static default lives here so a bare `go run` has sane
// behavior without a config file, matching the teacher's
// no-hot-reload/defaults-from-env stance.
func defaultTiers() []AggregatorTier {
	return []AggregatorTier{
		{
			Name:             "raw-to-5m",
			InputTable:       "latency_seconds",
			OutputTable:      "latency_aggregated",
			InputTableMaxAge: 10 * time.Minute,
			ResamplePeriod:   5 * time.Minute,
			ExpungePeriod:    7 * 24 * time.Hour,
			InputAggregated:  false,
		},
		{
			Name:             "5m-to-1h",
			InputTable:       "latency_aggregated",
			OutputTable:      "latency_aggregated",
			InputTableMaxAge: 2 * time.Hour,
			ResamplePeriod:   time.Hour,
			ExpungePeriod:    90 * 24 * time.Hour,
			InputAggregated:  true,
		},
	}
}

// Load reads process configuration from the environment. It never fails:
// every setting has a usable default, matching the teacher's main.go, which
// treats a missing env var as "use the default" rather than a startup error.
func Load() *Config {
	return &Config{
		DatabaseURL:       getenv("DATABASE_URL", "postgres://localhost:5432/latencyctl?sslmode=disable"),
		APIPort:           getenvInt("API_PORT", 8080),
		OperatorJWTSecret: os.Getenv("OPERATOR_JWT_SECRET"),
		SeedFixturesPath:  os.Getenv("SEED_FIXTURES_PATH"),
		AggregatorTiers:   defaultTiers(),
		DispatchMaxIdle:   getenvDuration("DISPATCH_MAX_IDLE", time.Hour),
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fallback
	}
	return d
}
