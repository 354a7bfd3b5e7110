// Package dbpool provides the process-wide database handle pool described in
// spec §5. The original design keys one handle per caller-supplied thread id;
// here that becomes Acquire/Release scoped to each public operation against a
// single pgxpool.Pool, with the caller's id carried only for logging.
package dbpool

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PlotWorkerKey is a reserved caller id, named after the source's
// databaseThreadId = (unsigned)-10 sentinel so it can never collide with a
// real request thread id. No code passes it: the plot worker runs no
// queries, and the plot handlers in internal/api fetch their data with their
// own per-request thread id before enqueuing a render.
const PlotWorkerKey = "plotworker"

// Manager owns the single pgxpool.Pool for the process. Acquire checks out a
// connection labelled with a caller-supplied key, which appears only in its
// error message. The Aggregator, RegionIngestor, catalogs and query layer
// all run their statements on Pool() directly.
type Manager struct {
	pool *pgxpool.Pool
}

// Open connects to dbURL, applying DB_MAX_OPEN_CONNS/DB_MAX_IDLE_CONNS
// overrides from the environment the same way the teacher's Repository
// constructor does.
func Open(ctx context.Context, dbURL string) (*Manager, error) {
	cfg, err := pgxpool.ParseConfig(dbURL)
	if err != nil {
		return nil, fmt.Errorf("dbpool: parse url: %w", err)
	}

	if v := os.Getenv("DB_MAX_OPEN_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MaxConns = int32(n)
		}
	}
	if v := os.Getenv("DB_MAX_IDLE_CONNS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.MinConns = int32(n)
		}
	}
	if cfg.MaxConnLifetime == 0 {
		cfg.MaxConnLifetime = time.Hour
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("dbpool: connect: %w", err)
	}
	return &Manager{pool: pool}, nil
}

// Pool returns the underlying pool for callers that manage their own
// transactions (RegionIngestor sub-batches, Aggregator ticks).
func (m *Manager) Pool() *pgxpool.Pool {
	return m.pool
}

// Acquire checks out a single connection for one public operation. Callers
// must call Release (typically via defer) on every exit path; core code
// must never leak a handle across a request boundary (spec §5).
func (m *Manager) Acquire(ctx context.Context, callerKey string) (*pgxpool.Conn, error) {
	conn, err := m.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("dbpool: acquire for %s: %w", callerKey, err)
	}
	return conn, nil
}

// Close shuts down the pool. Safe to call once at process shutdown.
func (m *Manager) Close() {
	m.pool.Close()
}
