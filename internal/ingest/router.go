package ingest

import (
	"context"
	"sync"

	"github.com/flowindex/latencyctl/internal/catalog"
	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/latency"
)

// Router lazily instantiates one RegionIngestor the first time a region id
// is used and hands it back thereafter (spec §4.D). AddEntries, the bulk form
// of addEntry (AddEntry), is the entry point the binary ingest handler calls.
type Router struct {
	ctx context.Context // application lifetime, NOT a per-request context

	db        *dbpool.Manager
	servers   *catalog.Servers
	monitors  *catalog.Monitors
	customers *catalog.Customers

	mu        sync.Mutex
	ingestors map[latency.RegionID]*RegionIngestor
}

// NewRouter constructs a Router. ctx governs the lifetime of every
// lazily-created RegionIngestor's worker goroutine (spec §4.C's single
// long-lived worker thread), so callers must pass the application's
// run context here, never an inbound HTTP request's context — the latter
// is canceled the instant the handler returns, which would kill the
// worker after its first request.
func NewRouter(ctx context.Context, db *dbpool.Manager, servers *catalog.Servers, monitors *catalog.Monitors, customers *catalog.Customers) *Router {
	return &Router{
		ctx:       ctx,
		db:        db,
		servers:   servers,
		monitors:  monitors,
		customers: customers,
		ingestors: make(map[latency.RegionID]*RegionIngestor),
	}
}

// AddEntry enqueues a sample for regionID, creating and starting that
// region's RegionIngestor on first use.
func (r *Router) AddEntry(regionID latency.RegionID, sample latency.Sample) {
	r.ingestorFor(regionID).Enqueue(sample)
}

// AddEntries is the bulk form of AddEntry, used by the worker upload
// handler to hand over an entire batch decoded from one POST body.
func (r *Router) AddEntries(regionID latency.RegionID, samples []latency.Sample) {
	r.ingestorFor(regionID).EnqueueMany(samples)
}

func (r *Router) ingestorFor(regionID latency.RegionID) *RegionIngestor {
	r.mu.Lock()
	defer r.mu.Unlock()

	ri, ok := r.ingestors[regionID]
	if !ok {
		ri = New(regionID, r.db, r.servers, r.monitors, r.customers)
		ri.Start(r.ctx)
		r.ingestors[regionID] = ri
	}
	return ri
}

// Shutdown stops and flushes every region ingestor that has been created.
func (r *Router) Shutdown(ctx context.Context) {
	r.mu.Lock()
	ingestors := make([]*RegionIngestor, 0, len(r.ingestors))
	for _, ri := range r.ingestors {
		ingestors = append(ingestors, ri)
	}
	r.mu.Unlock()

	for _, ri := range ingestors {
		ri.Shutdown(ctx)
	}
}
