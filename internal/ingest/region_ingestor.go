// Package ingest implements the per-region write path into latency_seconds
// (RegionIngestor, spec §4.C) and the lazy region->ingestor router
// (IngestRouter, spec §4.D).
package ingest

import (
	"context"
	"log"
	"strconv"
	"sync"
	"time"

	"github.com/flowindex/latencyctl/internal/catalog"
	"github.com/flowindex/latencyctl/internal/dbpool"
	"github.com/flowindex/latencyctl/internal/latency"
)

const (
	queueCheckInterval             = 10 * time.Second
	maxCached                      = 8_000_000
	numberCyclesBeforeForcedCommit = 30
	maxRowsPerTransaction          = 100
	retryInterval                  = 30 * time.Second
	queuePreReserveFactor          = 1.5
)

// RegionIngestor owns the write path into latency_seconds for exactly one
// region. Enqueue/EnqueueMany are safe to call from any goroutine; a single
// background worker drains the queue.
type RegionIngestor struct {
	regionID  latency.RegionID
	db        *dbpool.Manager
	servers   *catalog.Servers
	monitors  *catalog.Monitors
	customers *catalog.Customers

	mu    sync.Mutex
	queue []latency.Sample

	kick     chan struct{}
	stop     chan struct{}
	done     chan struct{}
	dbThread string
}

// New constructs a RegionIngestor for one region. Call Start to begin its
// background worker.
func New(regionID latency.RegionID, db *dbpool.Manager, servers *catalog.Servers, monitors *catalog.Monitors, customers *catalog.Customers) *RegionIngestor {
	return &RegionIngestor{
		regionID:  regionID,
		db:        db,
		servers:   servers,
		monitors:  monitors,
		customers: customers,
		queue:     make([]latency.Sample, 0, int(maxCached*queuePreReserveFactor)),
		kick:      make(chan struct{}, 1),
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
		dbThread:  regionIngestorThreadKey(regionID),
	}
}

func regionIngestorThreadKey(regionID latency.RegionID) string {
	return "ingestor-" + strconv.Itoa(int(regionID))
}

// Enqueue appends one sample to the in-memory queue. Non-blocking; producers
// keep appending even past maxCached, trading bounded memory for never
// rejecting worker data (spec §4.C back-pressure).
func (ri *RegionIngestor) Enqueue(s latency.Sample) {
	ri.mu.Lock()
	ri.queue = append(ri.queue, s)
	ri.mu.Unlock()
	ri.Kick()
}

// EnqueueMany appends a batch of samples under a single lock acquisition.
func (ri *RegionIngestor) EnqueueMany(samples []latency.Sample) {
	if len(samples) == 0 {
		return
	}
	ri.mu.Lock()
	ri.queue = append(ri.queue, samples...)
	ri.mu.Unlock()
	ri.Kick()
}

// Kick wakes the background worker so it re-evaluates the flush condition
// without waiting for the next queueCheckInterval tick.
func (ri *RegionIngestor) Kick() {
	select {
	case ri.kick <- struct{}{}:
	default:
	}
}

// Start launches the background worker. Shutdown must be called to stop it
// and flush any remaining data.
func (ri *RegionIngestor) Start(ctx context.Context) {
	log.Printf("[ingestor:%d] starting", ri.regionID)
	go ri.run(ctx)
}

// Shutdown signals the worker to stop, waits for its final flush, and
// returns once the worker has exited.
func (ri *RegionIngestor) Shutdown(ctx context.Context) {
	close(ri.stop)
	select {
	case <-ri.done:
	case <-ctx.Done():
	}
}

func (ri *RegionIngestor) run(ctx context.Context) {
	defer close(ri.done)

	ticker := time.NewTicker(queueCheckInterval)
	defer ticker.Stop()

	cyclesWithData := 0

	for {
		select {
		case <-ctx.Done():
			ri.flushAll(context.Background())
			return
		case <-ri.stop:
			ri.flushAll(context.Background())
			return
		case <-ticker.C:
		case <-ri.kick:
		}

		n := ri.queueLen()
		if n == 0 {
			cyclesWithData = 0
			continue
		}
		cyclesWithData++

		if n >= maxCached || cyclesWithData >= numberCyclesBeforeForcedCommit {
			ri.flushAll(ctx)
			cyclesWithData = 0
		}
	}
}

func (ri *RegionIngestor) queueLen() int {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	return len(ri.queue)
}

// swapQueue atomically replaces the live queue with a fresh one and returns
// the captured batch (spec §4.C step 3). The replacement starts empty and
// grows by ordinary append doubling rather than re-reserving the full
// maxCached*queuePreReserveFactor capacity on every flush: that upfront
// reservation only makes sense once, at construction, to absorb a first
// burst without reallocating mid-burst — repeating it on every flush
// allocates ~maxCached*queuePreReserveFactor worth of memory regardless of
// how few samples are actually queued.
func (ri *RegionIngestor) swapQueue() []latency.Sample {
	ri.mu.Lock()
	defer ri.mu.Unlock()
	if len(ri.queue) == 0 {
		return nil
	}
	captured := ri.queue
	ri.queue = make([]latency.Sample, 0, maxRowsPerTransaction)
	return captured
}

// flushAll drains the entire current queue in sub-batches, retrying each
// sub-batch indefinitely on failure so no data is lost (spec §4.C step 5).
// The monitor/server validity sets are loaded once for the whole flush,
// not once per 100-row sub-batch, matching the "batches its own lookups
// rather than one call per row" rationale in internal/catalog's doc comment.
func (ri *RegionIngestor) flushAll(ctx context.Context) {
	batch := ri.swapQueue()
	if len(batch) == 0 {
		return
	}

	validMonitors, validServers, ok := ri.loadValidityWithRetry(ctx)
	if !ok {
		return // ctx canceled while retrying; batch is lost only on shutdown
	}

	for len(batch) > 0 {
		n := maxRowsPerTransaction
		if n > len(batch) {
			n = len(batch)
		}
		sub := batch[:n]
		batch = batch[n:]
		ri.commitSubBatchWithRetry(ctx, sub, validMonitors, validServers)
	}
}

// loadValidityWithRetry fetches the monitor/server validity sets once per
// flush, retrying indefinitely on error like commitSubBatchWithRetry so a
// transient catalog-query failure never silently drops an already-captured
// batch. Returns ok=false only when ctx is canceled first.
func (ri *RegionIngestor) loadValidityWithRetry(ctx context.Context) (map[latency.MonitorID]struct{}, map[latency.ServerID]struct{}, bool) {
	for {
		validMonitors, err := ri.monitors.ValidIDs(ctx)
		if err == nil {
			validServers, err := ri.servers.ValidIDs(ctx)
			if err == nil {
				return validMonitors, validServers, true
			}
			log.Printf("[ingestor:%d] loading valid server ids failed, retrying in %s: %v", ri.regionID, retryInterval, err)
		} else {
			log.Printf("[ingestor:%d] loading valid monitor ids failed, retrying in %s: %v", ri.regionID, retryInterval, err)
		}

		select {
		case <-ctx.Done():
			return nil, nil, false
		case <-time.After(retryInterval):
		}
	}
}

func (ri *RegionIngestor) commitSubBatchWithRetry(ctx context.Context, sub []latency.Sample, validMonitors map[latency.MonitorID]struct{}, validServers map[latency.ServerID]struct{}) {
	for {
		if err := ri.commitSubBatch(ctx, sub, validMonitors, validServers); err == nil {
			return
		} else {
			log.Printf("[ingestor:%d] sub-batch commit failed, retrying in %s: %v", ri.regionID, retryInterval, err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(retryInterval):
		}
	}
}

// commitSubBatch validates and inserts one sub-batch inside a single
// transaction. Rows referencing an unknown monitor/server, or with an
// out-of-bound latency, are silently skipped (spec §4.C step 4, §7).
func (ri *RegionIngestor) commitSubBatch(ctx context.Context, sub []latency.Sample, validMonitors map[latency.MonitorID]struct{}, validServers map[latency.ServerID]struct{}) error {
	var monitorCustomer map[latency.MonitorID]latency.CustomerID
	var customerCaps map[latency.CustomerID]latency.CustomerCapabilities
	if ri.customers != nil {
		monitorCustomer, customerCaps = ri.loadCapabilityIndex(ctx, sub)
	}

	tx, err := ri.db.Pool().Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	var inserted, dropped int
	for _, s := range sub {
		if !s.Valid() {
			dropped++
			continue
		}
		if _, ok := validMonitors[s.MonitorID]; !ok {
			dropped++
			continue
		}
		if _, ok := validServers[s.ServerID]; !ok {
			dropped++
			continue
		}
		if customerID, ok := monitorCustomer[s.MonitorID]; ok {
			caps := customerCaps[customerID]
			if caps == latency.InvalidCustomerCapabilities || !caps.Has(latency.CapabilitySupportsLatency) || caps.Has(latency.CapabilityPaused) {
				dropped++
				continue
			}
		}

		_, err := tx.Exec(ctx, `
			INSERT INTO latency_seconds (monitor_id, server_id, timestamp, latency)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT DO NOTHING`,
			uint32(s.MonitorID), uint16(s.ServerID), s.ZoranTS, s.LatencyMicros)
		if err != nil {
			return err
		}
		inserted++
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}
	log.Printf("[ingestor:%d] flushed sub-batch: inserted=%d dropped=%d", ri.regionID, inserted, dropped)
	return nil
}

// loadCapabilityIndex resolves, for the distinct monitors referenced by sub,
// the owning customer and that customer's capability bits. One query per
// distinct monitor/customer rather than one per sample, matching the
// "batches its own lookups" rationale in spec §4.B.
func (ri *RegionIngestor) loadCapabilityIndex(ctx context.Context, sub []latency.Sample) (map[latency.MonitorID]latency.CustomerID, map[latency.CustomerID]latency.CustomerCapabilities) {
	monitorCustomer := make(map[latency.MonitorID]latency.CustomerID)
	customerCaps := make(map[latency.CustomerID]latency.CustomerCapabilities)

	seenMonitor := make(map[latency.MonitorID]struct{})
	for _, s := range sub {
		if _, ok := seenMonitor[s.MonitorID]; ok {
			continue
		}
		seenMonitor[s.MonitorID] = struct{}{}

		mon := ri.monitors.ByID(ctx, s.MonitorID, ri.dbThread)
		if mon == latency.InvalidMonitor {
			continue
		}
		monitorCustomer[s.MonitorID] = mon.CustomerID

		if _, ok := customerCaps[mon.CustomerID]; !ok {
			customerCaps[mon.CustomerID] = ri.customers.Capabilities(ctx, mon.CustomerID, ri.dbThread)
		}
	}
	return monitorCustomer, customerCaps
}
