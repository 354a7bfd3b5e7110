package ingest

import (
	"testing"

	"github.com/flowindex/latencyctl/internal/latency"
)

func TestEnqueueAndSwapQueue(t *testing.T) {
	t.Parallel()

	ri := &RegionIngestor{queue: make([]latency.Sample, 0, 8), kick: make(chan struct{}, 1)}

	ri.Enqueue(latency.Sample{MonitorID: 7, ServerID: 3, ShortSample: latency.ShortSample{ZoranTS: 1000, LatencyMicros: 500_000}})
	ri.Enqueue(latency.Sample{MonitorID: 7, ServerID: 3, ShortSample: latency.ShortSample{ZoranTS: 1001, LatencyMicros: 600_000}})

	if n := ri.queueLen(); n != 2 {
		t.Fatalf("queueLen() = %d, want 2", n)
	}

	batch := ri.swapQueue()
	if len(batch) != 2 {
		t.Fatalf("swapQueue() returned %d samples, want 2", len(batch))
	}
	if ri.queueLen() != 0 {
		t.Fatalf("queue not reset after swap")
	}

	// A second swap on an empty queue returns nil, not an empty allocation.
	if got := ri.swapQueue(); got != nil {
		t.Fatalf("swapQueue() on empty queue = %v, want nil", got)
	}
}

func TestSwapQueueIsFIFOWithinABatch(t *testing.T) {
	t.Parallel()

	ri := &RegionIngestor{queue: make([]latency.Sample, 0, 8), kick: make(chan struct{}, 1)}
	for i := uint32(0); i < 5; i++ {
		ri.Enqueue(latency.Sample{MonitorID: 1, ServerID: 1, ShortSample: latency.ShortSample{ZoranTS: i}})
	}

	batch := ri.swapQueue()
	for i, s := range batch {
		if s.ZoranTS != uint32(i) {
			t.Fatalf("batch[%d].ZoranTS = %d, want %d (FIFO order)", i, s.ZoranTS, i)
		}
	}
}
