package aggregator

import (
	"testing"

	"github.com/flowindex/latencyctl/internal/latency"
)

func TestPartitionWindowsAlignsToResamplePeriod(t *testing.T) {
	t.Parallel()

	// Four raw samples for the same (monitor, server): {100,200,300,400}us at
	// zoran timestamps {100,200,300,400}, resamplePeriod=3600 (scenario S2).
	rows := []rawContribution{
		{monitorID: 7, serverID: 3, rowEnd: 100, repTS: 100, repVal: 100, stat: latency.Contribution{N: 1, Mean: 100, Min: 100, Max: 100}},
		{monitorID: 7, serverID: 3, rowEnd: 200, repTS: 200, repVal: 200, stat: latency.Contribution{N: 1, Mean: 200, Min: 200, Max: 200}},
		{monitorID: 7, serverID: 3, rowEnd: 300, repTS: 300, repVal: 300, stat: latency.Contribution{N: 1, Mean: 300, Min: 300, Max: 300}},
		{monitorID: 7, serverID: 3, rowEnd: 400, repTS: 400, repVal: 400, stat: latency.Contribution{N: 1, Mean: 400, Min: 400, Max: 400}},
	}

	windows := partitionWindows(rows, 3600)
	if len(windows) != 1 {
		t.Fatalf("got %d windows, want 1", len(windows))
	}
	w := windows[0]
	if w.start != 0 || w.end != 3600 {
		t.Fatalf("window = [%d,%d), want [0,3600)", w.start, w.end)
	}
	if w.end-w.start != 3600 {
		t.Fatalf("window width = %d, want 3600", w.end-w.start)
	}

	mean, variance, min, max, n, ok := latency.Pool(w.stats)
	if !ok {
		t.Fatal("Pool() not ok")
	}
	if mean != 250 || variance != 12500 || min != 100 || max != 400 || n != 4 {
		t.Fatalf("got mean=%v var=%v min=%d max=%d n=%d, want mean=250 var=12500 min=100 max=400 n=4",
			mean, variance, min, max, n)
	}
}

func TestPartitionWindowsSplitsOnMonitorChange(t *testing.T) {
	t.Parallel()

	rows := []rawContribution{
		{monitorID: 1, serverID: 1, rowEnd: 100, repTS: 100, repVal: 10, stat: latency.Contribution{N: 1, Mean: 10, Min: 10, Max: 10}},
		{monitorID: 2, serverID: 1, rowEnd: 100, repTS: 100, repVal: 20, stat: latency.Contribution{N: 1, Mean: 20, Min: 20, Max: 20}},
	}

	windows := partitionWindows(rows, 3600)
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2 (one per monitor)", len(windows))
	}
}

func TestPartitionWindowsSplitsWhenWindowExceeded(t *testing.T) {
	t.Parallel()

	rows := []rawContribution{
		{monitorID: 1, serverID: 1, rowEnd: 100, repTS: 100, repVal: 10, stat: latency.Contribution{N: 1, Mean: 10, Min: 10, Max: 10}},
		{monitorID: 1, serverID: 1, rowEnd: 3700, repTS: 3700, repVal: 20, stat: latency.Contribution{N: 1, Mean: 20, Min: 20, Max: 20}},
	}

	windows := partitionWindows(rows, 3600)
	if len(windows) != 2 {
		t.Fatalf("got %d windows, want 2 (3700 is in the next window)", len(windows))
	}
	if windows[0].start != 0 || windows[0].end != 3600 {
		t.Fatalf("window 0 = [%d,%d), want [0,3600)", windows[0].start, windows[0].end)
	}
	if windows[1].start != 3600 || windows[1].end != 7200 {
		t.Fatalf("window 1 = [%d,%d), want [3600,7200)", windows[1].start, windows[1].end)
	}
}

func TestXoshiroProducesVariedDraws(t *testing.T) {
	t.Parallel()

	rng := newXoshiro256pp()
	seen := make(map[int]bool)
	for i := 0; i < 100; i++ {
		seen[rng.intn(10)] = true
	}
	if len(seen) < 2 {
		t.Fatalf("intn(10) over 100 draws only produced %d distinct values", len(seen))
	}
}
