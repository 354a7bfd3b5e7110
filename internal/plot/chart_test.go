package plot

import (
	"bytes"
	"math"
	"testing"
	"time"
)

func TestNiceRangeRoundsOutward(t *testing.T) {
	t.Parallel()

	lo, hi := niceRange(1.37, 4.11)
	if lo > 1.37 || hi < 4.11 {
		t.Fatalf("niceRange(1.37, 4.11) = (%v, %v), want bounds to contain the input range", lo, hi)
	}
}

func TestNiceRangeHandlesDegenerateInput(t *testing.T) {
	t.Parallel()

	lo, hi := niceRange(5, 5)
	if lo >= hi {
		t.Fatalf("niceRange(5, 5) = (%v, %v), want a non-degenerate range", lo, hi)
	}
}

// TestNiceRangeMatchesDistanceThresholdScoring pins niceRange(0.037, 0.083)
// to the two bounds the distanceThreshold-closest-tick-count scoring can
// produce, per spec S5 ("[0.03, 0.09] or [0.035, 0.085] depending on tick
// count winner"). A magnitude-only <=1/2/5/10 cutoff (rather than scoring
// span/rounding against distanceThreshold) would instead produce [0, 0.1].
func TestNiceRangeMatchesDistanceThresholdScoring(t *testing.T) {
	t.Parallel()

	lo, hi := niceRange(0.037, 0.083)

	const eps = 1e-9
	matches := func(wantLo, wantHi float64) bool {
		return math.Abs(lo-wantLo) < eps && math.Abs(hi-wantHi) < eps
	}
	if !matches(0.03, 0.09) && !matches(0.035, 0.085) {
		t.Fatalf("niceRange(0.037, 0.083) = (%v, %v), want (0.03, 0.09) or (0.035, 0.085)", lo, hi)
	}
}

func TestClampDimensionEnforcesBounds(t *testing.T) {
	t.Parallel()

	if got := clampDimension(0, defaultWidth); got != defaultWidth {
		t.Fatalf("clampDimension(0, ...) = %d, want fallback %d", got, defaultWidth)
	}
	if got := clampDimension(10, defaultWidth); got != minDimension {
		t.Fatalf("clampDimension(10, ...) = %d, want clamp to %d", got, minDimension)
	}
	if got := clampDimension(5000, defaultWidth); got != maxDimension {
		t.Fatalf("clampDimension(5000, ...) = %d, want clamp to %d", got, maxDimension)
	}
}

func TestRenderHistoryProducesAPNGImage(t *testing.T) {
	t.Parallel()

	base := time.Unix(1_609_484_400, 0)
	req := HistoryRequest{
		Title:          "latency",
		XAxisTitle:     "time",
		YAxisTitle:     "seconds",
		MaximumLatency: -1,
		MinimumLatency: -1,
		Width:          200,
		Height:         150,
		Format:         FormatPNG,
		Points: []HistoryPoint{
			{Timestamp: base, HasStats: false, Value: 0.1},
			{Timestamp: base.Add(time.Minute), HasStats: true, Mean: 0.2, StdDev: 0.05, Min: 0.1, Max: 0.3},
			{Timestamp: base.Add(2 * time.Minute), HasStats: true, Mean: 0.25, StdDev: 0.05, Min: 0.15, Max: 0.35},
		},
	}

	img, err := renderHistory(req)
	if err != nil {
		t.Fatalf("renderHistory() error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("renderHistory() did not return a PNG image")
	}
}

func TestClipToMondayWeekDropsSamplesOutsideFirstWeek(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, time.January, 1, 12, 0, 0, 0, time.UTC) // a Monday
	points := []HistoryPoint{
		{Timestamp: monday, Value: 0.1},
		{Timestamp: monday.AddDate(0, 0, 3), Value: 0.2},
		{Timestamp: monday.AddDate(0, 0, 9), Value: 0.3}, // next week, must be clipped
	}

	clipped, weekStart := clipToMondayWeek(points)
	if len(clipped) != 2 {
		t.Fatalf("clipToMondayWeek() kept %d points, want 2", len(clipped))
	}
	if !weekStart.Equal(time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("clipToMondayWeek() weekStart = %v, want 2024-01-01", weekStart)
	}
}

func TestDayOfWeekMapsMondayToOne(t *testing.T) {
	t.Parallel()

	weekStart := time.Date(2024, time.January, 1, 0, 0, 0, 0, time.UTC)
	if got := dayOfWeek(weekStart, weekStart); got != 1 {
		t.Fatalf("dayOfWeek(weekStart) = %v, want 1", got)
	}
	if got := dayOfWeek(weekStart.AddDate(0, 0, 6), weekStart); got != 7 {
		t.Fatalf("dayOfWeek(weekStart+6d) = %v, want 7", got)
	}
}

func TestRenderHistoryWithDowDateFormatProducesAPNGImage(t *testing.T) {
	t.Parallel()

	monday := time.Date(2024, time.January, 1, 8, 0, 0, 0, time.UTC)
	req := HistoryRequest{
		Title:          "latency",
		DateFormat:     "dow",
		MaximumLatency: -1,
		MinimumLatency: -1,
		Width:          200,
		Height:         150,
		Format:         FormatPNG,
		Points: []HistoryPoint{
			{Timestamp: monday, Value: 0.1},
			{Timestamp: monday.AddDate(0, 0, 2), Value: 0.2},
			{Timestamp: monday.AddDate(0, 0, 10), Value: 0.9}, // clipped: outside first week
		},
	}

	img, err := renderHistory(req)
	if err != nil {
		t.Fatalf("renderHistory() error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("renderHistory() did not return a PNG image")
	}
}

func TestRenderHistogramProducesAPNGImage(t *testing.T) {
	t.Parallel()

	req := HistogramRequest{
		Title:          "distribution",
		MaximumLatency: -1,
		MinimumLatency: -1,
		Width:          200,
		Height:         150,
		Format:         FormatPNG,
		ValuesSeconds:  []float64{0.1, 0.12, 0.11, 0.3, 0.09, 0.5, 0.15, 0.2, 0.18, 0.21, 0.13},
	}

	img, err := renderHistogram(req)
	if err != nil {
		t.Fatalf("renderHistogram() error = %v", err)
	}
	if !bytes.HasPrefix(img, []byte("\x89PNG")) {
		t.Fatalf("renderHistogram() did not return a PNG image")
	}
}
