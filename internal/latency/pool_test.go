package latency

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/stat"
)

func TestPoolRawSamples(t *testing.T) {
	t.Parallel()

	// X = {100, 200, 300, 400} microseconds, each a raw (n=1) contribution.
	contribs := []Contribution{
		{N: 1, Mean: 100, Min: 100, Max: 100},
		{N: 1, Mean: 200, Min: 200, Max: 200},
		{N: 1, Mean: 300, Min: 300, Max: 300},
		{N: 1, Mean: 400, Min: 400, Max: 400},
	}

	mean, variance, min, max, n, ok := Pool(contribs)
	if !ok {
		t.Fatal("Pool() ok = false, want true")
	}
	if mean != 250 {
		t.Errorf("mean = %v, want 250", mean)
	}
	if variance != 12500 {
		t.Errorf("variance = %v, want 12500", variance)
	}
	if min != 100 || max != 400 {
		t.Errorf("min/max = %d/%d, want 100/400", min, max)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
}

// TestPoolMatchesPopulationVarianceOfFlattenedRawInputs cross-checks Pool's
// pooled-variance formula, for the all-raw (N=1) case, against gonum/stat's
// independent population-variance computation over the flattened sample
// set. The two must agree to within floating-point rounding: pooling
// single-observation contributions degenerates to the plain population
// mean/variance of the underlying data.
func TestPoolMatchesPopulationVarianceOfFlattenedRawInputs(t *testing.T) {
	t.Parallel()

	values := []float64{120, 95, 430, 260, 310, 75, 500, 180}
	contribs := make([]Contribution, len(values))
	for i, v := range values {
		contribs[i] = Contribution{N: 1, Mean: v, Min: uint32(v), Max: uint32(v)}
	}

	mean, variance, _, _, _, ok := Pool(contribs)
	if !ok {
		t.Fatal("Pool() ok = false, want true")
	}

	wantMean, wantVariance := stat.PopMeanVariance(values, nil)
	if math.Abs(mean-wantMean) > 1e-9 {
		t.Errorf("mean = %v, want %v (gonum/stat.PopMeanVariance)", mean, wantMean)
	}
	if math.Abs(variance-wantVariance) > 1e-6 {
		t.Errorf("variance = %v, want %v (gonum/stat.PopMeanVariance)", variance, wantVariance)
	}
}

func TestPoolAggregatedContributions(t *testing.T) {
	t.Parallel()

	// Two aggregated rows, each n=2, zero variance, means 100 and 300.
	contribs := []Contribution{
		{N: 2, Mean: 100, Variance: 0, Min: 100, Max: 100},
		{N: 2, Mean: 300, Variance: 0, Min: 300, Max: 300},
	}

	mean, variance, _, _, n, ok := Pool(contribs)
	if !ok {
		t.Fatal("Pool() ok = false, want true")
	}
	if mean != 200 {
		t.Errorf("mean = %v, want 200", mean)
	}
	if variance != 10_000 {
		t.Errorf("variance = %v, want 10000", variance)
	}
	if n != 4 {
		t.Errorf("n = %d, want 4", n)
	}
}

func TestPoolEmptyIsNotOK(t *testing.T) {
	t.Parallel()

	_, _, _, _, _, ok := Pool(nil)
	if ok {
		t.Fatal("Pool(nil) ok = true, want false")
	}
}
