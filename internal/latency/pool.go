package latency

// Contribution is one input's statistics going into a pooled summary: a
// single raw reading (N=1, Variance=0, Min=Max=reading) or an already
// aggregated row's own (n, mean, variance, min, max).
type Contribution struct {
	N        uint32
	Mean     float64
	Variance float64
	Min      uint32
	Max      uint32
}

// Pool combines contributions into one summary using the pooled-mean and
// pooled-population-variance formulas from spec §4.E:
//
//	μ_c = (Σ n_i μ_i) / (Σ n_i)
//	v_c = (Σ n_i [v_i + (μ_i − μ_c)²]) / (Σ n_i)
//
// Returns ok=false if every contribution has N=0 (no data to pool).
func Pool(contributions []Contribution) (mean, variance float64, min, max, n uint32, ok bool) {
	var totalN uint64
	var weightedMean float64
	for _, c := range contributions {
		if c.N == 0 {
			continue
		}
		totalN += uint64(c.N)
		weightedMean += float64(c.N) * c.Mean
	}
	if totalN == 0 {
		return 0, 0, 0, 0, 0, false
	}
	mean = weightedMean / float64(totalN)

	var weightedVar float64
	first := true
	for _, c := range contributions {
		if c.N == 0 {
			continue
		}
		d := c.Mean - mean
		weightedVar += float64(c.N) * (c.Variance + d*d)

		if first {
			min, max = c.Min, c.Max
			first = false
		} else {
			if c.Min < min {
				min = c.Min
			}
			if c.Max > max {
				max = c.Max
			}
		}
	}
	variance = weightedVar / float64(totalN)

	if totalN > uint64(^uint32(0)) {
		n = ^uint32(0)
	} else {
		n = uint32(totalN)
	}
	return mean, variance, min, max, n, true
}
