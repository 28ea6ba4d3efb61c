package metrics

import "math"

// NearestRank returns the value at rank ceil(p*n) of the ascending sorted
// sample, for p in (0,1]. An empty sample yields 0.
func NearestRank(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	i := int(math.Ceil(p*float64(len(sorted)))) - 1
	if i < 0 {
		i = 0
	}
	if i >= len(sorted) {
		i = len(sorted) - 1
	}
	return sorted[i]
}

// PercentileSet carries the externally reported quantiles.
type PercentileSet struct {
	P50 float64 `json:"50th"`
	P90 float64 `json:"90th"`
	P95 float64 `json:"95th"`
	P99 float64 `json:"99th"`
}

func percentilesOf(sorted []float64) PercentileSet {
	return PercentileSet{
		P50: NearestRank(sorted, 0.50),
		P90: NearestRank(sorted, 0.90),
		P95: NearestRank(sorted, 0.95),
		P99: NearestRank(sorted, 0.99),
	}
}
