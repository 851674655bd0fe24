// Package stats holds the descriptive statistics shared by the cleaner and
// the market aggregator.
package stats

import (
	"math"
	"sort"
)

// Quantile returns the q-th quantile of sorted values using linear
// interpolation between the closest ranks. sorted must be ascending and
// non-empty.
func Quantile(sorted []float64, q float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := q * float64(len(sorted)-1)
	lo := math.Floor(pos)
	hi := math.Ceil(pos)
	frac := pos - lo
	return sorted[int(lo)] + (sorted[int(hi)]-sorted[int(lo)])*frac
}

// Summary describes a non-empty sample.
type Summary struct {
	Count  int
	Mean   float64
	Median float64
	Min    float64
	Max    float64
	Sum    float64
}

// Summarize computes the summary of values without modifying them. It
// returns false for an empty sample.
func Summarize(values []float64) (Summary, bool) {
	if len(values) == 0 {
		return Summary{}, false
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return Summary{
		Count:  len(sorted),
		Mean:   sum / float64(len(sorted)),
		Median: Quantile(sorted, 0.5),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
		Sum:    sum,
	}, true
}

// Finite reports whether v is neither NaN nor infinite.
func Finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
