package risk

import (
	"math"
	"sort"
)

// percentile returns the p-th percentile (0..100) of xs using linear
// interpolation between closest ranks. xs is not modified.
func percentile(xs []float64, p float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sorted := make([]float64, len(xs))
	copy(sorted, xs)
	sort.Float64s(sorted)

	rank := p / 100 * float64(len(sorted)-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo < 0 {
		lo = 0
	}
	if hi >= len(sorted) {
		hi = len(sorted) - 1
	}
	frac := rank - float64(lo)
	return sorted[lo] + frac*(sorted[hi]-sorted[lo])
}

// ewmaWeights returns normalised exponential weights for n observations
// ordered oldest first: the newest observation gets (1−λ), the one before
// (1−λ)λ, and so on.
func ewmaWeights(n int, lambda float64) []float64 {
	w := make([]float64, n)
	var sum float64
	for i := 0; i < n; i++ {
		// i counts back from the newest observation.
		v := (1 - lambda) * math.Pow(lambda, float64(i))
		w[n-1-i] = v
		sum += v
	}
	for i := range w {
		w[i] /= sum
	}
	return w
}
