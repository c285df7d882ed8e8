package mamba

import (
	"math"
	"slices"
	"time"
)

//////
// Helper functions.
//////

// isFinite reports whether x is neither NaN nor infinite.
func isFinite(x float64) bool {
	return !math.IsNaN(x) && !math.IsInf(x, 0)
}

// allFinite reports whether every element of v is finite.
//
// Returns:
// - true for an empty vector.
func allFinite(v []float64) bool {
	for _, x := range v {
		if !isFinite(x) {
			return false
		}
	}

	return true
}

// sanitizeMetric maps NaN and both infinities to +Inf so a broken score can
// never win a ranking.
func sanitizeMetric(m float64) float64 {
	if !isFinite(m) {
		return math.Inf(1)
	}

	return m
}

// sumPowers returns eta^0 + eta^1 + ... + eta^(n-1).
func sumPowers(eta, n int) float64 {
	sum, p := 0.0, 1.0
	for i := 0; i < n; i++ {
		sum += p
		p *= float64(eta)
	}

	return sum
}

// seconds converts fractional seconds into a time.Duration.
func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// concatRows returns a freshly allocated concatenation of a and b, so neither
// input shares its backing array with the result. A nil a yields a copy of b.
func concatRows(a, b [][]float64) [][]float64 {
	if a == nil {
		return slices.Clone(b)
	}

	return slices.Concat(a, b)
}
