package metric

import (
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// MomentError returns an error function measuring how far the per-dimension
// sample mean and variance are from reference moments:
//
//	sum_d (mean_d - ref_mean_d)^2 + (var_d - ref_var_d)^2
//
// Gradients are ignored. A batch whose dimension differs from the reference,
// or that has fewer than two samples, scores +Inf.
func MomentError(mean, variance []float64) func(samples, grads [][]float64) float64 {
	return func(samples, _ [][]float64) float64 {
		if len(samples) < 2 || len(mean) != len(variance) {
			return math.Inf(1)
		}

		dim := len(mean)
		col := make([]float64, len(samples))
		diff := make([]float64, 0, 2*dim)

		for d := 0; d < dim; d++ {
			for i, s := range samples {
				if len(s) != dim {
					return math.Inf(1)
				}
				col[i] = s[d]
			}

			m, v := stat.MeanVariance(col, nil)
			diff = append(diff, m-mean[d], v-variance[d])
		}

		return floats.Dot(diff, diff)
	}
}
