package metric

// Thinned wraps an error function so it sees at most limit evenly spaced
// samples of each batch. The last sample is always kept.
func Thinned(fn func(samples, grads [][]float64) float64, limit int) func(samples, grads [][]float64) float64 {
	return func(samples, grads [][]float64) float64 {
		if limit <= 0 || len(samples) <= limit {
			return fn(samples, grads)
		}

		idx := thinIndices(len(samples), limit)

		return fn(pick(samples, idx), pick(grads, idx))
	}
}

// thinIndices returns limit indices spread evenly over [0, n), ending at n-1.
func thinIndices(n, limit int) []int {
	if limit == 1 {
		return []int{n - 1}
	}

	idx := make([]int, limit)
	for i := range idx {
		idx[i] = i * (n - 1) / (limit - 1)
	}

	return idx
}

func pick(rows [][]float64, idx []int) [][]float64 {
	out := make([][]float64, 0, len(idx))
	for _, i := range idx {
		if i < len(rows) {
			out = append(out, rows[i])
		}
	}

	return out
}
