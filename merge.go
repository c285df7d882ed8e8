package mamba

import (
	"math"
	"slices"
)

// MergeRun folds the output of one timed run into arm and returns the arm's
// next state. arm itself is left untouched.
//
// Behaviour:
//   - No samples: the new arm keeps its identity and sampler but has no
//     samples, no resume point and a +Inf metric
//   - Otherwise the last raw sample becomes the resume point, transform (if
//     any) is applied, the batch is flattened and appended to the
//     accumulators, and the metric is errorFn over the new batch only
//   - A non-finite metric is stored as +Inf
//
// A batch whose rows do not share one length cannot be scored and is handled
// like an empty run.
func MergeRun(arm Arm, samples, grads [][]float64, errorFn ErrorFunc, transform Transform) Arm {
	next := Arm{
		ID:              arm.ID,
		Hyperparameters: arm.Hyperparameters,
		Sampler:         arm.Sampler,
		Metric:          math.Inf(1),
		Rounds:          arm.Rounds + 1,
	}

	if len(samples) == 0 {
		return next
	}

	lastSample := slices.Clone(samples[len(samples)-1])

	if transform != nil {
		samples, grads = transform(samples)
	}

	flatSamples, ok := FlattenParams(samples)
	if !ok || len(flatSamples) == 0 {
		return next
	}

	flatGrads, ok := FlattenParams(grads)
	if !ok {
		return next
	}

	next.LastSample = lastSample
	next.Samples = concatRows(arm.Samples, flatSamples)
	next.Grads = concatRows(arm.Grads, flatGrads)
	next.Metric = sanitizeMetric(errorFn(flatSamples, flatGrads))

	return next
}

// FlattenParams packs rows into a single contiguous block and returns row
// views into it. It reports false when rows differ in length.
func FlattenParams(rows [][]float64) ([][]float64, bool) {
	if len(rows) == 0 {
		return nil, true
	}

	width := len(rows[0])
	block := make([]float64, 0, width*len(rows))
	for _, row := range rows {
		if len(row) != width {
			return nil, false
		}
		block = append(block, row...)
	}

	out := make([][]float64, len(rows))
	for i := range out {
		out[i] = block[i*width : (i+1)*width : (i+1)*width]
	}

	return out, true
}
