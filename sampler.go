package mamba

import (
	"context"
	"fmt"
	"math"
	"slices"
	"time"
)

// saveRateKey is the hyperparameter that overrides Options.SaveRate per arm.
// It is consumed by NewTimedSampler and never reaches the kernel builder.
const saveRateKey = "save_rate"

// Options configures NewTimedSampler.
type Options struct {
	// SaveRate keeps every SaveRate-th step. Defaults to 1.
	SaveRate int

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewTimedSampler builds the kernel for h once and returns a TimedSampler bound
// to it.
//
// How a run works:
//  1. Init the state from the first subkey and the starting position
//  2. Run steps 0 and 1 and wait on Kernel.Ready, outside the clock, so
//     one-time setup costs are not charged to the budget. Their result is
//     thrown away
//  3. Starting again from the init state, step with a fresh subkey until the
//     budget elapsed, saving Params and Grad every SaveRate-th step
//  4. Discard the whole run as soon as a saved sample is non-finite
//
// Important notes:
//   - The returned sampler holds no state between calls, each call is a pure
//     function of its key, budget and starting position
//   - A kernel error is returned wrapped, ErrGradientDivergence stays
//     detectable with errors.Is
func NewTimedSampler[S any](build KernelBuilder[S], h Hyperparameters, opts Options) (TimedSampler, error) {
	h = h.Clone()

	saveRate := opts.SaveRate
	if saveRate <= 0 {
		saveRate = 1
	}

	if v, ok := h[saveRateKey]; ok {
		if v < 1 || v != math.Trunc(v) {
			return nil, fmt.Errorf("%w: save_rate must be a positive integer, got %v", ErrInvalidConfig, v)
		}

		saveRate = int(v)
		delete(h, saveRateKey)
	}

	kernel, err := build(h)
	if err != nil {
		return nil, fmt.Errorf("failed to build kernel for %s: %w", h, err)
	}

	if kernel.Init == nil || kernel.Step == nil || kernel.Params == nil || kernel.Grad == nil {
		return nil, fmt.Errorf("%w: kernel for %s is incomplete", ErrInvalidConfig, h)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	return func(ctx context.Context, key Key, budget time.Duration, start []float64) ([][]float64, [][]float64, error) {
		key, initKey := key.Split()
		key, warmKey := key.Split()
		warm0, warm1 := warmKey.Split()

		state, err := kernel.Init(initKey, start)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init sampler: %w", err)
		}

		warm, err := kernel.Step(0, warm0, state)
		if err != nil {
			return nil, nil, fmt.Errorf("warm-up: %w", err)
		}

		warm, err = kernel.Step(1, warm1, warm)
		if err != nil {
			return nil, nil, fmt.Errorf("warm-up: %w", err)
		}

		if kernel.Ready != nil {
			kernel.Ready(warm)
		}

		var (
			samples, grads [][]float64
			sub            Key
		)

		begin := now()
		for i := 0; now().Sub(begin) < budget; i++ {
			if err := ctx.Err(); err != nil {
				return nil, nil, err
			}

			key, sub = key.Split()

			state, err = kernel.Step(i, sub, state)
			if err != nil {
				return nil, nil, fmt.Errorf("step %d: %w", i, err)
			}

			if i%saveRate != 0 {
				continue
			}

			sample := kernel.Params(state)
			if !allFinite(sample) {
				return nil, nil, nil
			}

			samples = append(samples, slices.Clone(sample))
			grads = append(grads, slices.Clone(kernel.Grad(state)))
		}

		return samples, grads, nil
	}, nil
}
