package mamba

import (
	"math"
	"slices"
	"sync"
	"time"
)

// fakeClock advances by tick on every reading.
type fakeClock struct {
	mu   sync.Mutex
	t    time.Time
	tick time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Unix(0, 0), tick: time.Millisecond}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.t = c.t.Add(c.tick)

	return c.t
}

type toyState struct {
	pos  []float64
	grad []float64
}

// toy builds kernels whose samples sit at the "x" hyperparameter, plus uniform
// noise of width noise drawn from the step key.
type toy struct {
	noise float64

	// nan makes every sample of the arm with this x NaN.
	nan map[float64]bool

	// diverge makes the arm with this x diverge from the given run on (1-based).
	diverge map[float64]int

	// fail makes the arm with this x return a plain error.
	fail map[float64]error

	mu       sync.Mutex
	initKeys []string
	steps    int
}

func (k *toy) build(h Hyperparameters) (Kernel[toyState], error) {
	x := h["x"]
	runs := 0

	return Kernel[toyState]{
		Init: func(key Key, position []float64) (toyState, error) {
			k.mu.Lock()
			k.initKeys = append(k.initKeys, key.String())
			k.mu.Unlock()

			runs++

			return toyState{pos: slices.Clone(position)}, nil
		},
		Step: func(i int, key Key, _ toyState) (toyState, error) {
			k.mu.Lock()
			k.steps++
			k.mu.Unlock()

			if err := k.fail[x]; err != nil {
				return toyState{}, err
			}

			if on := k.diverge[x]; on > 0 && runs >= on {
				return toyState{}, ErrGradientDivergence
			}

			if k.nan[x] {
				return toyState{pos: []float64{math.NaN()}, grad: []float64{0}}, nil
			}

			return toyState{
				pos:  []float64{x + k.noise*key.Rand().Float64()},
				grad: []float64{float64(i)},
			}, nil
		},
		Params: func(s toyState) []float64 { return s.pos },
		Grad:   func(s toyState) []float64 { return s.grad },
	}, nil
}

// meanMetric scores a batch by the mean of its first coordinate.
func meanMetric(samples, _ [][]float64) float64 {
	sum := 0.0
	for _, s := range samples {
		sum += s[0]
	}

	return sum / float64(len(samples))
}

func drain(ch chan ProgressUpdate) []ProgressUpdate {
	var updates []ProgressUpdate
	for {
		select {
		case u := <-ch:
			updates = append(updates, u)
		default:
			return updates
		}
	}
}

func filterPhase(updates []ProgressUpdate, phase string) []ProgressUpdate {
	var out []ProgressUpdate
	for _, u := range updates {
		if u.Phase == phase {
			out = append(out, u)
		}
	}

	return out
}
