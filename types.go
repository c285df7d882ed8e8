package mamba

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Progress phases emitted on Config.ProgressChan.
const (
	PhaseRoundStart = "round_start"
	PhaseArmDone    = "arm_done"
	PhaseArmSkipped = "arm_skipped"
	PhaseRoundEnd   = "round_end"
	PhaseDone       = "done"
)

// Hyperparameters maps a hyperparameter name to its value. It identifies an
// arm for the whole lifetime of a tournament and is never mutated once the arm
// is created.
//
// Usage:
//
//	h := Hyperparameters{"dt": 1e-4, "batch_size": 100}
//	dt, ok := h.Get("dt")
type Hyperparameters map[string]float64

// Get returns the value of a hyperparameter and whether it is present.
func (h Hyperparameters) Get(name string) (float64, bool) {
	v, ok := h[name]

	return v, ok
}

// Clone returns an independent copy.
func (h Hyperparameters) Clone() Hyperparameters {
	out := make(Hyperparameters, len(h))
	for k, v := range h {
		out[k] = v
	}

	return out
}

// Keys returns the hyperparameter names in lexical order.
func (h Hyperparameters) Keys() []string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}

	slices.Sort(keys)

	return keys
}

// String renders the hyperparameters as "name=value" pairs in lexical order,
// so the same assignment always prints the same way.
func (h Hyperparameters) String() string {
	parts := make([]string, 0, len(h))
	for _, k := range h.Keys() {
		parts = append(parts, k+"="+strconv.FormatFloat(h[k], 'g', -1, 64))
	}

	return "{" + strings.Join(parts, ", ") + "}"
}

// Kernel is the opaque state-transition triple of an iterative sampler, plus
// the gradient accessor and an optional synchronisation barrier.
//
// Type Parameter:
//   - S: The sampler state. The tournament never looks inside it.
//
// Fields:
//   - Init: Builds the starting state from a key and a starting position
//   - Step: Advances the state by one iteration. It returns an error wrapping
//     ErrGradientDivergence when the gradient became non-finite
//   - Params: Extracts the current position as a flat vector
//   - Grad: Extracts the gradient computed during the last step
//   - Ready: Optional. Blocks until a state is fully computed. Kernels that
//     evaluate eagerly leave it nil
//
// Implementation notes for custom kernels:
//   - Params and Grad may return internal buffers, they are copied on save
//   - Step must not retain the key beyond the call
type Kernel[S any] struct {
	Init   func(key Key, position []float64) (S, error)
	Step   func(i int, key Key, state S) (S, error)
	Params func(state S) []float64
	Grad   func(state S) []float64
	Ready  func(state S)
}

// KernelBuilder builds a Kernel bound to one hyperparameter assignment. It is
// called exactly once per arm.
type KernelBuilder[S any] func(h Hyperparameters) (Kernel[S], error)

// TimedSampler runs a bound kernel from start until budget elapsed and returns
// the saved samples with their gradients.
//
// Returns:
//   - (samples, grads, nil): The run completed. Both may be empty if the budget
//     expired before the first save point
//   - (nil, nil, nil): A saved sample was non-finite and the run was discarded
//   - (nil, nil, err): The kernel failed. Use errors.Is(err,
//     ErrGradientDivergence) to detect a diverged gradient
type TimedSampler func(ctx context.Context, key Key, budget time.Duration, start []float64) (samples, grads [][]float64, err error)

// ErrorFunc scores a batch of samples and their gradients. Lower is better.
// Non-finite values are allowed and are mapped to +Inf before ranking.
type ErrorFunc func(samples, grads [][]float64) float64

// Transform maps the raw samples of a run into the samples and gradients the
// ErrorFunc expects, e.g. replacing stochastic gradients by full-batch ones.
type Transform func(samples [][]float64) (outSamples, outGrads [][]float64)

// Arm is the state of one candidate hyperparameter assignment. Arms are values:
// every round produces a new Arm instead of mutating the previous one.
type Arm struct {
	// ID is the position of the arm in the initial grid.
	ID int

	// Hyperparameters identifies the arm.
	Hyperparameters Hyperparameters

	// Sampler is built once when the arm is created.
	Sampler TimedSampler

	// LastSample is where the next run starts. Nil once a run was discarded.
	LastSample []float64

	// Samples and Grads accumulate the output of every merged round. Nil
	// before the first successful round and after a discarded one.
	Samples [][]float64
	Grads   [][]float64

	// Metric is the score of the most recent batch. +Inf marks an arm that
	// has no valid output.
	Metric float64

	// Rounds counts the runs merged into this arm.
	Rounds int
}

// Dead reports whether the arm has no resume point left.
func (a Arm) Dead() bool {
	return a.LastSample == nil
}

// Summary returns the read-only view of the arm used for progress reporting.
func (a Arm) Summary() ArmSummary {
	return ArmSummary{
		ID:              a.ID,
		Hyperparameters: a.Hyperparameters.Clone(),
		Samples:         len(a.Samples),
		Metric:          a.Metric,
		Rounds:          a.Rounds,
	}
}

func (a Arm) String() string {
	if a.Samples == nil {
		return fmt.Sprintf("arm %d %s: no samples, metric: %v", a.ID, a.Hyperparameters, a.Metric)
	}

	return fmt.Sprintf("arm %d %s: %d samples, metric: %.4g", a.ID, a.Hyperparameters, len(a.Samples), a.Metric)
}

// ArmSummary is a snapshot of an arm for observers.
type ArmSummary struct {
	ID              int
	Hyperparameters Hyperparameters
	Samples         int
	Metric          float64
	Rounds          int
}

// ProgressUpdate represents the current state of the tournament.
type ProgressUpdate struct {
	// Phase is one of the Phase* constants.
	Phase string

	// Round is the zero-based round index.
	Round int

	// TotalRounds is the number of rounds the tournament will run.
	TotalRounds int

	// LiveArms is the number of arms in play. For PhaseRoundEnd it is the
	// count after pruning.
	LiveArms int

	// TimeSlice is the budget every arm gets in this round.
	TimeSlice time.Duration

	// Arm is set for PhaseArmDone, PhaseArmSkipped and PhaseDone.
	Arm *ArmSummary

	// Elapsed is the wall-clock time since the tournament started.
	Elapsed time.Duration
}

// Config holds the tunables of a tournament.
//
// Usage example:
//
//	config := DefaultConfig()
//	config.Eta = 4
//	config.MaxParallel = runtime.NumCPU()
//	config.Logger = logrus.StandardLogger()
//
// Note:
//   - The zero value is usable, missing fields fall back to DefaultConfig.
type Config struct {
	// Eta is the elimination factor. After each round 1/Eta of the arms
	// survive. Must be at least 2.
	Eta int

	// SaveRate keeps every SaveRate-th step of a run. An arm can override it
	// with the "save_rate" hyperparameter.
	SaveRate int

	// Transform is applied to every run before it is scored. Optional.
	Transform Transform

	// MaxParallel bounds how many arms of a round run at the same time.
	// 1 runs arms one after the other. Capped at GOMAXPROCS: arms sharing a
	// CPU would charge each other's time to their own slice.
	MaxParallel int

	// Now is the clock used to enforce time budgets.
	Now func() time.Time

	// Logger receives round and arm level logs.
	Logger logrus.FieldLogger

	// ProgressChan is used to send progress updates during the tournament.
	// If nil, no updates will be sent.
	ProgressChan chan<- ProgressUpdate
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()

	if c.Eta == 0 {
		c.Eta = d.Eta
	}

	if c.SaveRate <= 0 {
		c.SaveRate = d.SaveRate
	}

	if c.MaxParallel < 1 {
		c.MaxParallel = d.MaxParallel
	}

	c.MaxParallel = min(c.MaxParallel, runtime.GOMAXPROCS(0))

	if c.Now == nil {
		c.Now = d.Now
	}

	if c.Logger == nil {
		c.Logger = d.Logger
	}

	return c
}

func (c Config) sendProgress(update ProgressUpdate) {
	if c.ProgressChan == nil {
		return
	}

	select {
	case c.ProgressChan <- update:
	default:
		// Skip update if channel is full.
	}
}

func newArm(id int, h Hyperparameters, sampler TimedSampler, position []float64) Arm {
	return Arm{
		ID:              id,
		Hyperparameters: h,
		Sampler:         sampler,
		LastSample:      slices.Clone(position),
		Metric:          math.Inf(1),
	}
}
