// Package sgld is a reference sampling kernel for mamba: stochastic gradient
// Langevin dynamics on the posterior of the mean of an isotropic Gaussian.
//
// The posterior is known in closed form, which makes the package useful to
// check that a tournament picks sensible step sizes and batch sizes.
package sgld

import (
	"errors"
	"fmt"
	"math"
	"slices"

	"gonum.org/v1/gonum/floats"

	"github.com/thalesfsp/mamba"
)

// Hyperparameter names read by Build.
const (
	StepSizeKey  = "dt"
	BatchSizeKey = "batch_size"
)

// ErrInvalidModel is returned for a model that cannot define a posterior.
var ErrInvalidModel = errors.New("invalid model")

// Model is the posterior of theta given observations x_n ~ N(theta, NoiseStd^2 I)
// and the prior theta ~ N(0, PriorStd^2 I).
type Model struct {
	Data     [][]float64
	NoiseStd float64
	PriorStd float64

	dataSum []float64
}

// NewModel validates data and precomputes the sufficient statistic.
func NewModel(data [][]float64, noiseStd, priorStd float64) (*Model, error) {
	if len(data) == 0 || len(data[0]) == 0 {
		return nil, fmt.Errorf("%w: no data", ErrInvalidModel)
	}

	if noiseStd <= 0 || priorStd <= 0 {
		return nil, fmt.Errorf("%w: standard deviations must be positive", ErrInvalidModel)
	}

	dim := len(data[0])
	sum := make([]float64, dim)
	for i, x := range data {
		if len(x) != dim {
			return nil, fmt.Errorf("%w: observation %d has dimension %d, want %d", ErrInvalidModel, i, len(x), dim)
		}
		floats.Add(sum, x)
	}

	return &Model{Data: data, NoiseStd: noiseStd, PriorStd: priorStd, dataSum: sum}, nil
}

// Dim returns the dimension of theta.
func (m *Model) Dim() int {
	return len(m.dataSum)
}

// Posterior returns the exact posterior mean and per-dimension variance.
func (m *Model) Posterior() (mean, variance []float64) {
	precision := 1/(m.PriorStd*m.PriorStd) + float64(len(m.Data))/(m.NoiseStd*m.NoiseStd)

	mean = make([]float64, m.Dim())
	floats.ScaleTo(mean, 1/(m.NoiseStd*m.NoiseStd*precision), m.dataSum)

	variance = make([]float64, m.Dim())
	for i := range variance {
		variance[i] = 1 / precision
	}

	return mean, variance
}

// Grad is the full-batch gradient of the log posterior at theta.
func (m *Model) Grad(theta []float64) []float64 {
	n := float64(len(m.Data))
	s2 := m.NoiseStd * m.NoiseStd

	// (sum_n x_n - N theta) / s2 - theta / prior^2
	g := make([]float64, len(theta))
	floats.AddScaledTo(g, m.dataSum, -n, theta)
	floats.Scale(1/s2, g)
	floats.AddScaled(g, -1/(m.PriorStd*m.PriorStd), theta)

	return g
}

// FullBatchGrads replaces the stochastic gradients of a run by exact ones. It
// has the signature of mamba.Transform.
func (m *Model) FullBatchGrads(samples [][]float64) ([][]float64, [][]float64) {
	grads := make([][]float64, len(samples))
	for i, s := range samples {
		grads[i] = m.Grad(s)
	}

	return samples, grads
}

// minibatchGrad estimates Grad from batch observations drawn with replacement.
func (m *Model) minibatchGrad(key mamba.Key, theta []float64, batch int) []float64 {
	rng := key.Rand()
	n := len(m.Data)
	s2 := m.NoiseStd * m.NoiseStd

	lik := make([]float64, len(theta))
	for b := 0; b < batch; b++ {
		floats.Add(lik, m.Data[rng.IntN(n)])
	}
	floats.AddScaled(lik, -float64(batch), theta)

	g := make([]float64, len(theta))
	floats.AddScaledTo(g, g, float64(n)/(float64(batch)*s2), lik)
	floats.AddScaled(g, -1/(m.PriorStd*m.PriorStd), theta)

	return g
}

// Config holds the hyperparameters of one SGLD sampler.
type Config struct {
	StepSize  float64
	BatchSize int
}

// ConfigFromHyperparameters reads "dt" and "batch_size". A batch size larger
// than the dataset is clamped to it.
func ConfigFromHyperparameters(h mamba.Hyperparameters, dataSize int) (Config, error) {
	dt, ok := h.Get(StepSizeKey)
	if !ok || !(dt > 0) || math.IsInf(dt, 1) {
		return Config{}, fmt.Errorf("%s must be a positive number, got %v", StepSizeKey, h[StepSizeKey])
	}

	batch, ok := h.Get(BatchSizeKey)
	if !ok || batch < 1 || batch != math.Trunc(batch) {
		return Config{}, fmt.Errorf("%s must be a positive integer, got %v", BatchSizeKey, h[BatchSizeKey])
	}

	return Config{StepSize: dt, BatchSize: min(int(batch), dataSize)}, nil
}

// State is the SGLD sampler state.
type State struct {
	Position  []float64
	ParamGrad []float64
}

// Build returns a kernel builder for model.
func Build(model *Model) mamba.KernelBuilder[State] {
	return func(h mamba.Hyperparameters) (mamba.Kernel[State], error) {
		cfg, err := ConfigFromHyperparameters(h, len(model.Data))
		if err != nil {
			return mamba.Kernel[State]{}, err
		}

		return NewKernel(model, cfg), nil
	}
}

// NewKernel returns the SGLD kernel
//
//	theta' = theta + dt * g + sqrt(2 dt) * xi
//
// where g is a minibatch estimate of the log posterior gradient at theta and
// xi is standard normal noise.
func NewKernel(model *Model, cfg Config) mamba.Kernel[State] {
	noise := math.Sqrt(2 * cfg.StepSize)

	return mamba.Kernel[State]{
		Init: func(key mamba.Key, position []float64) (State, error) {
			if len(position) != model.Dim() {
				return State{}, fmt.Errorf("position has dimension %d, want %d", len(position), model.Dim())
			}

			theta := slices.Clone(position)

			return State{Position: theta, ParamGrad: model.minibatchGrad(key, theta, cfg.BatchSize)}, nil
		},
		Step: func(_ int, key mamba.Key, state State) (State, error) {
			gradKey, noiseKey := key.Split()

			g := model.minibatchGrad(gradKey, state.Position, cfg.BatchSize)
			for _, v := range g {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					return State{}, mamba.ErrGradientDivergence
				}
			}

			rng := noiseKey.Rand()
			theta := slices.Clone(state.Position)
			floats.AddScaled(theta, cfg.StepSize, g)
			for i := range theta {
				theta[i] += noise * rng.NormFloat64()
			}

			return State{Position: theta, ParamGrad: g}, nil
		},
		Params: func(state State) []float64 { return state.Position },
		Grad:   func(state State) []float64 { return state.ParamGrad },
	}
}

// SyntheticData draws n observations of dimension dim from N(mean, std^2 I).
func SyntheticData(key mamba.Key, n, dim int, mean, std float64) [][]float64 {
	rng := key.Rand()

	data := make([][]float64, n)
	for i := range data {
		x := make([]float64, dim)
		for d := range x {
			x[d] = mean + std*rng.NormFloat64()
		}
		data[i] = x
	}

	return data
}
