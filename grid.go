package mamba

import (
	"fmt"
	"math"

	"golang.org/x/exp/constraints"
)

// Axis is one hyperparameter and the values the grid tries for it.
type Axis struct {
	Name   string
	Values []float64
}

// GridSpec is an ordered list of axes. CreateGrid expands it into the
// cartesian product of all axes, first axis varying slowest.
//
// Usage example:
//
//	spec := GridSpec{
//	    LogSpace("dt", -6, -2, 5, 10),        // 1e-6 ... 1e-2
//	    Values("batch_size", 10, 100, 1000),
//	}
//	grid, err := CreateGrid(spec)           // 15 assignments
type GridSpec []Axis

// Values builds an axis from explicit values of any numeric type.
func Values[T constraints.Integer | constraints.Float](name string, vals ...T) Axis {
	out := make([]float64, len(vals))
	for i, v := range vals {
		out[i] = float64(v)
	}

	return Axis{Name: name, Values: out}
}

// LinSpace builds an axis of num evenly spaced values from start to stop,
// both included.
func LinSpace[T constraints.Integer | constraints.Float](name string, start, stop T, num int) Axis {
	return Axis{Name: name, Values: linspace(float64(start), float64(stop), num)}
}

// LogSpace builds an axis of num values base^x, x evenly spaced from start to
// stop, both included.
func LogSpace[T constraints.Integer | constraints.Float](name string, start, stop T, num int, base float64) Axis {
	exps := linspace(float64(start), float64(stop), num)
	for i, e := range exps {
		exps[i] = math.Pow(base, e)
	}

	return Axis{Name: name, Values: exps}
}

// Size returns the number of assignments the grid expands to.
func (g GridSpec) Size() int {
	if len(g) == 0 {
		return 0
	}

	size := 1
	for _, axis := range g {
		size *= len(axis.Values)
	}

	return size
}

// Validate checks that every axis has a unique, non-empty name and at least
// one finite value.
func (g GridSpec) Validate() error {
	if len(g) == 0 {
		return ErrEmptyGrid
	}

	seen := make(map[string]bool, len(g))
	for i, axis := range g {
		if axis.Name == "" {
			return fmt.Errorf("axis %d: name cannot be empty", i)
		}

		if seen[axis.Name] {
			return fmt.Errorf("duplicate axis name: %s", axis.Name)
		}
		seen[axis.Name] = true

		if len(axis.Values) == 0 {
			return fmt.Errorf("axis %s: %w", axis.Name, ErrEmptyGrid)
		}

		if !allFinite(axis.Values) {
			return fmt.Errorf("axis %s: values must be finite", axis.Name)
		}
	}

	return nil
}

// CreateGrid expands spec into one Hyperparameters per grid point.
func CreateGrid(spec GridSpec) ([]Hyperparameters, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	grid := []Hyperparameters{{}}
	for _, axis := range spec {
		next := make([]Hyperparameters, 0, len(grid)*len(axis.Values))
		for _, h := range grid {
			for _, v := range axis.Values {
				point := h.Clone()
				point[axis.Name] = v
				next = append(next, point)
			}
		}
		grid = next
	}

	return grid, nil
}

func linspace(start, stop float64, num int) []float64 {
	if num <= 0 {
		return nil
	}

	if num == 1 {
		return []float64{start}
	}

	out := make([]float64, num)
	step := (stop - start) / float64(num-1)
	for i := range out {
		out[i] = start + float64(i)*step
	}
	out[num-1] = stop

	return out
}
