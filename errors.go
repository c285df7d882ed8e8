package mamba

import "errors"

var (
	// ErrGradientDivergence is returned by a kernel step when the gradient
	// became non-finite. The tournament skips the arm for the current round.
	ErrGradientDivergence = errors.New("gradient became non-finite")

	// ErrInvalidConfig reports tournament arithmetic that cannot end with a
	// single winner, or malformed inputs.
	ErrInvalidConfig = errors.New("invalid tournament configuration")

	// ErrEmptyGrid is returned when the grid expands to no arm at all.
	ErrEmptyGrid = errors.New("empty hyperparameter grid")
)
