package mamba

import (
	"cmp"
	"slices"
)

//////
// Arm selection.
// Decides which arms go on to the next round.
//////

// Rank sorts arms by metric, lowest first. Arms with equal metrics keep their
// relative order, so ties go to the arm that was ahead before the round.
//
// Example:
//
//	arms := []Arm{{ID: 0, Metric: 3}, {ID: 1, Metric: 1}, {ID: 2, Metric: 1}}
//	Rank(arms) // IDs 1, 2, 0
func Rank(arms []Arm) {
	slices.SortStableFunc(arms, func(a, b Arm) int {
		return cmp.Compare(a.Metric, b.Metric)
	})
}

// Prune ranks arms and returns the best floor(len(arms)/eta) of them. The
// returned slice shares its backing array with arms.
func Prune(arms []Arm, eta int) []Arm {
	Rank(arms)

	return arms[:len(arms)/eta]
}
