package mamba

import (
	"fmt"
	"math"
	"time"
)

// maxSeconds is the longest budget a time.Duration can hold.
const maxSeconds = float64(math.MaxInt64) / float64(time.Second)

// Budget is the time allocation of a tournament.
//
// Fields:
//   - Total: R, the budget in seconds the schedule is derived from
//   - Eta: The elimination factor
//   - Arms: K, the initial number of arms
//   - Rounds: N, floor(log(K) / log(Eta))
//   - Base: r0 = R / sum(Eta^i, i < N)
//   - Allocated: T = r0 * K * N
//
// The per-arm slice T / (K * N) is the same in every round. Survivors do not
// get a larger slice, elimination alone moves time onto them.
type Budget struct {
	Total     float64
	Eta       int
	Arms      int
	Rounds    int
	Base      float64
	Allocated float64
}

// ComputeBudget splits totalSeconds across arms and rounds.
//
// Returns ErrInvalidConfig if:
//   - totalSeconds is not a positive finite number
//   - totalSeconds does not fit in a time.Duration
//   - eta < 2
//   - arms < eta
//   - the elimination would leave 3 or more arms after the last round
//
// Example:
//
//	b, _ := ComputeBudget(8, 3, 9)
//	// b.Rounds == 2, b.Base == 2, b.Slice(0) == b.Slice(1) == 2
func ComputeBudget(totalSeconds float64, eta, arms int) (Budget, error) {
	if !isFinite(totalSeconds) || totalSeconds <= 0 {
		return Budget{}, fmt.Errorf("%w: total budget must be positive, got %v", ErrInvalidConfig, totalSeconds)
	}

	if totalSeconds > maxSeconds {
		return Budget{}, fmt.Errorf("%w: total budget %v exceeds the longest time.Duration", ErrInvalidConfig, totalSeconds)
	}

	if eta < 2 {
		return Budget{}, fmt.Errorf("%w: eta must be at least 2, got %d", ErrInvalidConfig, eta)
	}

	if arms < eta {
		return Budget{}, fmt.Errorf("%w: need at least eta=%d arms, got %d", ErrInvalidConfig, eta, arms)
	}

	// Largest n with eta^n <= arms, computed on integers so that exact powers
	// do not lose a round to floating point rounding of log(K)/log(eta).
	rounds := 0
	for p := 1; p <= arms/eta; p *= eta {
		rounds++
	}

	base := totalSeconds / sumPowers(eta, rounds)

	b := Budget{
		Total:     totalSeconds,
		Eta:       eta,
		Arms:      arms,
		Rounds:    rounds,
		Base:      base,
		Allocated: base * float64(arms) * float64(rounds),
	}

	if final := b.Survivors(rounds - 1); final >= 3 {
		return Budget{}, fmt.Errorf("%w: %d arms with eta=%d leave %d arms after %d rounds", ErrInvalidConfig, arms, eta, final, rounds)
	}

	return b, nil
}

// Slice returns the seconds each live arm runs for in the given round.
func (b Budget) Slice(round int) float64 {
	if round < 0 || round >= b.Rounds {
		return 0
	}

	return b.Allocated / float64(b.Arms*b.Rounds)
}

// SliceDuration is Slice as a time.Duration.
func (b Budget) SliceDuration(round int) time.Duration {
	return seconds(b.Slice(round))
}

// Live returns the number of arms that run in the given round.
func (b Budget) Live(round int) int {
	live := b.Arms
	for i := 0; i < round; i++ {
		live /= b.Eta
	}

	return live
}

// Survivors returns the number of arms kept after pruning the given round.
func (b Budget) Survivors(round int) int {
	return b.Live(round+1)
}

// Spent returns the wall-clock seconds the schedule consumes if every arm uses
// its full slice.
func (b Budget) Spent() float64 {
	total := 0.0
	for i := 0; i < b.Rounds; i++ {
		total += b.Slice(i) * float64(b.Live(i))
	}

	return total
}

func (b Budget) String() string {
	return fmt.Sprintf("%d arms, eta=%d, %d rounds, %.3gs per arm per round, %.3gs in total",
		b.Arms, b.Eta, b.Rounds, b.Slice(0), math.Round(b.Spent()*1000)/1000)
}
