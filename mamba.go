package mamba

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
)

//////
// Exported functionalities.
//////

// DefaultConfig returns a default configuration.
func DefaultConfig() Config {
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return Config{
		Eta:          3,
		SaveRate:     1,
		MaxParallel:  1,
		Now:          time.Now,
		Logger:       logger,
		ProgressChan: nil, // Default to no progress updates.
	}
}

// RunTournament tunes a sampler by successive halving under a time budget and
// returns the winning arm.
//
// Type Parameter:
//   - S: The state type of the sampling kernel
//
// Parameters:
//   - ctx: Cancels the tournament. A cancelled run aborts the whole tournament
//   - key: Root random key. Every arm and round gets its own split of it
//   - build: Builds the kernel for one hyperparameter assignment
//   - errorFn: Scores a batch of samples, lower is better
//   - totalSeconds: The budget R the schedule is derived from
//   - initialPosition: Where every arm starts
//   - grid: The hyperparameter grid, one arm per point
//   - config: Tournament tunables, see Config
//
// Usage example:
//
//	grid := GridSpec{
//	    LogSpace("dt", -6, -1, 6, 10),
//	    Values("batch_size", 10, 100, 1000),
//	}
//
//	best, err := RunTournament(
//	    ctx,
//	    NewKey(0),
//	    sgld.Build(model),
//	    metric.IMQKSD,
//	    10,
//	    make([]float64, dim),
//	    grid,
//	    DefaultConfig(),
//	)
//
// How it works:
//  1. Expands the grid and builds one arm and one timed sampler per point
//  2. Computes the budget, see ComputeBudget
//  3. For each round:
//     - Splits one subkey per live arm, in arm order
//     - Runs every live arm for the round's time slice from its last sample
//     - Merges each run into its arm, see MergeRun. An arm whose gradient
//     diverged keeps its previous state for this round
//     - Keeps the best floor(live/Eta) arms
//  4. Returns the best remaining arm
//
// Important notes:
//   - Arms whose run produced nothing usable get a +Inf metric and lose the
//     ranking, they never abort the tournament
//   - With MaxParallel > 1 arms of a round run concurrently, at most
//     GOMAXPROCS at a time, each one measuring its own slice on its own
//     clock. The ranking waits for all of them
//   - Same key, grid and deterministic kernel and metric give the same
//     winner and the same elimination order, provided runs produce the same
//     number of samples
func RunTournament[S any](
	ctx context.Context,
	key Key,
	build KernelBuilder[S],
	errorFn ErrorFunc,
	totalSeconds float64,
	initialPosition []float64,
	grid GridSpec,
	config Config,
) (Arm, error) {
	if build == nil || errorFn == nil {
		return Arm{}, fmt.Errorf("%w: kernel builder and error function are required", ErrInvalidConfig)
	}

	if len(initialPosition) == 0 {
		return Arm{}, fmt.Errorf("%w: initial position cannot be empty", ErrInvalidConfig)
	}

	config = config.withDefaults()

	points, err := CreateGrid(grid)
	if err != nil {
		return Arm{}, fmt.Errorf("failed to create grid: %w", err)
	}

	budget, err := ComputeBudget(totalSeconds, config.Eta, len(points))
	if err != nil {
		return Arm{}, err
	}

	log := config.Logger.WithFields(logrus.Fields{
		"arms":   budget.Arms,
		"eta":    budget.Eta,
		"rounds": budget.Rounds,
	})
	log.Infof("starting tournament: %s", budget)

	opts := Options{SaveRate: config.SaveRate, Now: config.Now}

	arms := make([]Arm, 0, len(points))
	for i, h := range points {
		sampler, err := NewTimedSampler(build, h, opts)
		if err != nil {
			return Arm{}, fmt.Errorf("arm %d: %w", i, err)
		}

		arms = append(arms, newArm(i, h, sampler, initialPosition))
	}

	begin := config.Now()

	for round := 0; round < budget.Rounds; round++ {
		slice := budget.SliceDuration(round)
		update := ProgressUpdate{
			Round:       round,
			TotalRounds: budget.Rounds,
			LiveArms:    len(arms),
			TimeSlice:   slice,
		}

		log.WithFields(logrus.Fields{
			"round":      round + 1,
			"live_arms":  len(arms),
			"time_slice": slice,
		}).Info("starting round")

		update.Phase = PhaseRoundStart
		update.Elapsed = config.Now().Sub(begin)
		config.sendProgress(update)

		keys := make([]Key, len(arms))
		for i := range arms {
			key, keys[i] = key.Split()
		}

		if err := runRound(ctx, arms, keys, update, errorFn, config, begin); err != nil {
			return Arm{}, err
		}

		arms = Prune(arms, config.Eta)

		counts := make([]int, len(arms))
		for i, arm := range arms {
			counts[i] = len(arm.Samples)
		}
		log.WithField("round", round+1).Infof("kept %d arms, number of samples: %v", len(arms), counts)

		update.Phase = PhaseRoundEnd
		update.LiveArms = len(arms)
		update.Elapsed = config.Now().Sub(begin)
		config.sendProgress(update)
	}

	if len(arms) == 0 || len(arms) >= 3 {
		return Arm{}, fmt.Errorf("%w: %d arms left after %d rounds", ErrInvalidConfig, len(arms), budget.Rounds)
	}

	winner := arms[0]
	elapsed := config.Now().Sub(begin)

	if math.IsInf(winner.Metric, 1) {
		log.Warn("no arm produced a finite metric")
	}

	log.WithField("elapsed", elapsed).Infof("winner: %s", winner)

	summary := winner.Summary()
	config.sendProgress(ProgressUpdate{
		Phase:       PhaseDone,
		Round:       budget.Rounds - 1,
		TotalRounds: budget.Rounds,
		LiveArms:    len(arms),
		Arm:         &summary,
		Elapsed:     elapsed,
	})

	return winner, nil
}

//////
// Round execution.
//////

// runRound runs every arm once and stores the merged result back in arms[i].
// keys[i] is the subkey of arms[i]. It returns once every arm finished or was
// skipped, or on the first unrecoverable error.
func runRound(
	ctx context.Context,
	arms []Arm,
	keys []Key,
	update ProgressUpdate,
	errorFn ErrorFunc,
	config Config,
	begin time.Time,
) error {
	log := config.Logger.WithField("round", update.Round+1)

	run := func(ctx context.Context, i int) error {
		arm := arms[i]
		armLog := log.WithFields(logrus.Fields{
			"arm":             arm.ID,
			"hyperparameters": arm.Hyperparameters.String(),
		})

		skip := func(reason string) {
			armLog.Warnf("skipping arm: %s", reason)

			summary := arm.Summary()
			u := update
			u.Phase = PhaseArmSkipped
			u.Arm = &summary
			u.Elapsed = config.Now().Sub(begin)
			config.sendProgress(u)
		}

		if arm.Dead() {
			skip("no resume point")

			return nil
		}

		samples, grads, err := arm.Sampler(ctx, keys[i], update.TimeSlice, arm.LastSample)
		switch {
		case errors.Is(err, ErrGradientDivergence):
			skip("gradient became non-finite")

			return nil
		case err != nil:
			return fmt.Errorf("arm %d %s: %w", arm.ID, arm.Hyperparameters, err)
		}

		next := MergeRun(arm, samples, grads, errorFn, config.Transform)
		arms[i] = next

		if next.Samples == nil {
			armLog.Debug("run produced no usable samples")
		} else {
			armLog.WithFields(logrus.Fields{
				"samples": len(next.Samples),
				"metric":  next.Metric,
			}).Debug("arm done")
		}

		summary := next.Summary()
		u := update
		u.Phase = PhaseArmDone
		u.Arm = &summary
		u.Elapsed = config.Now().Sub(begin)
		config.sendProgress(u)

		return nil
	}

	if config.MaxParallel <= 1 {
		for i := range arms {
			if err := run(ctx, i); err != nil {
				return err
			}
		}

		return nil
	}

	p := pool.New().
		WithContext(ctx).
		WithCancelOnError().
		WithFirstError().
		WithMaxGoroutines(config.MaxParallel)

	for i := range arms {
		p.Go(func(ctx context.Context) error {
			return run(ctx, i)
		})
	}

	return p.Wait()
}
