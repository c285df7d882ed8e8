// Package mamba tunes the hyperparameters of stochastic gradient MCMC samplers
// under a wall-clock budget. Every point of a hyperparameter grid becomes an
// arm, every arm samples for the same time slice, and a successive-halving
// tournament keeps the best 1/Eta of the arms after each round until one or
// two remain.
//
// # Features
//
// The package includes the following key features:
//
//   - Time-budgeted runs: Samplers are compared on what they produce in the
//     same amount of wall-clock time, not in the same number of steps
//   - Successive halving: Poor arms are dropped early so the budget goes to
//     the promising ones
//   - Any kernel: A kernel is four functions over a state type of your choice,
//     see Kernel and KernelBuilder
//   - Any metric: Arms are ranked by an ErrorFunc over samples and gradients,
//     the metric package ships kernel Stein discrepancies and a moment error
//   - Reproducible randomness: A splittable Key gives every arm and every round
//     its own independent stream
//   - Progress Monitoring: Round and arm updates via channels
//   - Bounded parallelism: Arms of a round can run concurrently
//
// # Budget
//
// Given R seconds, K arms and an elimination factor Eta, the tournament runs
// N = floor(log(K) / log(Eta)) rounds. With r0 = R / sum(Eta^i, i < N) every
// live arm samples for r0 seconds in each round:
//
//	b, err := ComputeBudget(8, 3, 9)
//	// 2 rounds, 9 arms then 3 arms, 2s per arm per round
//
// Configurations that would leave 3 or more arms after the last round are
// rejected with ErrInvalidConfig before anything runs.
//
// # Usage
//
//	model, _ := sgld.NewModel(data, 1, 10)
//
//	grid := GridSpec{
//	    LogSpace("dt", -5, -1, 3, 10),
//	    Values("batch_size", 10, 100, 1000),
//	}
//
//	config := DefaultConfig()
//	config.Transform = model.FullBatchGrads
//
//	best, err := RunTournament(
//	    ctx,
//	    NewKey(42),
//	    sgld.Build(model),
//	    metric.IMQKSD,
//	    10,
//	    make([]float64, model.Dim()),
//	    grid,
//	    config,
//	)
//
// # Configuration
//
// The Config struct allows customization of the tournament:
//
//	type Config struct {
//	    Eta          int                   // Elimination factor, at least 2
//	    SaveRate     int                   // Keep every SaveRate-th step
//	    Transform    Transform             // Rewrites samples before scoring
//	    MaxParallel  int                   // Arms run concurrently, <= GOMAXPROCS
//	    Now          func() time.Time      // Clock of the timed runs
//	    Logger       logrus.FieldLogger    // Defaults to a discarding logger
//	    ProgressChan chan<- ProgressUpdate // For progress monitoring
//	}
//
// A grid axis named "save_rate" overrides SaveRate per arm.
//
// # Failures
//
//   - A run whose saved samples turn non-finite yields nothing and its arm
//     ranks last with a +Inf metric
//   - A kernel returning ErrGradientDivergence skips the arm for that round,
//     it keeps its previous samples and metric
//   - Any other kernel error, or a cancelled context, aborts the tournament
//
// # Thread Safety
//
//   - RunTournament holds no global state, concurrent tournaments are safe
//   - With MaxParallel > 1 the kernel functions are called from several
//     goroutines, on different states
//   - Progress updates never block, they are dropped when the channel is full
package mamba
