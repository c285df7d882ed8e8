package mamba

import (
	"context"
	"errors"
	"math"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// nineArms is a 9 point grid whose best arm is x=1, listed out of order.
var nineArms = GridSpec{Values("x", 5, 3, 9, 1, 7, 2, 8, 4, 6)}

func testConfig(progress chan ProgressUpdate) Config {
	config := DefaultConfig()
	config.Now = newFakeClock().Now
	config.ProgressChan = progress

	return config
}

// 0.04s over 9 arms and eta=3 gives 2 rounds of 10ms per arm.
const testBudget = 0.04

type armEvent struct {
	Phase  string
	Round  int
	ID     int
	Metric float64
	Count  int
}

func armEvents(updates []ProgressUpdate) []armEvent {
	var events []armEvent
	for _, u := range updates {
		if u.Arm == nil {
			continue
		}
		events = append(events, armEvent{u.Phase, u.Round, u.Arm.ID, u.Arm.Metric, u.Arm.Samples})
	}

	return events
}

func TestRunTournamentNineArms(t *testing.T) {
	progress := make(chan ProgressUpdate, 256)
	k := &toy{}

	best, err := RunTournament(context.Background(), NewKey(0), k.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(progress))
	require.NoError(t, err)

	assert.Equal(t, 1.0, best.Hyperparameters["x"])
	assert.Equal(t, 3, best.ID)
	assert.InDelta(t, 1, best.Metric, 1e-12)
	assert.Equal(t, 2, best.Rounds)
	assert.Len(t, best.Samples, 18)

	updates := drain(progress)

	ends := filterPhase(updates, PhaseRoundEnd)
	require.Len(t, ends, 2)
	assert.Equal(t, 3, ends[0].LiveArms)
	assert.Equal(t, 1, ends[1].LiveArms)
	assert.Equal(t, ends[0].TimeSlice, ends[1].TimeSlice)

	starts := filterPhase(updates, PhaseRoundStart)
	require.Len(t, starts, 2)
	assert.Equal(t, 9, starts[0].LiveArms)
	assert.Equal(t, 3, starts[1].LiveArms)

	assert.Len(t, filterPhase(updates, PhaseArmDone), 12)

	done := filterPhase(updates, PhaseDone)
	require.Len(t, done, 1)
	assert.Equal(t, 3, done[0].Arm.ID)

	// One fresh key per arm and round.
	assert.Len(t, k.initKeys, 12)
	unique := make(map[string]bool)
	for _, key := range k.initKeys {
		unique[key] = true
	}
	assert.Len(t, unique, 12)
}

func TestRunTournamentEliminatesAbsentArm(t *testing.T) {
	progress := make(chan ProgressUpdate, 256)
	k := &toy{nan: map[float64]bool{1: true}}

	best, err := RunTournament(context.Background(), NewKey(0), k.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(progress))
	require.NoError(t, err)
	assert.Equal(t, 2.0, best.Hyperparameters["x"])

	for _, e := range armEvents(drain(progress)) {
		if e.ID != 3 {
			continue
		}

		assert.Equal(t, 0, e.Round, "absent arm must not survive the first pruning")
		assert.True(t, math.IsInf(e.Metric, 1))
		assert.Equal(t, 0, e.Count)
	}
}

func TestRunTournamentKeepsStateOnGradientDivergence(t *testing.T) {
	progress := make(chan ProgressUpdate, 256)

	// x=1 leads after round 1, then diverges on its second run.
	k := &toy{diverge: map[float64]int{1: 2}}

	best, err := RunTournament(context.Background(), NewKey(0), k.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(progress))
	require.NoError(t, err)

	assert.Equal(t, 1.0, best.Hyperparameters["x"])
	assert.Equal(t, 1, best.Rounds)
	assert.Len(t, best.Samples, 9)
	assert.InDelta(t, 1, best.Metric, 1e-12)

	skipped := filterPhase(drain(progress), PhaseArmSkipped)
	require.Len(t, skipped, 1)
	assert.Equal(t, 1, skipped[0].Round)
	assert.Equal(t, 3, skipped[0].Arm.ID)
}

func TestRunRoundLeavesDivergedArmUnchanged(t *testing.T) {
	k := &toy{diverge: map[float64]int{1: 1}}
	config := testConfig(nil).withDefaults()

	var arms []Arm
	for i, x := range []float64{1, 2} {
		h := Hyperparameters{"x": x}

		sampler, err := NewTimedSampler(k.build, h, Options{Now: config.Now})
		require.NoError(t, err)

		arm := newArm(i, h, sampler, []float64{0})
		arm.Samples = [][]float64{{x}}
		arm.Grads = [][]float64{{0}}
		arm.Metric = x
		arm.Rounds = 1
		arms = append(arms, arm)
	}

	before := arms[0]

	err := runRound(context.Background(), arms, NewKey(0).SplitN(2), ProgressUpdate{TimeSlice: 10 * time.Millisecond}, meanMetric, config, config.Now())
	require.NoError(t, err)

	assert.Equal(t, before.Hyperparameters, arms[0].Hyperparameters)
	assert.Equal(t, before.Samples, arms[0].Samples)
	assert.Equal(t, before.Grads, arms[0].Grads)
	assert.Equal(t, before.LastSample, arms[0].LastSample)
	assert.Equal(t, before.Metric, arms[0].Metric)
	assert.Equal(t, before.Rounds, arms[0].Rounds)

	assert.Equal(t, 2, arms[1].Rounds)
	assert.Len(t, arms[1].Samples, 10)
}

func TestRunTournamentIsReproducible(t *testing.T) {
	run := func() (Arm, []armEvent) {
		progress := make(chan ProgressUpdate, 256)
		k := &toy{noise: 4}

		best, err := RunTournament(context.Background(), NewKey(11), k.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(progress))
		require.NoError(t, err)

		return best, armEvents(drain(progress))
	}

	best1, events1 := run()
	best2, events2 := run()

	assert.Equal(t, best1.Hyperparameters, best2.Hyperparameters)
	assert.Equal(t, best1.Samples, best2.Samples)
	assert.Equal(t, best1.Metric, best2.Metric)
	assert.Equal(t, events1, events2)
}

func TestRunTournamentMetricInvariants(t *testing.T) {
	progress := make(chan ProgressUpdate, 256)
	k := &toy{}

	// x=9 scores NaN.
	errorFn := func(samples, grads [][]float64) float64 {
		if samples[0][0] == 9 {
			return math.NaN()
		}
		return meanMetric(samples, grads)
	}

	_, err := RunTournament(context.Background(), NewKey(0), k.build, errorFn, testBudget, []float64{0}, nineArms, testConfig(progress))
	require.NoError(t, err)

	counts := make(map[int]int)
	for _, e := range armEvents(drain(progress)) {
		assert.False(t, math.IsNaN(e.Metric))
		assert.GreaterOrEqual(t, e.Count, counts[e.ID], "arm %d lost samples", e.ID)
		counts[e.ID] = e.Count
	}
}

func TestRunTournamentParallel(t *testing.T) {
	k := &toy{}

	// A shared fake clock would let arms eat into each other's slice, so this
	// one runs on the wall clock.
	config := DefaultConfig()
	config.MaxParallel = 4
	config.SaveRate = 1000

	best, err := RunTournament(context.Background(), NewKey(0), k.build, meanMetric, 0.2, []float64{0}, nineArms, config)
	require.NoError(t, err)

	assert.Equal(t, 1.0, best.Hyperparameters["x"])
	assert.Equal(t, 2, best.Rounds)
}

func TestRunTournamentErrors(t *testing.T) {
	k := &toy{}
	ctx := context.Background()

	_, err := RunTournament(ctx, NewKey(0), k.build, meanMetric, testBudget, []float64{0}, GridSpec{Values("x", 1, 2)}, testConfig(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	config := testConfig(nil)
	config.Eta = 5
	_, err = RunTournament(ctx, NewKey(0), k.build, meanMetric, testBudget, []float64{0}, GridSpec{LinSpace("x", 1, 20, 20)}, config)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = RunTournament(ctx, NewKey(0), k.build, meanMetric, testBudget, []float64{0}, nil, testConfig(nil))
	assert.ErrorIs(t, err, ErrEmptyGrid)

	_, err = RunTournament(ctx, NewKey(0), k.build, meanMetric, testBudget, nil, nineArms, testConfig(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = RunTournament[toyState](ctx, NewKey(0), k.build, nil, testBudget, []float64{0}, nineArms, testConfig(nil))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = RunTournament(cancelled, NewKey(0), k.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(nil))
	assert.ErrorIs(t, err, context.Canceled)

	boom := errors.New("boom")
	failing := &toy{fail: map[float64]error{7: boom}}
	_, err = RunTournament(ctx, NewKey(0), failing.build, meanMetric, testBudget, []float64{0}, nineArms, testConfig(nil))
	assert.ErrorIs(t, err, boom)
}

func TestPruneIsStable(t *testing.T) {
	arms := []Arm{
		{ID: 0, Metric: 3},
		{ID: 1, Metric: math.Inf(1)},
		{ID: 2, Metric: 1},
		{ID: 3, Metric: 1},
		{ID: 4, Metric: 2},
		{ID: 5, Metric: 1},
	}

	kept := Prune(arms, 3)
	require.Len(t, kept, 2)
	assert.Equal(t, 2, kept[0].ID)
	assert.Equal(t, 3, kept[1].ID)
}

func TestConfigCapsParallelism(t *testing.T) {
	procs := runtime.GOMAXPROCS(0)

	config := DefaultConfig()
	config.MaxParallel = procs + 8
	assert.Equal(t, procs, config.withDefaults().MaxParallel)

	config.MaxParallel = 0
	assert.Equal(t, 1, config.withDefaults().MaxParallel)

	prev := runtime.GOMAXPROCS(1)
	defer runtime.GOMAXPROCS(prev)

	config.MaxParallel = 9
	assert.Equal(t, 1, config.withDefaults().MaxParallel)
}
