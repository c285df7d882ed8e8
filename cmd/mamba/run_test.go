package main

import (
	"bytes"
	"context"
	"io"
	"math"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/mamba"
	"github.com/thalesfsp/mamba/config"
	"github.com/thalesfsp/mamba/sgld"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		level string
		want  logrus.Level
	}{
		{"debug", logrus.DebugLevel},
		{"info", logrus.InfoLevel},
		{"warn", logrus.WarnLevel},
		{"error", logrus.ErrorLevel},
		{"invalid", logrus.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			var buf bytes.Buffer

			logger := newLogger(tt.level, &buf)
			assert.Equal(t, tt.want, logger.GetLevel())

			logger.Error("hello")
			assert.Contains(t, buf.String(), `"msg":"hello"`)
		})
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	cmd := newRunCmd()
	require.NoError(t, cmd.Flags().Set("seed", "9"))
	require.NoError(t, cmd.Flags().Set("budget", "1.5"))
	require.NoError(t, cmd.Flags().Set("log-level", "DEBUG"))

	t.Setenv("MAMBA_PARALLEL", "2")

	v := viper.New()
	for _, name := range overrideFlags {
		require.NoError(t, v.BindPFlag(name, cmd.Flags().Lookup(name)))
	}
	v.SetEnvPrefix("MAMBA")
	v.AutomaticEnv()

	cfg, err := loadConfig(v)
	require.NoError(t, err)

	assert.Equal(t, uint64(9), cfg.Seed)
	assert.Equal(t, 1.5, cfg.BudgetSeconds)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 2, cfg.MaxParallel)
	assert.Equal(t, 3, cfg.Eta)

	require.NoError(t, cmd.Flags().Set("eta", "1"))
	_, err = loadConfig(v)
	assert.Error(t, err)
}

func TestErrorFunc(t *testing.T) {
	model, err := sgld.NewModel([][]float64{{0}, {1}, {2}}, 1, 1)
	require.NoError(t, err)

	samples := [][]float64{{0.5}, {1.5}}
	grads := [][]float64{{0.1}, {-0.1}}

	for _, name := range []string{config.MetricIMQKSD, config.MetricGaussianKSD, config.MetricMoments} {
		fn, err := errorFunc(config.MetricConfig{Name: name, Sigma: 1, MaxPoints: 1}, model)
		require.NoError(t, err, name)
		assert.False(t, math.IsNaN(fn(samples, grads)), name)
	}

	_, err = errorFunc(config.MetricConfig{Name: "mse"}, model)
	assert.Error(t, err)
}

func TestCollectRounds(t *testing.T) {
	progress := make(chan mamba.ProgressUpdate, 16)

	progress <- mamba.ProgressUpdate{Phase: mamba.PhaseRoundStart, Round: 0}
	progress <- mamba.ProgressUpdate{Phase: mamba.PhaseArmDone, Arm: &mamba.ArmSummary{Metric: 3}}
	progress <- mamba.ProgressUpdate{Phase: mamba.PhaseArmDone, Arm: &mamba.ArmSummary{Metric: 2}}
	progress <- mamba.ProgressUpdate{Phase: mamba.PhaseArmSkipped, Arm: &mamba.ArmSummary{}}
	progress <- mamba.ProgressUpdate{Phase: mamba.PhaseRoundEnd, Round: 0, LiveArms: 1, TimeSlice: time.Second}
	close(progress)

	history := collectRounds(progress)
	require.Len(t, history, 1)
	assert.Equal(t, roundResult{Round: 1, LiveArms: 1, TimeSlice: "1s", Skipped: 1, Best: 2}, history[0])
}

func TestProgressBufferHoldsEveryUpdate(t *testing.T) {
	grid := mamba.GridSpec{mamba.LinSpace("x", 1, 27, 27)}

	budget, err := mamba.ComputeBudget(0.013, 3, grid.Size())
	require.NoError(t, err)
	require.Equal(t, 3, budget.Rounds)

	build := func(h mamba.Hyperparameters) (mamba.Kernel[[]float64], error) {
		x := []float64{h["x"]}

		return mamba.Kernel[[]float64]{
			Init:   func(mamba.Key, []float64) ([]float64, error) { return x, nil },
			Step:   func(int, mamba.Key, []float64) ([]float64, error) { return x, nil },
			Params: func(s []float64) []float64 { return s },
			Grad:   func(s []float64) []float64 { return s },
		}, nil
	}

	clock := time.Unix(0, 0)
	progress := make(chan mamba.ProgressUpdate, progressBuffer(budget))

	cfg := mamba.DefaultConfig()
	cfg.ProgressChan = progress
	cfg.Now = func() time.Time {
		clock = clock.Add(100 * time.Microsecond)
		return clock
	}

	best, err := mamba.RunTournament(context.Background(), mamba.NewKey(0), build, func(s, _ [][]float64) float64 {
		return s[0][0]
	}, budget.Total, []float64{0}, grid, cfg)
	require.NoError(t, err)
	assert.Equal(t, 1.0, best.Hyperparameters["x"])

	// 3 rounds of 27, 9 and 3 arms.
	assert.Equal(t, 2*3+1+27+9+3, cap(progress))
	require.Len(t, progress, cap(progress))

	history := collectRounds(closed(progress))
	require.Len(t, history, 3)
	for _, r := range history {
		assert.Equal(t, 0, r.Skipped)
		assert.False(t, math.IsInf(r.Best, 1))
	}
}

func closed(ch chan mamba.ProgressUpdate) <-chan mamba.ProgressUpdate {
	close(ch)
	return ch
}

func TestRun(t *testing.T) {
	cfg := config.Default()
	cfg.BudgetSeconds = 0.2
	cfg.Data.Size = 100
	cfg.Metric.MaxPoints = 100
	require.NoError(t, cfg.Validate())

	var out bytes.Buffer
	logger := newLogger("info", io.Discard)

	require.NoError(t, run(context.Background(), cfg, &out, logger))

	var res result
	require.NoError(t, yaml.Unmarshal(out.Bytes(), &res))

	assert.NotEmpty(t, res.RunID)
	assert.Contains(t, res.Hyperparameters, "dt")
	assert.Contains(t, res.Hyperparameters, "batch_size")
	assert.Len(t, res.PosteriorMean, 2)
	assert.Len(t, res.Rounds, 2)
}
