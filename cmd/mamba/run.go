package main

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gonum.org/v1/gonum/stat"
	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/mamba"
	"github.com/thalesfsp/mamba/config"
	"github.com/thalesfsp/mamba/metric"
	"github.com/thalesfsp/mamba/sgld"
)

// overrideFlags can also be set through MAMBA_* environment variables.
var overrideFlags = []string{"config", "seed", "budget", "eta", "parallel", "log-level"}

func newRunCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a tournament and print the winning arm",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(v)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			return run(ctx, cfg, cmd.OutOrStdout(), newLogger(cfg.LogLevel, cmd.ErrOrStderr()))
		},
	}

	flags := cmd.Flags()
	flags.String("config", "", "path to a tournament YAML file")
	flags.Uint64("seed", 0, "root random seed")
	flags.Float64("budget", 0, "time budget R in seconds")
	flags.Int("eta", 0, "elimination factor")
	flags.Int("parallel", 0, "arms run concurrently within a round")
	flags.String("log-level", "", "debug, info, warn or error")

	for _, name := range overrideFlags {
		_ = v.BindPFlag(name, flags.Lookup(name))
	}

	v.SetEnvPrefix("MAMBA")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	return cmd
}

// loadConfig reads the config file if any, then applies flag and environment
// overrides and validates the result.
func loadConfig(v *viper.Viper) (*config.Config, error) {
	cfg := config.Default()

	if path := v.GetString("config"); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	}

	if v.IsSet("seed") {
		cfg.Seed = v.GetUint64("seed")
	}

	if v.IsSet("budget") {
		cfg.BudgetSeconds = v.GetFloat64("budget")
	}

	if v.IsSet("eta") {
		cfg.Eta = v.GetInt("eta")
	}

	if v.IsSet("parallel") {
		cfg.MaxParallel = v.GetInt("parallel")
	}

	if v.IsSet("log-level") {
		cfg.LogLevel = strings.ToLower(v.GetString("log-level"))
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

type roundResult struct {
	Round     int     `yaml:"round"`
	LiveArms  int     `yaml:"live_arms"`
	TimeSlice string  `yaml:"time_slice"`
	Skipped   int     `yaml:"skipped"`
	Best      float64 `yaml:"best_metric"`
}

type result struct {
	RunID           string                `yaml:"run_id"`
	Hyperparameters mamba.Hyperparameters `yaml:"hyperparameters"`
	Metric          float64               `yaml:"metric"`
	Samples         int                   `yaml:"samples"`
	SampleMean      []float64             `yaml:"sample_mean,omitempty"`
	PosteriorMean   []float64             `yaml:"posterior_mean"`
	Rounds          []roundResult         `yaml:"rounds"`
}

func run(ctx context.Context, cfg *config.Config, out io.Writer, logger *logrus.Logger) error {
	runID := uuid.New().String()
	log := logger.WithField("run_id", runID)

	dataKey, runKey := mamba.NewKey(cfg.Seed).Split()

	data := sgld.SyntheticData(dataKey, cfg.Data.Size, cfg.Data.Dim, cfg.Data.Mean, cfg.Data.Std)

	model, err := sgld.NewModel(data, cfg.Data.Std, cfg.Data.PriorStd)
	if err != nil {
		return err
	}

	grid, err := cfg.GridSpec()
	if err != nil {
		return err
	}

	errorFn, err := errorFunc(cfg.Metric, model)
	if err != nil {
		return err
	}

	budget, err := mamba.ComputeBudget(cfg.BudgetSeconds, cfg.Eta, grid.Size())
	if err != nil {
		return err
	}

	progress := make(chan mamba.ProgressUpdate, progressBuffer(budget))
	rounds := make(chan []roundResult, 1)

	go func() {
		rounds <- collectRounds(progress)
	}()

	tournament := mamba.Config{
		Eta:          cfg.Eta,
		SaveRate:     cfg.SaveRate,
		MaxParallel:  cfg.MaxParallel,
		Logger:       log,
		ProgressChan: progress,
	}

	if cfg.Metric.FullBatchGrads {
		tournament.Transform = model.FullBatchGrads
	}

	best, err := mamba.RunTournament(ctx, runKey, sgld.Build(model), errorFn, cfg.BudgetSeconds, cfg.Position(), grid, tournament)

	close(progress)
	history := <-rounds

	if err != nil {
		return fmt.Errorf("tournament failed: %w", err)
	}

	posterior, _ := model.Posterior()

	res := result{
		RunID:           runID,
		Hyperparameters: best.Hyperparameters,
		Metric:          best.Metric,
		Samples:         len(best.Samples),
		SampleMean:      columnMeans(best.Samples),
		PosteriorMean:   posterior,
		Rounds:          history,
	}

	enc := yaml.NewEncoder(out)
	defer enc.Close()

	return enc.Encode(res)
}

// errorFunc builds the configured error function.
func errorFunc(cfg config.MetricConfig, model *sgld.Model) (mamba.ErrorFunc, error) {
	var fn func(samples, grads [][]float64) float64

	switch cfg.Name {
	case config.MetricIMQKSD:
		fn = metric.IMQKSD
	case config.MetricGaussianKSD:
		fn = metric.GaussianKSD(cfg.Sigma)
	case config.MetricMoments:
		fn = metric.MomentError(model.Posterior())
	default:
		return nil, fmt.Errorf("unknown metric: %q", cfg.Name)
	}

	if cfg.MaxPoints > 0 {
		fn = metric.Thinned(fn, cfg.MaxPoints)
	}

	return fn, nil
}

// progressBuffer returns the number of updates a tournament sends, so that
// none of them is dropped: a start and an end per round, one per live arm and
// round, and the final one.
func progressBuffer(b mamba.Budget) int {
	n := 2*b.Rounds + 1
	for round := 0; round < b.Rounds; round++ {
		n += b.Live(round)
	}

	return n
}

// collectRounds summarises the progress stream per round until it is closed.
func collectRounds(progress <-chan mamba.ProgressUpdate) []roundResult {
	var history []roundResult

	skipped, best := 0, math.Inf(1)
	for u := range progress {
		switch u.Phase {
		case mamba.PhaseRoundStart:
			skipped, best = 0, math.Inf(1)
		case mamba.PhaseArmSkipped:
			skipped++
		case mamba.PhaseArmDone:
			best = math.Min(best, u.Arm.Metric)
		case mamba.PhaseRoundEnd:
			history = append(history, roundResult{
				Round:     u.Round + 1,
				LiveArms:  u.LiveArms,
				TimeSlice: u.TimeSlice.String(),
				Skipped:   skipped,
				Best:      best,
			})
		}
	}

	return history
}

func columnMeans(rows [][]float64) []float64 {
	if len(rows) == 0 {
		return nil
	}

	col := make([]float64, len(rows))
	means := make([]float64, len(rows[0]))
	for d := range means {
		for i, row := range rows {
			col[i] = row[d]
		}
		means[d] = stat.Mean(col, nil)
	}

	return means
}
