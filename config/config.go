// Package config loads the YAML description of a tournament.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/thalesfsp/mamba"
)

// Metric names accepted in Config.Metric.
const (
	MetricIMQKSD      = "imq_ksd"
	MetricGaussianKSD = "gaussian_ksd"
	MetricMoments     = "moments"
)

// Config describes one tournament over the reference SGLD kernel.
type Config struct {
	Seed            uint64       `yaml:"seed"`
	BudgetSeconds   float64      `yaml:"budget_seconds"`
	Eta             int          `yaml:"eta"`
	SaveRate        int          `yaml:"save_rate"`
	MaxParallel     int          `yaml:"max_parallel"`
	LogLevel        string       `yaml:"log_level"`
	InitialPosition []float64    `yaml:"initial_position,omitempty"`
	Grid            []AxisConfig `yaml:"grid"`
	Data            DataConfig   `yaml:"data"`
	Metric          MetricConfig `yaml:"metric"`
}

// AxisConfig is one grid axis. Exactly one of Values, LogSpace and LinSpace
// must be set.
type AxisConfig struct {
	Name     string       `yaml:"name"`
	Values   []float64    `yaml:"values,omitempty"`
	LogSpace *SpaceConfig `yaml:"logspace,omitempty"`
	LinSpace *SpaceConfig `yaml:"linspace,omitempty"`
}

// SpaceConfig is an evenly spaced range. Base only applies to logspace and
// defaults to 10.
type SpaceConfig struct {
	Start float64 `yaml:"start"`
	Stop  float64 `yaml:"stop"`
	Num   int     `yaml:"num"`
	Base  float64 `yaml:"base,omitempty"`
}

// DataConfig describes the synthetic dataset of the Gaussian model.
type DataConfig struct {
	Size     int     `yaml:"size"`
	Dim      int     `yaml:"dim"`
	Mean     float64 `yaml:"mean"`
	Std      float64 `yaml:"std"`
	PriorStd float64 `yaml:"prior_std"`
}

// MetricConfig selects the error function.
type MetricConfig struct {
	Name string `yaml:"name"`

	// Sigma is the kernel width of gaussian_ksd.
	Sigma float64 `yaml:"sigma,omitempty"`

	// MaxPoints thins each batch before scoring. 0 scores every sample.
	MaxPoints int `yaml:"max_points,omitempty"`

	// FullBatchGrads scores with exact gradients instead of the sampler's.
	FullBatchGrads bool `yaml:"full_batch_grads"`
}

// Default returns a small tournament that finishes in a few seconds.
func Default() *Config {
	return &Config{
		Seed:          0,
		BudgetSeconds: 4,
		Eta:           3,
		SaveRate:      1,
		MaxParallel:   1,
		LogLevel:      "info",
		Grid: []AxisConfig{
			{Name: "dt", LogSpace: &SpaceConfig{Start: -5, Stop: -1, Num: 3, Base: 10}},
			{Name: "batch_size", Values: []float64{10, 100, 1000}},
		},
		Data: DataConfig{
			Size:     1000,
			Dim:      2,
			Mean:     1,
			Std:      1,
			PriorStd: 10,
		},
		Metric: MetricConfig{
			Name:           MetricIMQKSD,
			MaxPoints:      1000,
			FullBatchGrads: true,
		},
	}
}

// Load loads and parses a configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}

// Parse parses a Config from YAML bytes on top of Default and validates it.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config yaml: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// ParseString parses a Config from a YAML string.
func ParseString(text string) (*Config, error) {
	return Parse([]byte(text))
}

// Validate performs validation on the configuration.
func (c *Config) Validate() error {
	if c.BudgetSeconds <= 0 {
		return fmt.Errorf("budget_seconds must be positive, got %v", c.BudgetSeconds)
	}

	if c.Eta < 2 {
		return fmt.Errorf("eta must be at least 2, got %d", c.Eta)
	}

	if c.SaveRate < 1 {
		return fmt.Errorf("save_rate must be at least 1, got %d", c.SaveRate)
	}

	if c.MaxParallel < 1 {
		return fmt.Errorf("max_parallel must be at least 1, got %d", c.MaxParallel)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log_level: %s (must be debug, info, warn, or error)", c.LogLevel)
	}

	if c.Data.Size < 1 || c.Data.Dim < 1 {
		return fmt.Errorf("data size and dim must be positive")
	}

	if c.Data.Std <= 0 || c.Data.PriorStd <= 0 {
		return fmt.Errorf("data std and prior_std must be positive")
	}

	if len(c.InitialPosition) > 0 && len(c.InitialPosition) != c.Data.Dim {
		return fmt.Errorf("initial_position has %d values, data dim is %d", len(c.InitialPosition), c.Data.Dim)
	}

	switch c.Metric.Name {
	case MetricIMQKSD, MetricMoments:
	case MetricGaussianKSD:
		if c.Metric.Sigma <= 0 {
			return fmt.Errorf("metric %s needs a positive sigma", c.Metric.Name)
		}
	default:
		return fmt.Errorf("unknown metric: %q", c.Metric.Name)
	}

	if c.Metric.MaxPoints < 0 {
		return fmt.Errorf("metric max_points cannot be negative")
	}

	grid, err := c.GridSpec()
	if err != nil {
		return fmt.Errorf("grid validation failed: %w", err)
	}

	if _, err := mamba.ComputeBudget(c.BudgetSeconds, c.Eta, grid.Size()); err != nil {
		return err
	}

	return nil
}

// GridSpec converts the grid section into a mamba.GridSpec.
func (c *Config) GridSpec() (mamba.GridSpec, error) {
	spec := make(mamba.GridSpec, 0, len(c.Grid))

	for _, axis := range c.Grid {
		set := 0
		if axis.Values != nil {
			set++
		}
		if axis.LogSpace != nil {
			set++
		}
		if axis.LinSpace != nil {
			set++
		}
		if set != 1 {
			return nil, fmt.Errorf("axis %q: exactly one of values, logspace and linspace must be set", axis.Name)
		}

		switch {
		case axis.LogSpace != nil:
			base := axis.LogSpace.Base
			if base == 0 {
				base = 10
			}
			spec = append(spec, mamba.LogSpace(axis.Name, axis.LogSpace.Start, axis.LogSpace.Stop, axis.LogSpace.Num, base))
		case axis.LinSpace != nil:
			spec = append(spec, mamba.LinSpace(axis.Name, axis.LinSpace.Start, axis.LinSpace.Stop, axis.LinSpace.Num))
		default:
			spec = append(spec, mamba.Values(axis.Name, axis.Values...))
		}
	}

	if err := spec.Validate(); err != nil {
		return nil, err
	}

	return spec, nil
}

// Position returns the initial position, zeros when none is configured.
func (c *Config) Position() []float64 {
	if len(c.InitialPosition) > 0 {
		return c.InitialPosition
	}

	return make([]float64, c.Data.Dim)
}
