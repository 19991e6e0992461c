// Package config loads the flat run configuration. Options that silently
// default would poison results (annualization, risk-free rate), so those
// are pointer fields: absent means absent, and absent is an error.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/eval"
	"github.com/tealfin/walkforward/internal/validate"
	"github.com/tealfin/walkforward/internal/window"
)

// ConfigurationError reports a missing or contradictory required option.
type ConfigurationError struct {
	Option string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: option %q %s", e.Option, e.Reason)
}

// Duration decodes YAML duration strings like "30s" or raw nanosecond
// integers into a time.Duration.
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var n int64
	if err := value.Decode(&n); err != nil {
		return fmt.Errorf("invalid duration value: %w", err)
	}
	*d = Duration(n)
	return nil
}

// Config is the flat run configuration.
type Config struct {
	// Window plan.
	Mode         string `yaml:"mode"`
	TrainSize    int    `yaml:"train_size"`
	TestSize     int    `yaml:"test_size"`
	Step         int    `yaml:"step"`
	MinTrainSize int    `yaml:"min_train_size"`

	// Evaluation. Both must be stated explicitly; there is no implicit
	// annualization and no implicit risk-free rate.
	AnnualizationFactor *float64 `yaml:"annualization_factor"`
	RiskFreeRate        *float64 `yaml:"risk_free_rate"`

	// Engine.
	OutcomeColumn  string   `yaml:"outcome_column"`
	FeatureColumns []string `yaml:"feature_columns"`
	WithInSample   bool     `yaml:"with_in_sample"`
	MaxParallel    int      `yaml:"max_parallel"`
	WindowTimeout  Duration `yaml:"window_timeout"`

	// Validation.
	CorrectionMethod  string  `yaml:"correction_method"`
	SignificanceLevel float64 `yaml:"significance_level"`
	MinIndependentObs int     `yaml:"min_independent_observations"`
	NeweyWestLags     int     `yaml:"newey_west_lags"`
	BootstrapSamples  int     `yaml:"bootstrap_samples"`
	Seed              int64   `yaml:"seed"`

	// Artifacts and persistence.
	OutputDir   string `yaml:"output_dir"`
	PostgresDSN string `yaml:"postgres_dsn"`
	MetricsAddr string `yaml:"metrics_addr"`
}

// Load reads and validates a YAML run configuration.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes and validates a YAML run configuration. Unrecognized
// options are rejected: a typo that silently disappears is a wrong result
// waiting to be reported.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config YAML: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AnnualizationFactor == nil {
		return &ConfigurationError{Option: "annualization_factor", Reason: "must be set explicitly (252 for daily periods)"}
	}
	if *c.AnnualizationFactor <= 0 {
		return &ConfigurationError{Option: "annualization_factor", Reason: "must be positive"}
	}
	if c.RiskFreeRate == nil {
		return &ConfigurationError{Option: "risk_free_rate", Reason: "must be set explicitly (0 is a choice, not a default)"}
	}
	if c.Mode == "" {
		return &ConfigurationError{Option: "mode", Reason: "must be expanding or rolling"}
	}
	if c.OutcomeColumn == "" {
		return &ConfigurationError{Option: "outcome_column", Reason: "must name the realized return column"}
	}
	if c.WindowTimeout < 0 {
		return &ConfigurationError{Option: "window_timeout", Reason: "must not be negative"}
	}
	if c.MaxParallel < 0 {
		return &ConfigurationError{Option: "max_parallel", Reason: "must not be negative"}
	}
	return nil
}

// WindowConfig maps the flat options onto the window plan.
func (c *Config) WindowConfig() window.Config {
	return window.Config{
		Mode:         window.Mode(c.Mode),
		TrainSize:    c.TrainSize,
		TestSize:     c.TestSize,
		Step:         c.Step,
		MinTrainSize: c.MinTrainSize,
	}
}

// EvalParams maps the flat options onto evaluator parameters.
func (c *Config) EvalParams() eval.Params {
	return eval.Params{
		AnnualizationFactor: *c.AnnualizationFactor,
		RiskFreeRate:        *c.RiskFreeRate,
	}
}

// EngineConfig maps the flat options onto an engine configuration.
func (c *Config) EngineConfig() engine.Config {
	return engine.Config{
		Windows:        c.WindowConfig(),
		Eval:           c.EvalParams(),
		OutcomeColumn:  c.OutcomeColumn,
		FeatureColumns: c.FeatureColumns,
		WithInSample:   c.WithInSample,
		MaxParallel:    c.MaxParallel,
		WindowTimeout:  time.Duration(c.WindowTimeout),
	}
}

// ValidatorConfig maps the flat options onto a validator configuration.
func (c *Config) ValidatorConfig() validate.Config {
	return validate.Config{
		Correction:        validate.Correction(c.CorrectionMethod),
		SignificanceLevel: c.SignificanceLevel,
		MinObservations:   c.MinIndependentObs,
		NeweyWestLags:     c.NeweyWestLags,
		BootstrapSamples:  c.BootstrapSamples,
		Seed:              c.Seed,
	}
}
