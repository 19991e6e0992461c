// Package engine orchestrates walk-forward backtests: it drives the window
// plan, hands train slices to an external model, scores predictions against
// realized outcomes and aggregates the per-window results into a report.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/tealfin/walkforward/internal/eval"
	"github.com/tealfin/walkforward/internal/telemetry"
	"github.com/tealfin/walkforward/internal/timeseries"
	"github.com/tealfin/walkforward/internal/window"
)

// Model is the external strategy contract. Fit sees only the train slice;
// the engine guarantees the slice carries no test-range rows.
type Model interface {
	Fit(ctx context.Context, train *timeseries.Frame) (FittedModel, error)
}

// FittedModel produces one prediction column for the given feature frame.
type FittedModel interface {
	Predict(ctx context.Context, features *timeseries.Frame) (*timeseries.Frame, error)
}

// WindowExecutionError wraps a failure during one window's fit, predict or
// evaluate step, identifying which window and time range failed.
type WindowExecutionError struct {
	WindowIndex int
	Stage       string
	TrainStart  time.Time
	TrainEnd    time.Time
	TestStart   time.Time
	TestEnd     time.Time
	Err         error
}

func (e *WindowExecutionError) Error() string {
	return fmt.Sprintf("window %d (%s, test %s..%s) failed: %v",
		e.WindowIndex, e.Stage,
		e.TestStart.Format(time.RFC3339), e.TestEnd.Format(time.RFC3339), e.Err)
}

func (e *WindowExecutionError) Unwrap() error { return e.Err }

// Config drives one backtest run.
type Config struct {
	Windows window.Config `json:"windows" yaml:"windows"`
	Eval    eval.Params   `json:"eval" yaml:"eval"`

	// OutcomeColumn names the realized per-period return column. Feature
	// columns are everything else unless FeatureColumns narrows them.
	OutcomeColumn  string   `json:"outcome_column" yaml:"outcome_column"`
	FeatureColumns []string `json:"feature_columns,omitempty" yaml:"feature_columns,omitempty"`

	// WithInSample additionally refits and scores each train range on
	// itself. The result lands in a separate report section, never pooled
	// with out-of-sample figures.
	WithInSample bool `json:"with_in_sample" yaml:"with_in_sample"`

	// MaxParallel bounds concurrent window evaluation; 0 or 1 runs
	// sequentially. WindowTimeout, when positive, caps one window's
	// fit+predict wall clock; exceeding it is a fatal window failure.
	MaxParallel   int           `json:"max_parallel" yaml:"max_parallel"`
	WindowTimeout time.Duration `json:"window_timeout" yaml:"window_timeout"`
}

// Engine runs walk-forward backtests under a fail-stop policy: the first
// window failure cancels outstanding work and no partial report is returned.
type Engine struct {
	cfg       Config
	evaluator *eval.Evaluator
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
}

// Option configures optional engine collaborators.
type Option func(*Engine)

// WithLogger attaches a logger; the default discards everything.
func WithLogger(logger zerolog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// WithTelemetry attaches prometheus collectors.
func WithTelemetry(m *telemetry.Metrics) Option {
	return func(e *Engine) { e.metrics = m }
}

// New validates the configuration and builds an engine.
func New(cfg Config, opts ...Option) (*Engine, error) {
	if cfg.OutcomeColumn == "" {
		return nil, errors.New("outcome column is required")
	}
	evaluator, err := eval.New(cfg.Eval)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		evaluator: evaluator,
		logger:    zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run executes the full walk-forward backtest over the frame.
func (e *Engine) Run(ctx context.Context, frame *timeseries.Frame, model Model) (*BacktestReport, error) {
	if !frame.Has(e.cfg.OutcomeColumn) {
		return nil, fmt.Errorf("frame is missing outcome column %q", e.cfg.OutcomeColumn)
	}

	plan, err := window.NewPlan(e.cfg.Windows, frame)
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("mode", string(plan.Config().Mode)).
		Int("windows", plan.Count()).
		Int("periods", frame.Len()).
		Bool("in_sample", e.cfg.WithInSample).
		Msg("starting walk-forward run")

	oos := make([]*eval.Result, plan.Count())
	var inSample []*eval.Result
	if e.cfg.WithInSample {
		inSample = make([]*eval.Result, plan.Count())
	}

	group, groupCtx := errgroup.WithContext(ctx)
	if e.cfg.MaxParallel > 1 {
		group.SetLimit(e.cfg.MaxParallel)
	} else {
		group.SetLimit(1)
	}

	for i := 0; i < plan.Count(); i++ {
		w, _ := plan.At(i)
		group.Go(func() error {
			started := time.Now()
			oosRes, isRes, err := e.runWindow(groupCtx, frame, model, w)
			e.metrics.ObserveWindow(time.Since(started), err != nil)
			if err != nil {
				return err
			}
			// Each goroutine writes only its own slot; the errgroup wait
			// is the collection barrier.
			oos[w.Index] = oosRes
			if inSample != nil {
				inSample[w.Index] = isRes
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		e.metrics.ObserveRun(true)
		e.logger.Error().Err(err).Msg("walk-forward run aborted")
		return nil, err
	}

	report, err := e.buildReport(plan, oos, inSample)
	if err != nil {
		e.metrics.ObserveRun(true)
		return nil, err
	}
	e.metrics.ObserveRun(false)

	e.logger.Info().
		Str("run_id", report.RunID).
		Int("windows", len(report.Windows)).
		Float64("oos_sharpe", report.OutOfSample.AnnualizedSharpe).
		Msg("walk-forward run completed")

	return report, nil
}

// runWindow executes fit, predict and evaluate for one window.
func (e *Engine) runWindow(ctx context.Context, frame *timeseries.Frame, model Model, w window.Window) (*eval.Result, *eval.Result, error) {
	if e.cfg.WindowTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.WindowTimeout)
		defer cancel()
	}

	train := w.TrainSlice(frame)
	test := w.TestSlice(frame)

	fitted, err := model.Fit(ctx, train)
	if err != nil {
		return nil, nil, e.windowErr(w, "fit", err)
	}

	testFeatures, err := e.features(test)
	if err != nil {
		return nil, nil, e.windowErr(w, "predict", err)
	}
	predictions, err := fitted.Predict(ctx, testFeatures)
	if err != nil {
		return nil, nil, e.windowErr(w, "predict", err)
	}

	outcomes, err := test.Select(e.cfg.OutcomeColumn)
	if err != nil {
		return nil, nil, e.windowErr(w, "evaluate", err)
	}
	oosRes, err := e.evaluator.Evaluate(frame, predictions, outcomes, w, false)
	if err != nil {
		return nil, nil, e.windowErr(w, "evaluate", err)
	}

	e.logger.Debug().
		Int("window", w.Index).
		Time("test_start", w.TestStart).
		Int("samples", oosRes.SampleSize).
		Int("excluded", oosRes.Excluded).
		Float64("sharpe", oosRes.Summary.Sharpe).
		Msg("window evaluated")

	if !e.cfg.WithInSample {
		return oosRes, nil, nil
	}

	// In-sample fit quality: score the train range with the model fitted on
	// it. Labeled explicitly so it can never be conflated with the
	// out-of-sample figure.
	trainFeatures, err := e.features(train)
	if err != nil {
		return nil, nil, e.windowErr(w, "in-sample", err)
	}
	trainPredictions, err := fitted.Predict(ctx, trainFeatures)
	if err != nil {
		return nil, nil, e.windowErr(w, "in-sample", err)
	}
	trainOutcomes, err := train.Select(e.cfg.OutcomeColumn)
	if err != nil {
		return nil, nil, e.windowErr(w, "in-sample", err)
	}
	isRes, err := e.evaluator.Evaluate(frame, trainPredictions, trainOutcomes, w, true)
	if err != nil {
		return nil, nil, e.windowErr(w, "in-sample", err)
	}

	return oosRes, isRes, nil
}

// features projects the frame the model is allowed to see: the configured
// feature columns, or everything except the outcome column.
func (e *Engine) features(f *timeseries.Frame) (*timeseries.Frame, error) {
	if len(e.cfg.FeatureColumns) > 0 {
		return f.Select(e.cfg.FeatureColumns...)
	}

	var names []string
	for _, name := range f.Columns() {
		if name != e.cfg.OutcomeColumn {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		// A pure price/return series: the model sees the outcome history in
		// its train slice anyway, so expose it as the sole feature.
		names = []string{e.cfg.OutcomeColumn}
	}
	return f.Select(names...)
}

func (e *Engine) windowErr(w window.Window, stage string, err error) error {
	return &WindowExecutionError{
		WindowIndex: w.Index,
		Stage:       stage,
		TrainStart:  w.TrainStart,
		TrainEnd:    w.TrainEnd,
		TestStart:   w.TestStart,
		TestEnd:     w.TestEnd,
		Err:         err,
	}
}

// WindowResult is the per-window metric record aggregated into reports.
type WindowResult = eval.Result

// NewRunID returns a fresh report identifier.
func NewRunID() string { return uuid.NewString() }
