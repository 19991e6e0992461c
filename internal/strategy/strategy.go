// Package strategy ships reference models for the walk-forward engine.
// They are deliberately simple: the engine treats models as black boxes,
// and these exist to exercise the full pipeline and serve as templates.
package strategy

import (
	"context"
	"fmt"
	"math"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/timeseries"
)

// Names of the built-in models.
const (
	NameTrend      = "trend"
	NameZScore     = "zscore"
	NameBuyAndHold = "buy-and-hold"
)

// New builds a built-in model by name. signalColumn names the feature
// column the model reads; empty means the sole feature column.
func New(name, signalColumn string) (engine.Model, error) {
	switch name {
	case NameTrend:
		return &Trend{SignalColumn: signalColumn}, nil
	case NameZScore:
		return &ZScore{SignalColumn: signalColumn}, nil
	case NameBuyAndHold:
		return &BuyAndHold{}, nil
	default:
		return nil, fmt.Errorf("unknown strategy %q (built-ins: %s, %s, %s)",
			name, NameTrend, NameZScore, NameBuyAndHold)
	}
}

// signal resolves the column a model reads from a feature frame.
func signal(f *timeseries.Frame, column string) ([]float64, error) {
	if column == "" {
		cols := f.Columns()
		if len(cols) != 1 {
			return nil, fmt.Errorf("signal column not set and frame has %d columns", len(cols))
		}
		column = cols[0]
	}
	return f.Column(column)
}

// trainStats returns mean and standard deviation of the column, ignoring
// NaN rows.
func trainStats(values []float64) (mu, sigma float64, n int) {
	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		mu += v
		n++
	}
	if n == 0 {
		return 0, 0, 0
	}
	mu /= float64(n)

	for _, v := range values {
		if math.IsNaN(v) {
			continue
		}
		d := v - mu
		sigma += d * d
	}
	if n > 1 {
		sigma /= float64(n - 1)
	}
	return mu, math.Sqrt(sigma), n
}

// constant emits one fixed position per timestamp of the feature frame,
// with NaN signal rows carried through as NaN positions.
func constant(features *timeseries.Frame, column string, position float64) (*timeseries.Frame, error) {
	values, err := signal(features, column)
	if err != nil {
		return nil, err
	}
	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		out[i] = position
	}
	return timeseries.New(features.Index(), map[string][]float64{"position": out})
}

// Trend goes long when the train-range mean of the signal is positive,
// short when negative, flat when zero or when the train range is empty.
type Trend struct {
	SignalColumn string
}

// Fit estimates the train-range drift direction.
func (m *Trend) Fit(ctx context.Context, train *timeseries.Frame) (engine.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := signal(train, m.SignalColumn)
	if err != nil {
		return nil, err
	}
	mu, _, n := trainStats(values)

	position := 0.0
	if n > 0 && mu > 0 {
		position = 1.0
	} else if n > 0 && mu < 0 {
		position = -1.0
	}
	return &fittedTrend{column: m.SignalColumn, position: position}, nil
}

type fittedTrend struct {
	column   string
	position float64
}

func (f *fittedTrend) Predict(ctx context.Context, features *timeseries.Frame) (*timeseries.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return constant(features, f.column, f.position)
}

// ZScore standardizes the signal against its train-range distribution and
// takes the clamped negative z-score as the position: stretched-high
// signals are shorted, stretched-low signals are bought.
type ZScore struct {
	SignalColumn string

	// Cap bounds the absolute position; 0 means the default of 1.
	Cap float64
}

// Fit estimates the train-range location and scale of the signal.
func (m *ZScore) Fit(ctx context.Context, train *timeseries.Frame) (engine.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := signal(train, m.SignalColumn)
	if err != nil {
		return nil, err
	}
	mu, sigma, n := trainStats(values)
	if n < 2 || sigma == 0 {
		return nil, fmt.Errorf("train range has no usable dispersion (%d samples, sigma=%g)", n, sigma)
	}

	limit := m.Cap
	if limit <= 0 {
		limit = 1.0
	}
	return &fittedZScore{column: m.SignalColumn, mu: mu, sigma: sigma, limit: limit}, nil
}

type fittedZScore struct {
	column string
	mu     float64
	sigma  float64
	limit  float64
}

func (f *fittedZScore) Predict(ctx context.Context, features *timeseries.Frame) (*timeseries.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	values, err := signal(features, f.column)
	if err != nil {
		return nil, err
	}

	out := make([]float64, len(values))
	for i, v := range values {
		if math.IsNaN(v) {
			out[i] = math.NaN()
			continue
		}
		z := -(v - f.mu) / f.sigma
		out[i] = math.Max(-f.limit, math.Min(f.limit, z))
	}
	return timeseries.New(features.Index(), map[string][]float64{"position": out})
}

// BuyAndHold holds a unit long position regardless of the train range.
// It is the benchmark every other model should beat.
type BuyAndHold struct{}

// Fit is a no-op.
func (m *BuyAndHold) Fit(ctx context.Context, train *timeseries.Frame) (engine.FittedModel, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fittedHold{}, nil
}

type fittedHold struct{}

func (fittedHold) Predict(ctx context.Context, features *timeseries.Frame) (*timeseries.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make([]float64, features.Len())
	for i := range out {
		out[i] = 1.0
	}
	return timeseries.New(features.Index(), map[string][]float64{"position": out})
}
