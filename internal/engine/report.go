package engine

import (
	"fmt"
	"math"
	"time"

	"github.com/tealfin/walkforward/internal/eval"
	"github.com/tealfin/walkforward/internal/window"
)

// Aggregate holds summary statistics over a pooled return series.
type Aggregate struct {
	Windows          int     `json:"windows"`
	SampleSize       int     `json:"sample_size"`
	Excluded         int     `json:"excluded"`
	MeanReturn       float64 `json:"mean_return"`
	StdReturn        float64 `json:"std_return"`
	CumulativeReturn float64 `json:"cumulative_return"`
	AnnualizedSharpe float64 `json:"annualized_sharpe"`
	MaxDrawdown      float64 `json:"max_drawdown"`
}

// BacktestReport is the terminal artifact of a run: the ordered per-window
// results plus aggregate statistics, with in-sample and out-of-sample
// figures kept strictly apart.
type BacktestReport struct {
	RunID     string    `json:"run_id"`
	CreatedAt time.Time `json:"created_at"`

	WindowPlan window.Config `json:"window_plan"`
	Params     eval.Params   `json:"params"`

	Windows         []*eval.Result `json:"windows"`
	InSampleWindows []*eval.Result `json:"in_sample_windows,omitempty"`

	OutOfSample Aggregate  `json:"out_of_sample"`
	InSample    *Aggregate `json:"in_sample,omitempty"`

	// OOSReturns is the stitched out-of-sample return series in time order,
	// deduplicated where test ranges overlap. This is the series the
	// statistical validator adjudicates.
	OOSReturns    []float64   `json:"oos_returns"`
	OOSTimestamps []time.Time `json:"oos_timestamps"`
}

func (e *Engine) buildReport(plan *window.Plan, oos, inSample []*eval.Result) (*BacktestReport, error) {
	returns, timestamps := stitch(oos)

	oosAgg, err := e.aggregate(oos, returns)
	if err != nil {
		return nil, fmt.Errorf("out-of-sample aggregate: %w", err)
	}

	report := &BacktestReport{
		RunID:         NewRunID(),
		CreatedAt:     time.Now().UTC(),
		WindowPlan:    plan.Config(),
		Params:        e.cfg.Eval,
		Windows:       oos,
		OutOfSample:   oosAgg,
		OOSReturns:    returns,
		OOSTimestamps: timestamps,
	}

	if inSample != nil {
		isReturns, _ := stitch(inSample)
		isAgg, err := e.aggregate(inSample, isReturns)
		if err != nil {
			return nil, fmt.Errorf("in-sample aggregate: %w", err)
		}
		report.InSampleWindows = inSample
		report.InSample = &isAgg
	}

	return report, nil
}

// stitch concatenates per-window return series in window order, skipping
// timestamps already contributed by an earlier window so overlapping test
// ranges are never double counted.
func stitch(results []*eval.Result) ([]float64, []time.Time) {
	var (
		returns    []float64
		timestamps []time.Time
		last       time.Time
	)
	for _, res := range results {
		for i, ts := range res.Timestamps {
			if !last.IsZero() && !ts.After(last) {
				continue
			}
			returns = append(returns, res.Returns[i])
			timestamps = append(timestamps, ts)
			last = ts
		}
	}
	return returns, timestamps
}

func (e *Engine) aggregate(results []*eval.Result, returns []float64) (Aggregate, error) {
	excluded := 0
	for _, res := range results {
		excluded += res.Excluded
	}

	n := float64(len(returns))
	if n == 0 {
		return Aggregate{}, eval.ErrNoSamples
	}

	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= n

	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	if len(returns) > 1 {
		variance /= n - 1
	}
	std := math.Sqrt(variance)

	cumulative := 1.0
	for _, r := range returns {
		cumulative *= 1 + r
	}
	cumulative -= 1

	if std == 0 {
		return Aggregate{}, eval.ErrZeroVolatility
	}
	sharpe := (mean - e.cfg.Eval.RiskFreeRate) / std * math.Sqrt(e.cfg.Eval.AnnualizationFactor)

	return Aggregate{
		Windows:          len(results),
		SampleSize:       len(returns),
		Excluded:         excluded,
		MeanReturn:       mean,
		StdReturn:        std,
		CumulativeReturn: cumulative,
		AnnualizedSharpe: sharpe,
		MaxDrawdown:      eval.MaxDrawdown(returns),
	}, nil
}
