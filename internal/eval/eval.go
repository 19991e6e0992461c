// Package eval computes point-in-time performance metrics for a single
// window's realized signal-vs-outcome pairs.
package eval

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/tealfin/walkforward/internal/timeseries"
	"github.com/tealfin/walkforward/internal/window"
)

// AlignmentError reports a prediction/outcome timestamp mismatch.
type AlignmentError struct {
	At     time.Time
	Reason string
}

func (e *AlignmentError) Error() string {
	if !e.At.IsZero() {
		return fmt.Sprintf("alignment error at %s: %s", e.At.Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("alignment error: %s", e.Reason)
}

var (
	// ErrNoSamples is returned when NaN exclusion leaves nothing to score.
	// Returning a 0.0 metric here would look like a real result.
	ErrNoSamples = errors.New("no usable samples after NaN exclusion")

	// ErrZeroVolatility is returned when a Sharpe ratio is requested for a
	// return series with zero variance. The ratio is undefined there.
	ErrZeroVolatility = errors.New("sharpe ratio undefined for zero-volatility return series")

	// ErrTotalLoss is returned when compounding drives equity to or below
	// zero. Leveraged positions can lose more than 100% in one period, and
	// annualized return is undefined past that point.
	ErrTotalLoss = errors.New("cumulative return at or below -100%; annualized return undefined")
)

// Params holds the evaluation parameters that must never be implicit. The
// annualization factor is the number of periods per year (252 for daily
// bars); the risk-free rate is per period and defaults to zero only by the
// caller's explicit choice, never by omission here.
type Params struct {
	AnnualizationFactor float64 `json:"annualization_factor" yaml:"annualization_factor"`
	RiskFreeRate        float64 `json:"risk_free_rate" yaml:"risk_free_rate"`
}

// Evaluator scores one window's predictions against realized outcomes.
type Evaluator struct {
	params Params
}

// New builds an evaluator. The annualization factor must be positive.
func New(params Params) (*Evaluator, error) {
	if params.AnnualizationFactor <= 0 {
		return nil, fmt.Errorf("annualization factor must be positive, got %g", params.AnnualizationFactor)
	}
	return &Evaluator{params: params}, nil
}

// Summary holds the scalar metrics for one evaluated window.
type Summary struct {
	CumulativeReturn     float64 `json:"cumulative_return"`
	AnnualizedReturn     float64 `json:"annualized_return"`
	AnnualizedVolatility float64 `json:"annualized_volatility"`
	Sharpe               float64 `json:"sharpe"`
	MaxDrawdown          float64 `json:"max_drawdown"`
	HitRate              float64 `json:"hit_rate"`
	Turnover             float64 `json:"turnover"`
	MeanReturn           float64 `json:"mean_return"`
}

// Result holds everything computed for one window. It is immutable once
// produced: the engine aggregates results, it never rewrites them.
type Result struct {
	WindowIndex int       `json:"window_index"`
	TrainStart  time.Time `json:"train_start"`
	TrainEnd    time.Time `json:"train_end"`
	TestStart   time.Time `json:"test_start"`
	TestEnd     time.Time `json:"test_end"`
	InSample    bool      `json:"in_sample"`

	Timestamps []time.Time `json:"timestamps"`
	Returns    []float64   `json:"returns"`

	SampleSize int `json:"sample_size"`
	Excluded   int `json:"excluded"`

	Summary Summary `json:"summary"`
}

// Evaluate scores predictions against realized outcomes for the given
// window of data, the frame its plan was built over. Both frames must carry
// exactly one column and exactly the window's evaluation-range timestamp
// set as it appears in data. Rows with NaN in either frame are excluded
// from every metric and counted in Result.Excluded.
//
// Hit-rate convention: a prediction is a hit when it shares the outcome's
// sign; a flat (zero) prediction hits only a zero outcome. Turnover is the
// mean L1 position change per period, with the first period charged the
// full entry from flat.
func (e *Evaluator) Evaluate(data, predictions, outcomes *timeseries.Frame, w window.Window, inSample bool) (*Result, error) {
	preds, err := singleColumn(predictions, "predictions")
	if err != nil {
		return nil, err
	}
	outs, err := singleColumn(outcomes, "outcomes")
	if err != nil {
		return nil, err
	}

	if err := checkAlignment(data, predictions, outcomes, w, inSample); err != nil {
		return nil, err
	}

	index := predictions.Index()

	// Exclude NaN rows up front; every metric below sees the same sample.
	var (
		timestamps []time.Time
		positions  []float64
		realized   []float64
		excluded   int
	)
	for i := range preds {
		if math.IsNaN(preds[i]) || math.IsNaN(outs[i]) {
			excluded++
			continue
		}
		timestamps = append(timestamps, index[i])
		positions = append(positions, preds[i])
		realized = append(realized, outs[i])
	}
	if len(positions) == 0 {
		return nil, fmt.Errorf("window %d (%d rows, %d excluded): %w", w.Index, len(preds), excluded, ErrNoSamples)
	}

	returns := make([]float64, len(positions))
	for i := range positions {
		returns[i] = positions[i] * realized[i]
	}

	summary, err := e.summarize(returns, positions, realized)
	if err != nil {
		return nil, fmt.Errorf("window %d: %w", w.Index, err)
	}

	return &Result{
		WindowIndex: w.Index,
		TrainStart:  w.TrainStart,
		TrainEnd:    w.TrainEnd,
		TestStart:   w.TestStart,
		TestEnd:     w.TestEnd,
		InSample:    inSample,
		Timestamps:  timestamps,
		Returns:     returns,
		SampleSize:  len(returns),
		Excluded:    excluded,
		Summary:     summary,
	}, nil
}

func (e *Evaluator) summarize(returns, positions, realized []float64) (Summary, error) {
	n := float64(len(returns))

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
	if cumulative <= -1 {
		return Summary{}, ErrTotalLoss
	}

	annualizedReturn := math.Pow(1+cumulative, e.params.AnnualizationFactor/n) - 1
	annualizedVol := std * math.Sqrt(e.params.AnnualizationFactor)

	if std == 0 {
		return Summary{}, ErrZeroVolatility
	}
	sharpe := (mean - e.params.RiskFreeRate) / std * math.Sqrt(e.params.AnnualizationFactor)

	return Summary{
		CumulativeReturn:     cumulative,
		AnnualizedReturn:     annualizedReturn,
		AnnualizedVolatility: annualizedVol,
		Sharpe:               sharpe,
		MaxDrawdown:          MaxDrawdown(returns),
		HitRate:              hitRate(positions, realized),
		Turnover:             turnover(positions),
		MeanReturn:           mean,
	}, nil
}

// MaxDrawdown computes the peak-to-trough loss on the compounded equity
// curve of the given per-period returns. 0.10 means a 10% drawdown.
func MaxDrawdown(returns []float64) float64 {
	equity := 1.0
	peak := 1.0
	maxDD := 0.0
	for _, r := range returns {
		equity *= 1 + r
		if equity > peak {
			peak = equity
		}
		if dd := (peak - equity) / peak; dd > maxDD {
			maxDD = dd
		}
	}
	return maxDD
}

func hitRate(positions, realized []float64) float64 {
	hits := 0
	for i := range positions {
		if positions[i]*realized[i] > 0 || (positions[i] == 0 && realized[i] == 0) {
			hits++
		}
	}
	return float64(hits) / float64(len(positions))
}

func turnover(positions []float64) float64 {
	prev := 0.0
	total := 0.0
	for _, p := range positions {
		total += math.Abs(p - prev)
		prev = p
	}
	return total / float64(len(positions))
}

func singleColumn(f *timeseries.Frame, role string) ([]float64, error) {
	cols := f.Columns()
	if len(cols) != 1 {
		return nil, &AlignmentError{Reason: fmt.Sprintf("%s frame must have exactly one column, got %d", role, len(cols))}
	}
	values, err := f.Column(cols[0])
	if err != nil {
		return nil, err
	}
	return values, nil
}

// checkAlignment verifies both frames carry exactly the window's timestamp
// set: same length, pairwise-equal timestamps, each matching the window's
// observation grid in the data frame. Frames that agree with each other
// but sit off the grid inside the evaluation range are rejected too.
func checkAlignment(data, predictions, outcomes *timeseries.Frame, w window.Window, inSample bool) error {
	if predictions.Len() != outcomes.Len() {
		return &AlignmentError{Reason: fmt.Sprintf("predictions have %d rows, outcomes have %d", predictions.Len(), outcomes.Len())}
	}

	grid := w.TestSlice(data).Index()
	if inSample {
		grid = w.TrainSlice(data).Index()
	}
	if predictions.Len() != len(grid) {
		return &AlignmentError{Reason: fmt.Sprintf("expected %d rows for the evaluation range, got %d", len(grid), predictions.Len())}
	}

	pIdx := predictions.Index()
	oIdx := outcomes.Index()
	for i := range pIdx {
		if !pIdx[i].Equal(oIdx[i]) {
			return &AlignmentError{At: pIdx[i], Reason: "prediction and outcome timestamps differ"}
		}
		if !pIdx[i].Equal(grid[i]) {
			return &AlignmentError{At: pIdx[i], Reason: "timestamp not on the window's observation grid"}
		}
	}
	return nil
}
