package strategy

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/eval"
	"github.com/tealfin/walkforward/internal/timeseries"
	"github.com/tealfin/walkforward/internal/window"
)

func frame(t *testing.T, column string, values []float64) *timeseries.Frame {
	t.Helper()
	index := make([]time.Time, len(values))
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := range index {
		index[i] = start.AddDate(0, 0, i)
	}
	f, err := timeseries.New(index, map[string][]float64{column: values})
	require.NoError(t, err)
	return f
}

func TestFactory(t *testing.T) {
	for _, name := range []string{NameTrend, NameZScore, NameBuyAndHold} {
		model, err := New(name, "ret")
		require.NoError(t, err)
		assert.NotNil(t, model)
	}

	_, err := New("martingale", "ret")
	assert.Error(t, err)
}

func TestTrendFollowsTrainDrift(t *testing.T) {
	ctx := context.Background()

	fitted, err := (&Trend{SignalColumn: "ret"}).Fit(ctx, frame(t, "ret", []float64{0.01, 0.02, -0.005, 0.01}))
	require.NoError(t, err)

	preds, err := fitted.Predict(ctx, frame(t, "ret", []float64{0.001, math.NaN(), -0.002}))
	require.NoError(t, err)

	positions, err := preds.Column("position")
	require.NoError(t, err)
	assert.Equal(t, 1.0, positions[0], "positive train drift goes long")
	assert.True(t, math.IsNaN(positions[1]), "NaN signal stays NaN")
	assert.Equal(t, 1.0, positions[2])
}

func TestTrendGoesShortOnNegativeDrift(t *testing.T) {
	ctx := context.Background()

	fitted, err := (&Trend{SignalColumn: "ret"}).Fit(ctx, frame(t, "ret", []float64{-0.01, -0.02, 0.005}))
	require.NoError(t, err)

	preds, err := fitted.Predict(ctx, frame(t, "ret", []float64{0.001, 0.002}))
	require.NoError(t, err)

	positions, err := preds.Column("position")
	require.NoError(t, err)
	assert.Equal(t, []float64{-1.0, -1.0}, positions)
}

func TestZScorePositions(t *testing.T) {
	ctx := context.Background()

	// Train distribution: mean 0, sigma 1 over {-1, 1} repeated.
	train := frame(t, "x", []float64{-1, 1, -1, 1, -1, 1})
	fitted, err := (&ZScore{SignalColumn: "x"}).Fit(ctx, train)
	require.NoError(t, err)

	preds, err := fitted.Predict(ctx, frame(t, "x", []float64{0.5, -0.5, 10, math.NaN()}))
	require.NoError(t, err)

	positions, err := preds.Column("position")
	require.NoError(t, err)

	// sigma = sqrt(6/5); z = -(v-0)/sigma.
	sigma := math.Sqrt(6.0 / 5.0)
	assert.InDelta(t, -0.5/sigma, positions[0], 1e-12)
	assert.InDelta(t, 0.5/sigma, positions[1], 1e-12)
	assert.Equal(t, -1.0, positions[2], "stretched signal clamps at the cap")
	assert.True(t, math.IsNaN(positions[3]))
}

func TestZScoreRejectsDegenerateTrain(t *testing.T) {
	ctx := context.Background()

	_, err := (&ZScore{SignalColumn: "x"}).Fit(ctx, frame(t, "x", []float64{2, 2, 2, 2}))
	assert.Error(t, err, "zero dispersion cannot be standardized")

	_, err = (&ZScore{SignalColumn: "x"}).Fit(ctx, frame(t, "x", []float64{2}))
	assert.Error(t, err)
}

func TestBuyAndHold(t *testing.T) {
	ctx := context.Background()

	fitted, err := (&BuyAndHold{}).Fit(ctx, frame(t, "ret", []float64{0.01}))
	require.NoError(t, err)

	preds, err := fitted.Predict(ctx, frame(t, "ret", []float64{0.1, -0.2, 0.3}))
	require.NoError(t, err)

	positions, err := preds.Column("position")
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 1, 1}, positions)
}

func TestTrendThroughEngine(t *testing.T) {
	// Upward-drifting returns: the trend model should stay long and the full
	// pipeline should produce a positive out-of-sample mean.
	values := make([]float64, 160)
	for i := range values {
		values[i] = 0.002 + 0.01*math.Sin(float64(i)*0.9)
	}
	data := frame(t, "ret", values)

	e, err := engine.New(engine.Config{
		Windows:       window.Config{Mode: window.ModeRolling, TrainSize: 80, TestSize: 20, Step: 20},
		Eval:          eval.Params{AnnualizationFactor: 252},
		OutcomeColumn: "ret",
	})
	require.NoError(t, err)

	report, err := e.Run(context.Background(), data, &Trend{SignalColumn: "ret"})
	require.NoError(t, err)
	require.Len(t, report.Windows, 4)
	assert.Greater(t, report.OutOfSample.MeanReturn, 0.0)
}
