package window

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tealfin/walkforward/internal/timeseries"
)

func testFrame(t *testing.T, n int) *timeseries.Frame {
	t.Helper()
	start := time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)
	idx := make([]time.Time, n)
	values := make([]float64, n)
	for i := range idx {
		idx[i] = start.AddDate(0, 0, i)
		values[i] = float64(i)
	}
	f, err := timeseries.New(idx, map[string][]float64{"ret": values})
	require.NoError(t, err)
	return f
}

func collect(p *Plan) []Window {
	var out []Window
	it := p.Iter()
	for w, ok := it.Next(); ok; w, ok = it.Next() {
		out = append(out, w)
	}
	return out
}

func TestRollingPartitionsTestPeriods(t *testing.T) {
	frame := testFrame(t, 200)
	plan, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 100, TestSize: 20, Step: 20}, frame)
	require.NoError(t, err)

	windows := collect(plan)
	require.Len(t, windows, 5)

	// Test ranges tile [100, 200) exactly: adjacent, non-overlapping, no gap.
	next := 100
	for _, w := range windows {
		assert.Equal(t, next, w.TestLo)
		assert.Equal(t, next+20, w.TestHi)
		assert.Equal(t, 100, w.TestLo-w.TrainLo, "rolling train size stays constant")
		next = w.TestHi
	}
	assert.Equal(t, 200, next)
}

func TestNoLookaheadAcrossModesAndSteps(t *testing.T) {
	frame := testFrame(t, 150)

	configs := []Config{
		{Mode: ModeExpanding, TrainSize: 50, TestSize: 10, Step: 10},
		{Mode: ModeExpanding, TrainSize: 50, TestSize: 10, Step: 7},
		{Mode: ModeExpanding, TrainSize: 50, TestSize: 25, Step: 3},
		{Mode: ModeRolling, TrainSize: 60, TestSize: 10, Step: 10},
		{Mode: ModeRolling, TrainSize: 60, TestSize: 15, Step: 4},
		{Mode: ModeRolling, TrainSize: 149, TestSize: 1, Step: 1},
	}

	for _, cfg := range configs {
		plan, err := NewPlan(cfg, frame)
		require.NoError(t, err, "config %+v", cfg)

		for _, w := range collect(plan) {
			assert.LessOrEqual(t, w.TrainHi, w.TestLo, "config %+v window %d", cfg, w.Index)
			assert.False(t, w.TrainEnd.After(w.TestStart), "config %+v window %d", cfg, w.Index)
			assert.Less(t, w.TestLo, w.TestHi, "empty test range emitted")
			assert.LessOrEqual(t, w.TestHi, frame.Len())
		}
	}
}

func TestExpandingAnchorsTrainStart(t *testing.T) {
	frame := testFrame(t, 100)
	plan, err := NewPlan(Config{Mode: ModeExpanding, TrainSize: 40, TestSize: 15, Step: 15}, frame)
	require.NoError(t, err)

	windows := collect(plan)
	require.NotEmpty(t, windows)

	prevTrain := 0
	for _, w := range windows {
		assert.Equal(t, 0, w.TrainLo, "expanding train start stays at series origin")
		assert.GreaterOrEqual(t, w.TrainHi, prevTrain, "train range only grows")
		prevTrain = w.TrainHi
	}
	assert.Greater(t, windows[len(windows)-1].TrainHi, windows[0].TrainHi)
}

func TestFinalWindowTruncated(t *testing.T) {
	frame := testFrame(t, 107)
	plan, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 80, TestSize: 10, Step: 10}, frame)
	require.NoError(t, err)

	windows := collect(plan)
	require.Len(t, windows, 3)

	last := windows[len(windows)-1]
	assert.Equal(t, 100, last.TestLo)
	assert.Equal(t, 107, last.TestHi, "remainder emitted, not dropped")
	assert.Equal(t, 7, last.TestHi-last.TestLo)
}

func TestInsufficientData(t *testing.T) {
	frame := testFrame(t, 40)
	_, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 50, TestSize: 10}, frame)

	var insufficientErr *InsufficientDataError
	require.ErrorAs(t, err, &insufficientErr)
	assert.Equal(t, 40, insufficientErr.Have)
	assert.Equal(t, 60, insufficientErr.Need)
}

func TestMinTrainSizeShrinksFirstWindow(t *testing.T) {
	frame := testFrame(t, 90)
	plan, err := NewPlan(Config{Mode: ModeExpanding, TrainSize: 100, TestSize: 20, MinTrainSize: 50}, frame)
	require.NoError(t, err)

	windows := collect(plan)
	require.Len(t, windows, 1)
	assert.Equal(t, 70, windows[0].TrainHi)
	assert.Equal(t, 90, windows[0].TestHi)
	assert.GreaterOrEqual(t, windows[0].TrainHi-windows[0].TrainLo, 50)
}

func TestStepDefaultsToTestSize(t *testing.T) {
	frame := testFrame(t, 120)
	plan, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 60, TestSize: 20}, frame)
	require.NoError(t, err)
	assert.Equal(t, 20, plan.Config().Step)

	windows := collect(plan)
	for i := 1; i < len(windows); i++ {
		assert.Equal(t, windows[i-1].TestHi, windows[i].TestLo)
	}
}

func TestConfigValidation(t *testing.T) {
	frame := testFrame(t, 100)

	cases := []Config{
		{Mode: "weekly", TrainSize: 10, TestSize: 5},
		{Mode: ModeRolling, TrainSize: 0, TestSize: 5},
		{Mode: ModeRolling, TrainSize: 10, TestSize: 0},
		{Mode: ModeRolling, TrainSize: 10, TestSize: 5, MinTrainSize: 20},
	}
	for _, cfg := range cases {
		_, err := NewPlan(cfg, frame)
		assert.Error(t, err, "config %+v", cfg)
	}
}

func TestIteratorIsRestartable(t *testing.T) {
	frame := testFrame(t, 100)
	plan, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 50, TestSize: 10, Step: 10}, frame)
	require.NoError(t, err)

	first := collect(plan)

	it := plan.Iter()
	w0, ok := it.Next()
	require.True(t, ok)
	it.Reset()
	w0again, ok := it.Next()
	require.True(t, ok)
	assert.Equal(t, w0, w0again)

	// A second independent pass sees the identical sequence.
	second := collect(plan)
	assert.Equal(t, first, second)
}

func TestSlicesMatchWindowBounds(t *testing.T) {
	frame := testFrame(t, 80)
	plan, err := NewPlan(Config{Mode: ModeRolling, TrainSize: 40, TestSize: 10, Step: 10}, frame)
	require.NoError(t, err)

	w, ok := plan.At(1)
	require.True(t, ok)

	train := w.TrainSlice(frame)
	test := w.TestSlice(frame)
	assert.Equal(t, 40, train.Len())
	assert.Equal(t, 10, test.Len())
	assert.True(t, train.End().Before(test.Start()))

	// Timestamp bounds reproduce the same slices through Frame.Slice.
	assert.Equal(t, train.Len(), frame.Slice(w.TrainStart, w.TrainEnd).Len())
	assert.Equal(t, test.Len(), frame.Slice(w.TestStart, w.TestEnd).Len())
}
