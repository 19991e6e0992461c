package window

import (
	"fmt"
	"time"

	"github.com/tealfin/walkforward/internal/timeseries"
)

// Mode selects the walk-forward split policy.
type Mode string

const (
	// ModeExpanding keeps the train start anchored at the series origin and
	// grows the train range as the test boundary advances.
	ModeExpanding Mode = "expanding"
	// ModeRolling slides both train bounds forward, keeping a constant
	// train size.
	ModeRolling Mode = "rolling"
)

// Valid reports whether the mode is a recognized split policy.
func (m Mode) Valid() bool {
	return m == ModeExpanding || m == ModeRolling
}

// Config describes a walk-forward split. All sizes are in periods (rows).
type Config struct {
	Mode         Mode `json:"mode" yaml:"mode"`
	TrainSize    int  `json:"train_size" yaml:"train_size"`
	TestSize     int  `json:"test_size" yaml:"test_size"`
	Step         int  `json:"step" yaml:"step"`
	MinTrainSize int  `json:"min_train_size" yaml:"min_train_size"`
}

// withDefaults resolves optional fields: Step defaults to TestSize (adjacent,
// non-overlapping test ranges) and MinTrainSize defaults to TrainSize.
func (c Config) withDefaults() Config {
	if c.Step == 0 {
		c.Step = c.TestSize
	}
	if c.MinTrainSize == 0 {
		c.MinTrainSize = c.TrainSize
	}
	return c
}

func (c Config) validate() error {
	if !c.Mode.Valid() {
		return fmt.Errorf("unknown window mode %q", c.Mode)
	}
	if c.TrainSize <= 0 {
		return fmt.Errorf("train_size must be positive, got %d", c.TrainSize)
	}
	if c.TestSize <= 0 {
		return fmt.Errorf("test_size must be positive, got %d", c.TestSize)
	}
	if c.Step < 0 {
		return fmt.Errorf("step must not be negative, got %d", c.Step)
	}
	if c.MinTrainSize < 0 {
		return fmt.Errorf("min_train_size must not be negative, got %d", c.MinTrainSize)
	}
	if c.MinTrainSize > c.TrainSize {
		return fmt.Errorf("min_train_size %d exceeds train_size %d", c.MinTrainSize, c.TrainSize)
	}
	return nil
}

// InsufficientDataError reports a frame too short for the requested split.
type InsufficientDataError struct {
	Have int
	Need int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("insufficient data: frame has %d periods, split needs at least %d", e.Have, e.Need)
}

// Window is one (train, test) pair of half-open intervals. Row bounds are
// authoritative; the timestamp bounds mirror them for reporting. The
// anti-lookahead invariant TrainEnd <= TestStart holds for every window a
// Plan produces.
type Window struct {
	Index int `json:"index"`

	TrainLo int `json:"train_lo"`
	TrainHi int `json:"train_hi"`
	TestLo  int `json:"test_lo"`
	TestHi  int `json:"test_hi"`

	TrainStart time.Time `json:"train_start"`
	TrainEnd   time.Time `json:"train_end"`
	TestStart  time.Time `json:"test_start"`
	TestEnd    time.Time `json:"test_end"`
}

// TrainSlice returns the train range of the frame the window was planned on.
func (w Window) TrainSlice(f *timeseries.Frame) *timeseries.Frame {
	return f.Range(w.TrainLo, w.TrainHi)
}

// TestSlice returns the test range of the frame the window was planned on.
func (w Window) TestSlice(f *timeseries.Frame) *timeseries.Frame {
	return f.Range(w.TestLo, w.TestHi)
}

// Plan is a pure function from configuration and frame bounds to an ordered
// sequence of windows. It holds no cursor: At(i) is computed on demand, so
// iteration is lazy and restartable.
type Plan struct {
	cfg    Config
	frame  *timeseries.Frame
	origin int
	count  int
}

// NewPlan validates the configuration against the frame and returns a plan.
func NewPlan(cfg Config, frame *timeseries.Frame) (*Plan, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	n := frame.Len()
	if need := cfg.MinTrainSize + cfg.TestSize; n < need {
		return nil, &InsufficientDataError{Have: n, Need: need}
	}

	// The first test boundary sits at TrainSize. On a frame too short for a
	// full initial train range the boundary retreats, but never below
	// MinTrainSize (the sufficiency check above guarantees that).
	origin := cfg.TrainSize
	if origin+cfg.TestSize > n {
		origin = n - cfg.TestSize
	}

	// Test boundaries advance by Step from the origin until the series is
	// exhausted. A final window that does not fit a full TestSize is
	// truncated to the available span, never dropped.
	count := 0
	for lo := origin; lo < n; lo += cfg.Step {
		count++
	}

	return &Plan{cfg: cfg, frame: frame, origin: origin, count: count}, nil
}

// Config returns the resolved configuration the plan was built with.
func (p *Plan) Config() Config { return p.cfg }

// Count returns the number of windows the plan produces.
func (p *Plan) Count() int { return p.count }

// At computes the i-th window. The second return is false past the end.
func (p *Plan) At(i int) (Window, bool) {
	if i < 0 || i >= p.count {
		return Window{}, false
	}

	n := p.frame.Len()
	testLo := p.origin + i*p.cfg.Step
	testHi := testLo + p.cfg.TestSize
	if testHi > n {
		testHi = n
	}

	trainHi := testLo
	trainLo := 0
	if p.cfg.Mode == ModeRolling {
		trainLo = trainHi - p.cfg.TrainSize
		if trainLo < 0 {
			trainLo = 0
		}
	}

	return Window{
		Index:      i,
		TrainLo:    trainLo,
		TrainHi:    trainHi,
		TestLo:     testLo,
		TestHi:     testHi,
		TrainStart: p.frame.At(trainLo),
		TrainEnd:   p.frame.At(trainHi),
		TestStart:  p.frame.At(testLo),
		TestEnd:    p.exclusiveBound(testHi),
	}, true
}

// exclusiveBound maps a half-open row bound to a timestamp usable with
// Frame.Slice. Past the last row it nudges just beyond the final timestamp
// so the last row stays included.
func (p *Plan) exclusiveBound(i int) time.Time {
	if i < p.frame.Len() {
		return p.frame.At(i)
	}
	return p.frame.End().Add(time.Nanosecond)
}

// Iter returns a fresh iterator over the plan. The iterator's only state is
// its position; the underlying sequence is recomputed from the plan, so any
// number of iterators can run independently.
func (p *Plan) Iter() *Iterator {
	return &Iterator{plan: p}
}

// Iterator walks a plan's windows in order.
type Iterator struct {
	plan *Plan
	next int
}

// Next returns the next window, or false when the plan is exhausted.
func (it *Iterator) Next() (Window, bool) {
	w, ok := it.plan.At(it.next)
	if ok {
		it.next++
	}
	return w, ok
}

// Reset rewinds the iterator to the first window.
func (it *Iterator) Reset() { it.next = 0 }
