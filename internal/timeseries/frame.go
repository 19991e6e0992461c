package timeseries

import (
	"math"
	"sort"
	"time"
)

// Frame is an immutable container for aligned time-indexed observations.
// Timestamps are strictly increasing, unique, and normalized to UTC at
// construction. Every transformation returns a new Frame; nothing mutates
// in place.
type Frame struct {
	index   []time.Time
	columns map[string][]float64
	names   []string
}

// New validates the index and columns and builds a frame. Timestamps must be
// strictly increasing (which also guarantees uniqueness) and every column
// must have exactly one value per timestamp. Inputs are copied so later
// mutation of the caller's slices cannot reach the frame.
func New(index []time.Time, columns map[string][]float64) (*Frame, error) {
	idx := make([]time.Time, len(index))
	for i, ts := range index {
		idx[i] = ts.UTC()
		if i > 0 && !idx[i].After(idx[i-1]) {
			return nil, &SchemaError{Row: i, Reason: "timestamps must be strictly increasing"}
		}
	}

	names := make([]string, 0, len(columns))
	for name := range columns {
		names = append(names, name)
	}
	sort.Strings(names)

	cols := make(map[string][]float64, len(columns))
	for _, name := range names {
		values := columns[name]
		if len(values) != len(idx) {
			return nil, &SchemaError{Column: name, Reason: "value count does not match timestamp count"}
		}
		cols[name] = append([]float64(nil), values...)
	}

	return &Frame{index: idx, columns: cols, names: names}, nil
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.index) }

// Columns returns the column names in deterministic (sorted) order.
func (f *Frame) Columns() []string {
	return append([]string(nil), f.names...)
}

// Has reports whether the frame contains the named column.
func (f *Frame) Has(name string) bool {
	_, ok := f.columns[name]
	return ok
}

// Column returns a copy of the named column's values.
func (f *Frame) Column(name string) ([]float64, error) {
	values, ok := f.columns[name]
	if !ok {
		return nil, &SchemaError{Column: name, Reason: "column not found"}
	}
	return append([]float64(nil), values...), nil
}

// Index returns a copy of the frame's timestamps.
func (f *Frame) Index() []time.Time {
	return append([]time.Time(nil), f.index...)
}

// At returns the timestamp at row i.
func (f *Frame) At(i int) time.Time { return f.index[i] }

// Start returns the first timestamp. Zero time for an empty frame.
func (f *Frame) Start() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[0]
}

// End returns the last timestamp. Zero time for an empty frame.
func (f *Frame) End() time.Time {
	if len(f.index) == 0 {
		return time.Time{}
	}
	return f.index[len(f.index)-1]
}

// searchTime returns the first row whose timestamp is >= ts.
func (f *Frame) searchTime(ts time.Time) int {
	return sort.Search(len(f.index), func(i int) bool {
		return !f.index[i].Before(ts)
	})
}

// Slice returns a new frame restricted to the half-open interval [start, end).
func (f *Frame) Slice(start, end time.Time) *Frame {
	i0 := f.searchTime(start.UTC())
	i1 := f.searchTime(end.UTC())
	return f.Range(i0, i1)
}

// Range returns a new frame restricted to rows [i0, i1). Out-of-bounds
// indices are clamped, matching half-open slicing semantics.
func (f *Frame) Range(i0, i1 int) *Frame {
	if i0 < 0 {
		i0 = 0
	}
	if i1 > len(f.index) {
		i1 = len(f.index)
	}
	if i0 > i1 {
		i0 = i1
	}

	cols := make(map[string][]float64, len(f.columns))
	for _, name := range f.names {
		cols[name] = f.columns[name][i0:i1]
	}
	return &Frame{
		index:   f.index[i0:i1],
		columns: cols,
		names:   f.names,
	}
}

// Select returns a new frame containing only the named columns.
func (f *Frame) Select(names ...string) (*Frame, error) {
	cols := make(map[string][]float64, len(names))
	ordered := make([]string, 0, len(names))
	for _, name := range names {
		values, ok := f.columns[name]
		if !ok {
			return nil, &SchemaError{Column: name, Reason: "column not found"}
		}
		if _, dup := cols[name]; dup {
			continue
		}
		cols[name] = values
		ordered = append(ordered, name)
	}
	sort.Strings(ordered)
	return &Frame{index: f.index, columns: cols, names: ordered}, nil
}

// WithColumn returns a new frame with an added or replaced column.
func (f *Frame) WithColumn(name string, values []float64) (*Frame, error) {
	if len(values) != len(f.index) {
		return nil, &SchemaError{Column: name, Reason: "value count does not match timestamp count"}
	}

	cols := make(map[string][]float64, len(f.columns)+1)
	for _, n := range f.names {
		cols[n] = f.columns[n]
	}
	cols[name] = append([]float64(nil), values...)

	names := make([]string, 0, len(cols))
	for n := range cols {
		names = append(names, n)
	}
	sort.Strings(names)

	return &Frame{index: f.index, columns: cols, names: names}, nil
}

// Align inner-joins two frames on their shared timestamps only. Rows present
// in one frame but not the other are discarded; values are never filled
// across the join, so alignment can shrink but never fabricate observations.
// Column names must be disjoint.
func (f *Frame) Align(other *Frame) (*Frame, error) {
	for _, name := range other.names {
		if _, ok := f.columns[name]; ok {
			return nil, &SchemaError{Column: name, Reason: "column exists in both frames"}
		}
	}

	var shared []time.Time
	var left, right []int
	j := 0
	for i, ts := range f.index {
		for j < len(other.index) && other.index[j].Before(ts) {
			j++
		}
		if j < len(other.index) && other.index[j].Equal(ts) {
			shared = append(shared, ts)
			left = append(left, i)
			right = append(right, j)
			j++
		}
	}

	cols := make(map[string][]float64, len(f.columns)+len(other.columns))
	for _, name := range f.names {
		src := f.columns[name]
		dst := make([]float64, len(shared))
		for k, i := range left {
			dst[k] = src[i]
		}
		cols[name] = dst
	}
	for _, name := range other.names {
		src := other.columns[name]
		dst := make([]float64, len(shared))
		for k, i := range right {
			dst[k] = src[i]
		}
		cols[name] = dst
	}

	names := make([]string, 0, len(cols))
	for name := range cols {
		names = append(names, name)
	}
	sort.Strings(names)

	return &Frame{index: shared, columns: cols, names: names}, nil
}

// HasNaN reports whether the named column contains any NaN value.
func (f *Frame) HasNaN(name string) (bool, error) {
	values, ok := f.columns[name]
	if !ok {
		return false, &SchemaError{Column: name, Reason: "column not found"}
	}
	for _, v := range values {
		if math.IsNaN(v) {
			return true, nil
		}
	}
	return false, nil
}

// DropNaNRows returns a new frame excluding every row that carries a NaN in
// any column. The number of dropped rows is returned alongside so callers
// can report the exclusion rather than hide it.
func (f *Frame) DropNaNRows() (*Frame, int) {
	keep := make([]int, 0, len(f.index))
rows:
	for i := range f.index {
		for _, name := range f.names {
			if math.IsNaN(f.columns[name][i]) {
				continue rows
			}
		}
		keep = append(keep, i)
	}

	if len(keep) == len(f.index) {
		return f, 0
	}

	idx := make([]time.Time, len(keep))
	for k, i := range keep {
		idx[k] = f.index[i]
	}
	cols := make(map[string][]float64, len(f.columns))
	for _, name := range f.names {
		src := f.columns[name]
		dst := make([]float64, len(keep))
		for k, i := range keep {
			dst[k] = src[i]
		}
		cols[name] = dst
	}

	return &Frame{index: idx, columns: cols, names: f.names}, len(f.index) - len(keep)
}

// FillMethod selects how Fill replaces NaN values. Only methods that are
// bounded to past observations are permitted; anything that would reference
// a later timestamp fails with LookaheadError.
type FillMethod string

const (
	// FillForward carries the last observed past value forward.
	FillForward FillMethod = "forward"
	// FillBackward would copy a future value backward and is rejected.
	FillBackward FillMethod = "backward"
)

// Fill returns a new frame with NaN values replaced using the given method.
// FillForward leaves leading NaNs untouched: there is no past value to carry,
// and fabricating one would be a lookahead in disguise.
func (f *Frame) Fill(method FillMethod) (*Frame, error) {
	switch method {
	case FillForward:
	case FillBackward:
		return nil, &LookaheadError{Op: "fill", Reason: "backward fill references timestamps after the filled point"}
	default:
		return nil, &SchemaError{Row: -1, Reason: "unknown fill method: " + string(method)}
	}

	cols := make(map[string][]float64, len(f.columns))
	for _, name := range f.names {
		src := f.columns[name]
		dst := append([]float64(nil), src...)
		for i := 1; i < len(dst); i++ {
			if math.IsNaN(dst[i]) && !math.IsNaN(dst[i-1]) {
				dst[i] = dst[i-1]
			}
		}
		cols[name] = dst
	}

	return &Frame{index: f.index, columns: cols, names: f.names}, nil
}
