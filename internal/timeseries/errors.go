package timeseries

import (
	"fmt"
	"time"
)

// SchemaError reports a malformed or misaligned input frame: non-increasing
// or duplicate timestamps, a column whose length disagrees with the index,
// or a reference to a column that does not exist. Row pinpoints the
// offending row only when positive; errors with no row context leave it
// unset or negative.
type SchemaError struct {
	Column string
	Row    int
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("schema error in column %q: %s", e.Column, e.Reason)
	}
	if e.Row > 0 {
		return fmt.Sprintf("schema error at row %d: %s", e.Row, e.Reason)
	}
	return fmt.Sprintf("schema error: %s", e.Reason)
}

// LookaheadError reports an operation that would consume information from
// after the point in time it is computing for.
type LookaheadError struct {
	Op        string
	Timestamp time.Time
	Reason    string
}

func (e *LookaheadError) Error() string {
	if !e.Timestamp.IsZero() {
		return fmt.Sprintf("lookahead violation in %s at %s: %s", e.Op, e.Timestamp.Format(time.RFC3339), e.Reason)
	}
	return fmt.Sprintf("lookahead violation in %s: %s", e.Op, e.Reason)
}
