// Package persistence defines the storage contracts for completed runs.
// Implementations keep reports immutable: a run is inserted once and never
// rewritten, so stored results stay reproducible.
package persistence

import (
	"context"
	"time"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/validate"
)

// TimeRange bounds a query by run creation time.
type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// RunSummary is the indexed view of a stored run, without the full
// per-window payload.
type RunSummary struct {
	RunID            string    `json:"run_id" db:"run_id"`
	CreatedAt        time.Time `json:"created_at" db:"created_at"`
	Mode             string    `json:"mode" db:"mode"`
	Windows          int       `json:"windows" db:"windows"`
	SampleSize       int       `json:"sample_size" db:"sample_size"`
	CumulativeReturn float64   `json:"cumulative_return" db:"cumulative_return"`
	AnnualizedSharpe float64   `json:"annualized_sharpe" db:"annualized_sharpe"`
	MaxDrawdown      float64   `json:"max_drawdown" db:"max_drawdown"`
}

// RunsRepo stores backtest reports and their validation verdicts.
type RunsRepo interface {
	// SaveReport persists a completed report. Saving the same run ID twice
	// is an error.
	SaveReport(ctx context.Context, report *engine.BacktestReport) error

	// SaveVerdicts persists the validation verdicts of a run.
	SaveVerdicts(ctx context.Context, verdicts []validate.Verdict) error

	// GetReport retrieves the full report for a run, or nil when unknown.
	GetReport(ctx context.Context, runID string) (*engine.BacktestReport, error)

	// GetVerdicts retrieves the stored verdicts for a run.
	GetVerdicts(ctx context.Context, runID string) ([]validate.Verdict, error)

	// ListRuns returns run summaries created in the range, newest first.
	ListRuns(ctx context.Context, tr TimeRange, limit int) ([]RunSummary, error)

	// Count returns the number of runs created in the range.
	Count(ctx context.Context, tr TimeRange) (int64, error)
}
