// Package postgres implements the persistence contracts on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/persistence"
	"github.com/tealfin/walkforward/internal/validate"
)

// Schema creates the run storage tables. Reports are stored whole as
// JSONB next to the indexed scalar columns used for listing.
const Schema = `
CREATE TABLE IF NOT EXISTS backtest_runs (
	run_id            TEXT PRIMARY KEY,
	created_at        TIMESTAMPTZ NOT NULL,
	mode              TEXT NOT NULL,
	windows           INTEGER NOT NULL,
	sample_size       INTEGER NOT NULL,
	cumulative_return DOUBLE PRECISION NOT NULL,
	annualized_sharpe DOUBLE PRECISION NOT NULL,
	max_drawdown      DOUBLE PRECISION NOT NULL,
	report            JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_backtest_runs_created_at ON backtest_runs (created_at DESC);

CREATE TABLE IF NOT EXISTS run_verdicts (
	run_id            TEXT NOT NULL REFERENCES backtest_runs (run_id),
	sample_size       INTEGER NOT NULL,
	newey_west_lags   INTEGER NOT NULL,
	mean_excess       DOUBLE PRECISION NOT NULL,
	t_stat            DOUBLE PRECISION NOT NULL,
	p_value           DOUBLE PRECISION NOT NULL,
	corrected_p_value DOUBLE PRECISION NOT NULL,
	significant       BOOLEAN NOT NULL,
	bootstrap_p_value DOUBLE PRECISION,
	created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_run_verdicts_run_id ON run_verdicts (run_id);
`

// ErrDuplicateRun is reported when a run ID is saved twice.
var ErrDuplicateRun = fmt.Errorf("run already stored")

// runsRepo implements persistence.RunsRepo for PostgreSQL.
type runsRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewRunsRepo creates a PostgreSQL runs repository.
func NewRunsRepo(db *sqlx.DB, timeout time.Duration) persistence.RunsRepo {
	return &runsRepo{db: db, timeout: timeout}
}

// Migrate applies the storage schema.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveReport persists a completed report.
func (r *runsRepo) SaveReport(ctx context.Context, report *engine.BacktestReport) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}

	query := `
		INSERT INTO backtest_runs (run_id, created_at, mode, windows, sample_size,
			cumulative_return, annualized_sharpe, max_drawdown, report)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.ExecContext(ctx, query,
		report.RunID, report.CreatedAt, string(report.WindowPlan.Mode),
		report.OutOfSample.Windows, report.OutOfSample.SampleSize,
		report.OutOfSample.CumulativeReturn, report.OutOfSample.AnnualizedSharpe,
		report.OutOfSample.MaxDrawdown, payload)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return fmt.Errorf("run %s: %w", report.RunID, ErrDuplicateRun)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}

	return nil
}

// SaveVerdicts persists validation verdicts atomically.
func (r *runsRepo) SaveVerdicts(ctx context.Context, verdicts []validate.Verdict) error {
	if len(verdicts) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO run_verdicts (run_id, sample_size, newey_west_lags, mean_excess,
			t_stat, p_value, corrected_p_value, significant, bootstrap_p_value)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, v := range verdicts {
		var bootstrap sql.NullFloat64
		if v.BootstrapP > 0 {
			bootstrap = sql.NullFloat64{Float64: v.BootstrapP, Valid: true}
		}
		_, err = stmt.ExecContext(ctx, v.RunID, v.SampleSize, v.Lags,
			v.MeanExcess, v.TStat, v.PValue, v.CorrectedP, v.Significant, bootstrap)
		if err != nil {
			return fmt.Errorf("failed to insert verdict for run %s: %w", v.RunID, err)
		}
	}

	return tx.Commit()
}

// GetReport retrieves the full stored report, or nil when the run is
// unknown.
func (r *runsRepo) GetReport(ctx context.Context, runID string) (*engine.BacktestReport, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var payload []byte
	err := r.db.QueryRowxContext(ctx,
		`SELECT report FROM backtest_runs WHERE run_id = $1`, runID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get run %s: %w", runID, err)
	}

	var report engine.BacktestReport
	if err := json.Unmarshal(payload, &report); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stored report: %w", err)
	}
	return &report, nil
}

// GetVerdicts retrieves stored verdicts for a run in insertion order.
func (r *runsRepo) GetVerdicts(ctx context.Context, runID string) ([]validate.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, sample_size, newey_west_lags, mean_excess, t_stat,
			p_value, corrected_p_value, significant, bootstrap_p_value
		FROM run_verdicts
		WHERE run_id = $1
		ORDER BY created_at`

	rows, err := r.db.QueryxContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query verdicts: %w", err)
	}
	defer rows.Close()

	var verdicts []validate.Verdict
	for rows.Next() {
		var (
			v         validate.Verdict
			bootstrap sql.NullFloat64
		)
		err := rows.Scan(&v.RunID, &v.SampleSize, &v.Lags, &v.MeanExcess,
			&v.TStat, &v.PValue, &v.CorrectedP, &v.Significant, &bootstrap)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verdict: %w", err)
		}
		if bootstrap.Valid {
			v.BootstrapP = bootstrap.Float64
		}
		verdicts = append(verdicts, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read verdicts: %w", err)
	}

	return verdicts, nil
}

// ListRuns returns run summaries created in the range, newest first.
func (r *runsRepo) ListRuns(ctx context.Context, tr persistence.TimeRange, limit int) ([]persistence.RunSummary, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT run_id, created_at, mode, windows, sample_size,
			cumulative_return, annualized_sharpe, max_drawdown
		FROM backtest_runs
		WHERE created_at >= $1 AND created_at <= $2
		ORDER BY created_at DESC
		LIMIT $3`

	var runs []persistence.RunSummary
	if err := r.db.SelectContext(ctx, &runs, query, tr.From, tr.To, limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Count returns the number of runs created in the range.
func (r *runsRepo) Count(ctx context.Context, tr persistence.TimeRange) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	var count int64
	err := r.db.QueryRowxContext(ctx,
		`SELECT COUNT(*) FROM backtest_runs WHERE created_at >= $1 AND created_at <= $2`,
		tr.From, tr.To).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}
