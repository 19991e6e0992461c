package postgres

import (
	"context"
	"encoding/json"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/eval"
	"github.com/tealfin/walkforward/internal/persistence"
	"github.com/tealfin/walkforward/internal/validate"
	"github.com/tealfin/walkforward/internal/window"
)

func newMockRepo(t *testing.T) (persistence.RunsRepo, sqlmock.Sqlmock) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { mockDB.Close() })

	db := sqlx.NewDb(mockDB, "sqlmock")
	return NewRunsRepo(db, 5*time.Second), mock
}

func sampleReport() *engine.BacktestReport {
	return &engine.BacktestReport{
		RunID:      "run-abc",
		CreatedAt:  time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		WindowPlan: window.Config{Mode: window.ModeRolling, TrainSize: 100, TestSize: 20},
		Params:     eval.Params{AnnualizationFactor: 252},
		OutOfSample: engine.Aggregate{
			Windows: 5, SampleSize: 100,
			CumulativeReturn: 0.12, AnnualizedSharpe: 1.4, MaxDrawdown: 0.06,
		},
		OOSReturns: []float64{0.01, -0.005},
	}
}

func TestSaveReport(t *testing.T) {
	repo, mock := newMockRepo(t)
	report := sampleReport()

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO backtest_runs")).
		WithArgs("run-abc", report.CreatedAt, "rolling", 5, 100,
			0.12, 1.4, 0.06, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.SaveReport(context.Background(), report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveReportDuplicateRunID(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO backtest_runs")).
		WillReturnError(&pq.Error{Code: "23505"})

	err := repo.SaveReport(context.Background(), sampleReport())
	require.ErrorIs(t, err, ErrDuplicateRun)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVerdicts(t *testing.T) {
	repo, mock := newMockRepo(t)

	verdicts := []validate.Verdict{
		{RunID: "run-abc", SampleSize: 100, Lags: 4, MeanExcess: 0.001, TStat: 2.3, PValue: 0.01, CorrectedP: 0.02, Significant: true, BootstrapP: 0.015},
		{RunID: "run-def", SampleSize: 100, Lags: 4, MeanExcess: 0.0001, TStat: 0.4, PValue: 0.34, CorrectedP: 0.68, Significant: false},
	}

	mock.ExpectBegin()
	mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO run_verdicts"))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_verdicts")).
		WithArgs("run-abc", 100, 4, 0.001, 2.3, 0.01, 0.02, true, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO run_verdicts")).
		WithArgs("run-def", 100, 4, 0.0001, 0.4, 0.34, 0.68, false, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.SaveVerdicts(context.Background(), verdicts))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveVerdictsEmptyIsNoop(t *testing.T) {
	repo, mock := newMockRepo(t)
	require.NoError(t, repo.SaveVerdicts(context.Background(), nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetReportRoundTrip(t *testing.T) {
	repo, mock := newMockRepo(t)
	report := sampleReport()

	payload, err := json.Marshal(report)
	require.NoError(t, err)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT report FROM backtest_runs")).
		WithArgs("run-abc").
		WillReturnRows(sqlmock.NewRows([]string{"report"}).AddRow(payload))

	got, err := repo.GetReport(context.Background(), "run-abc")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, report.RunID, got.RunID)
	assert.Equal(t, report.OutOfSample, got.OutOfSample)
	assert.Equal(t, report.OOSReturns, got.OOSReturns)
}

func TestGetReportUnknownRunReturnsNil(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT report FROM backtest_runs")).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows([]string{"report"}))

	got, err := repo.GetReport(context.Background(), "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestGetVerdicts(t *testing.T) {
	repo, mock := newMockRepo(t)

	rows := sqlmock.NewRows([]string{
		"run_id", "sample_size", "newey_west_lags", "mean_excess", "t_stat",
		"p_value", "corrected_p_value", "significant", "bootstrap_p_value",
	}).
		AddRow("run-abc", 100, 4, 0.001, 2.3, 0.01, 0.02, true, 0.015).
		AddRow("run-abc", 100, 4, 0.001, 2.3, 0.01, 0.02, true, nil)

	mock.ExpectQuery(regexp.QuoteMeta("FROM run_verdicts")).
		WithArgs("run-abc").
		WillReturnRows(rows)

	verdicts, err := repo.GetVerdicts(context.Background(), "run-abc")
	require.NoError(t, err)
	require.Len(t, verdicts, 2)
	assert.Equal(t, 0.015, verdicts[0].BootstrapP)
	assert.Zero(t, verdicts[1].BootstrapP, "NULL bootstrap column stays zero")
}

func TestListRuns(t *testing.T) {
	repo, mock := newMockRepo(t)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC)

	rows := sqlmock.NewRows([]string{
		"run_id", "created_at", "mode", "windows", "sample_size",
		"cumulative_return", "annualized_sharpe", "max_drawdown",
	}).
		AddRow("run-2", time.Date(2024, 7, 1, 0, 0, 0, 0, time.UTC), "rolling", 5, 100, 0.12, 1.4, 0.06).
		AddRow("run-1", time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), "expanding", 4, 80, 0.08, 0.9, 0.09)

	mock.ExpectQuery(regexp.QuoteMeta("FROM backtest_runs")).
		WithArgs(from, to, 10).
		WillReturnRows(rows)

	runs, err := repo.ListRuns(context.Background(), persistence.TimeRange{From: from, To: to}, 10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].RunID, "newest first")
	assert.Equal(t, 1.4, runs[0].AnnualizedSharpe)
}

func TestCount(t *testing.T) {
	repo, mock := newMockRepo(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM backtest_runs")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))

	count, err := repo.Count(context.Background(), persistence.TimeRange{
		From: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2024, 12, 31, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	assert.Equal(t, int64(7), count)
}
