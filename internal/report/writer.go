// Package report writes run artifacts to disk: per-window results as
// JSONL, a human-readable markdown report, and a compact summary JSON.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/validate"
)

// Writer writes backtest artifacts under a date-stamped subdirectory of
// the configured output directory.
type Writer struct {
	outputDir string
}

// NewWriter creates an artifact writer rooted at outputDir/<run date>.
func NewWriter(outputDir string) *Writer {
	return &Writer{
		outputDir: filepath.Join(outputDir, time.Now().UTC().Format("2006-01-02")),
	}
}

// OutputDir returns the full output directory path.
func (w *Writer) OutputDir() string {
	return w.outputDir
}

// ArtifactPaths names the files a complete run produces.
type ArtifactPaths struct {
	ResultsJSONL string `json:"results_jsonl"`
	ReportMD     string `json:"report_md"`
	SummaryJSON  string `json:"summary_json"`
	OutputDir    string `json:"output_dir"`
}

// Paths returns the artifact paths for the given run.
func (w *Writer) Paths(runID string) ArtifactPaths {
	return ArtifactPaths{
		ResultsJSONL: filepath.Join(w.outputDir, runID+"-results.jsonl"),
		ReportMD:     filepath.Join(w.outputDir, runID+"-report.md"),
		SummaryJSON:  filepath.Join(w.outputDir, runID+"-summary.json"),
		OutputDir:    w.outputDir,
	}
}

// WriteResults writes one JSON line per window result, then the full
// report as the final line.
func (w *Writer) WriteResults(report *engine.BacktestReport) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(w.Paths(report.RunID).ResultsJSONL)
	if err != nil {
		return fmt.Errorf("failed to create results file: %w", err)
	}
	defer file.Close()

	enc := json.NewEncoder(file)
	for _, window := range report.Windows {
		if err := enc.Encode(window); err != nil {
			return fmt.Errorf("failed to write window result: %w", err)
		}
	}
	if err := enc.Encode(report); err != nil {
		return fmt.Errorf("failed to write report line: %w", err)
	}

	return nil
}

// WriteReport writes the markdown report. Verdicts may be nil when the
// run skipped statistical validation.
func (w *Writer) WriteReport(report *engine.BacktestReport, verdicts []validate.Verdict) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	file, err := os.Create(w.Paths(report.RunID).ReportMD)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer file.Close()

	if _, err := file.WriteString(w.renderMarkdown(report, verdicts)); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	return nil
}

func (w *Writer) renderMarkdown(report *engine.BacktestReport, verdicts []validate.Verdict) string {
	var b strings.Builder

	b.WriteString("# Walk-Forward Backtest Report\n\n")
	b.WriteString(fmt.Sprintf("**Run ID**: %s\n", report.RunID))
	b.WriteString(fmt.Sprintf("**Generated**: %s\n", report.CreatedAt.Format("2006-01-02 15:04:05 UTC")))
	b.WriteString(fmt.Sprintf("**Window Plan**: mode=%s train=%d test=%d step=%d\n",
		report.WindowPlan.Mode, report.WindowPlan.TrainSize, report.WindowPlan.TestSize, report.WindowPlan.Step))
	b.WriteString(fmt.Sprintf("**Parameters**: annualization=%g risk_free=%g\n\n",
		report.Params.AnnualizationFactor, report.Params.RiskFreeRate))

	b.WriteString("## Out-of-Sample Summary\n\n")
	writeAggregate(&b, report.OutOfSample)

	if report.InSample != nil {
		b.WriteString("## In-Sample Summary\n\n")
		b.WriteString("In-sample figures are diagnostic only. A large gap against the\n")
		b.WriteString("out-of-sample section above indicates overfitting.\n\n")
		writeAggregate(&b, *report.InSample)
	}

	b.WriteString("## Windows\n\n")
	b.WriteString("| # | Train | Test | Samples | Excluded | Cum Return | Sharpe | Hit Rate | Max DD |\n")
	b.WriteString("|--:|-------|------|--------:|---------:|-----------:|-------:|---------:|-------:|\n")
	for _, res := range report.Windows {
		b.WriteString(fmt.Sprintf("| %d | %s → %s | %s → %s | %d | %d | %.4f | %.2f | %.2f | %.4f |\n",
			res.WindowIndex,
			res.TrainStart.Format("2006-01-02"), res.TrainEnd.Format("2006-01-02"),
			res.TestStart.Format("2006-01-02"), res.TestEnd.Format("2006-01-02"),
			res.SampleSize, res.Excluded,
			res.Summary.CumulativeReturn, res.Summary.Sharpe,
			res.Summary.HitRate, res.Summary.MaxDrawdown))
	}
	b.WriteString("\n")

	if len(verdicts) > 0 {
		b.WriteString("## Statistical Validation\n\n")
		b.WriteString("| Run | n | Lags | Mean Excess | t | p | Corrected p | Significant |\n")
		b.WriteString("|-----|--:|-----:|------------:|--:|--:|------------:|-------------|\n")
		for _, v := range verdicts {
			b.WriteString(fmt.Sprintf("| %s | %d | %d | %.6f | %.3f | %.4f | %.4f | %t |\n",
				v.RunID, v.SampleSize, v.Lags, v.MeanExcess, v.TStat, v.PValue, v.CorrectedP, v.Significant))
		}
		b.WriteString("\n")
	}

	paths := w.Paths(report.RunID)
	b.WriteString("## Artifact Paths\n\n")
	b.WriteString(fmt.Sprintf("- **Results JSONL**: `%s`\n", paths.ResultsJSONL))
	b.WriteString(fmt.Sprintf("- **Report Markdown**: `%s`\n", paths.ReportMD))
	b.WriteString(fmt.Sprintf("- **Summary JSON**: `%s`\n", paths.SummaryJSON))

	return b.String()
}

func writeAggregate(b *strings.Builder, agg engine.Aggregate) {
	b.WriteString(fmt.Sprintf("- **Windows**: %d\n", agg.Windows))
	b.WriteString(fmt.Sprintf("- **Samples**: %d (%d excluded)\n", agg.SampleSize, agg.Excluded))
	b.WriteString(fmt.Sprintf("- **Cumulative Return**: %.4f\n", agg.CumulativeReturn))
	b.WriteString(fmt.Sprintf("- **Mean / Std Return**: %.6f / %.6f\n", agg.MeanReturn, agg.StdReturn))
	b.WriteString(fmt.Sprintf("- **Annualized Sharpe**: %.2f\n", agg.AnnualizedSharpe))
	b.WriteString(fmt.Sprintf("- **Max Drawdown**: %.4f\n\n", agg.MaxDrawdown))
}

// WriteSummaryJSON writes a compact machine-readable summary.
func (w *Writer) WriteSummaryJSON(report *engine.BacktestReport, verdicts []validate.Verdict) error {
	if err := os.MkdirAll(w.outputDir, 0755); err != nil {
		return fmt.Errorf("failed to create output directory: %w", err)
	}

	paths := w.Paths(report.RunID)
	file, err := os.Create(paths.SummaryJSON)
	if err != nil {
		return fmt.Errorf("failed to create summary file: %w", err)
	}
	defer file.Close()

	summary := map[string]interface{}{
		"run_id":        report.RunID,
		"created_at":    report.CreatedAt.Format(time.RFC3339),
		"window_plan":   report.WindowPlan,
		"out_of_sample": report.OutOfSample,
		"artifacts":     paths,
	}
	if report.InSample != nil {
		summary["in_sample"] = report.InSample
	}
	if len(verdicts) > 0 {
		summary["verdicts"] = verdicts
	}

	enc := json.NewEncoder(file)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("failed to encode summary: %w", err)
	}

	return nil
}

// WriteAll writes every artifact for the run.
func (w *Writer) WriteAll(report *engine.BacktestReport, verdicts []validate.Verdict) error {
	if err := w.WriteResults(report); err != nil {
		return err
	}
	if err := w.WriteReport(report, verdicts); err != nil {
		return err
	}
	return w.WriteSummaryJSON(report, verdicts)
}
