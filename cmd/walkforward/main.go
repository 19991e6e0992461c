package main

import (
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

const (
	appName = "walkforward"
	version = "v0.3.0"
)

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	if term.IsTerminal(int(os.Stderr.Fd())) {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}

	rootCmd := &cobra.Command{
		Use:     appName,
		Short:   "Walk-forward backtesting and evaluation engine",
		Version: version,
		Long: `walkforward runs anti-look-ahead backtests over time-indexed data:
it partitions history into train/test windows, fits a model per window on
training data only, scores predictions out of sample and adjudicates the
stitched return series with multiple-comparison-aware significance tests.`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a walk-forward backtest",
		Long:  "Loads a CSV data file, runs the configured window plan and writes JSONL, markdown and summary artifacts",
		RunE:  runBacktest,
	}
	runCmd.Flags().String("config", "walkforward.yaml", "Run configuration YAML")
	runCmd.Flags().String("data", "", "CSV data file (timestamp column first)")
	runCmd.Flags().String("strategy", "trend", "Built-in strategy (trend|zscore|buy-and-hold)")
	runCmd.Flags().String("signal-column", "", "Feature column the strategy reads (default: sole feature column)")
	_ = runCmd.MarkFlagRequired("data")

	validateCmd := &cobra.Command{
		Use:   "validate [report.json ...]",
		Short: "Run significance tests over completed backtest reports",
		Long:  "Reads one report per research strategy and applies the configured multiple-comparison correction across all of them",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runValidate,
	}
	validateCmd.Flags().String("config", "walkforward.yaml", "Run configuration YAML")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply the PostgreSQL run storage schema",
		RunE:  runMigrate,
	}
	migrateCmd.Flags().String("config", "walkforward.yaml", "Run configuration YAML")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(migrateCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
