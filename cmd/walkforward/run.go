package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/tealfin/walkforward/internal/config"
	"github.com/tealfin/walkforward/internal/engine"
	"github.com/tealfin/walkforward/internal/ingest"
	"github.com/tealfin/walkforward/internal/persistence/postgres"
	"github.com/tealfin/walkforward/internal/report"
	"github.com/tealfin/walkforward/internal/strategy"
	"github.com/tealfin/walkforward/internal/telemetry"
	"github.com/tealfin/walkforward/internal/validate"
)

const storeTimeout = 10 * time.Second

func runBacktest(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")
	dataPath, _ := cmd.Flags().GetString("data")
	strategyName, _ := cmd.Flags().GetString("strategy")
	signalColumn, _ := cmd.Flags().GetString("signal-column")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	model, err := strategy.New(strategyName, signalColumn)
	if err != nil {
		return err
	}

	frame, err := ingest.LoadCSV(dataPath, log.Logger)
	if err != nil {
		return err
	}

	metrics := telemetry.New()
	if cfg.MetricsAddr != "" {
		go func() {
			log.Info().Str("addr", cfg.MetricsAddr).Msg("serving metrics")
			if err := http.ListenAndServe(cfg.MetricsAddr, metrics.Handler()); err != nil {
				log.Error().Err(err).Msg("metrics server stopped")
			}
		}()
	}

	eng, err := engine.New(cfg.EngineConfig(),
		engine.WithLogger(log.Logger),
		engine.WithTelemetry(metrics))
	if err != nil {
		return err
	}

	backtest, err := eng.Run(cmd.Context(), frame, model)
	if err != nil {
		return err
	}

	var verdicts []validate.Verdict
	if cfg.CorrectionMethod != "" {
		validator, err := validate.New(cfg.ValidatorConfig())
		if err != nil {
			return err
		}
		verdicts, err = validator.Validate([]*engine.BacktestReport{backtest})
		if err != nil {
			return err
		}
		for _, v := range verdicts {
			log.Info().
				Str("run_id", v.RunID).
				Float64("p_value", v.PValue).
				Float64("corrected_p", v.CorrectedP).
				Bool("significant", v.Significant).
				Msg("validation verdict")
		}
	}

	outputDir := cfg.OutputDir
	if outputDir == "" {
		outputDir = "artifacts"
	}
	writer := report.NewWriter(outputDir)
	if err := writer.WriteAll(backtest, verdicts); err != nil {
		return err
	}
	log.Info().
		Str("run_id", backtest.RunID).
		Str("dir", writer.OutputDir()).
		Float64("oos_sharpe", backtest.OutOfSample.AnnualizedSharpe).
		Msg("artifacts written")

	if cfg.PostgresDSN != "" {
		if err := storeRun(cmd.Context(), cfg.PostgresDSN, backtest, verdicts); err != nil {
			return err
		}
		log.Info().Str("run_id", backtest.RunID).Msg("run stored")
	}

	return nil
}

func storeRun(ctx context.Context, dsn string, backtest *engine.BacktestReport, verdicts []validate.Verdict) error {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	repo := postgres.NewRunsRepo(db, storeTimeout)
	if err := repo.SaveReport(ctx, backtest); err != nil {
		return err
	}
	return repo.SaveVerdicts(ctx, verdicts)
}

func runValidate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	validator, err := validate.New(cfg.ValidatorConfig())
	if err != nil {
		return err
	}

	reports := make([]*engine.BacktestReport, 0, len(args))
	for _, path := range args {
		rep, err := loadReport(path)
		if err != nil {
			return err
		}
		reports = append(reports, rep)
	}

	verdicts, err := validator.Validate(reports)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(verdicts)
}

// loadReport reads a stored report: either a plain JSON file or a results
// JSONL file whose final line is the full report.
func loadReport(path string) (*engine.BacktestReport, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open report: %w", err)
	}
	defer file.Close()

	payload := ""
	if filepath.Ext(path) == ".jsonl" {
		scanner := bufio.NewScanner(file)
		scanner.Buffer(make([]byte, 1<<20), 64<<20)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				payload = line
			}
		}
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
	} else {
		data, err := io.ReadAll(file)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", path, err)
		}
		payload = string(data)
	}

	var rep engine.BacktestReport
	if err := json.Unmarshal([]byte(payload), &rep); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	if rep.RunID == "" {
		return nil, fmt.Errorf("report %s has no run ID", path)
	}
	return &rep, nil
}

func runMigrate(cmd *cobra.Command, args []string) error {
	configPath, _ := cmd.Flags().GetString("config")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("postgres_dsn is not configured")
	}

	db, err := sqlx.ConnectContext(cmd.Context(), "postgres", cfg.PostgresDSN)
	if err != nil {
		return fmt.Errorf("failed to connect to postgres: %w", err)
	}
	defer db.Close()

	if err := postgres.Migrate(cmd.Context(), db); err != nil {
		return err
	}
	log.Info().Msg("schema applied")
	return nil
}
