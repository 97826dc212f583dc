// The backfill job traverses the configured lookback window against the bulk
// archive and appends anything not yet captured. Designed to run for hours;
// per-unit failures are reported in the final summary, not fatal.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"velo/backfill/configs"
	"velo/backfill/internal/backfill"
	"velo/backfill/internal/fetch"
	"velo/backfill/internal/storage"
)

func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := configs.AppLoad()
	if err != nil {
		logger.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := storage.NewClickHouseStore(cfg.DBDSN)
	if err != nil {
		logger.Error("Failed to connect to ClickHouse", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := store.EnsureTable(ctx); err != nil {
		logger.Error("Failed to ensure candle table", "error", err)
		os.Exit(1)
	}

	limiter := fetch.NewLimiter(cfg.Fetch.RateLimitRPS)
	fetcher := fetch.NewArchiveFetcher(fetch.ArchiveConfig{
		BaseURL:        cfg.Fetch.ArchiveBaseURL,
		RequestTimeout: time.Duration(cfg.Fetch.RequestTimeoutSeconds) * time.Second,
	}, limiter, logger)

	runner := backfill.NewRunner(store, fetcher, logger, backfill.Config{
		Symbols:       cfg.Grid.Symbols,
		Timeframes:    cfg.Grid.Timeframes,
		ExistsCheck:   cfg.Oracle.Mode,
		AssumeMissing: cfg.Oracle.AssumeMissing,
		Concurrency:   cfg.Fetch.ArchiveConcurrency,
	})

	dates := backfill.DateRange(time.Now(), cfg.Grid.SkipRecentDays, cfg.Grid.LookbackDays)
	logger.Info("Backfill job started",
		"days", len(dates), "symbols", cfg.Grid.Symbols, "timeframes", cfg.Grid.Timeframes)

	sum := runner.Run(ctx, dates)
	fmt.Print(sum.Render())
	os.Exit(sum.ExitCode())
}
