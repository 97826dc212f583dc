// The collector serves the request-triggered surface: each /collect call
// runs a small live-source backfill for the most recent complete days the
// archive has not published yet.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adshao/go-binance/v2/futures"

	"velo/backfill/configs"
	"velo/backfill/internal/backfill"
	"velo/backfill/internal/fetch"
	"velo/backfill/internal/server"
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

	// One process-wide limiter: the exchange throttles per account, so all
	// live queries share a single serialized channel.
	limiter := fetch.NewLimiter(cfg.Fetch.RateLimitRPS)

	client := futures.NewClient("", "")
	client.HTTPClient = &http.Client{Timeout: time.Duration(cfg.Fetch.RequestTimeoutSeconds) * time.Second}
	fetcher := fetch.NewLiveFetcher(fetch.NewLiveClient(client), limiter, logger)

	runner := backfill.NewRunner(store, fetcher, logger, backfill.Config{
		Symbols:       cfg.Grid.Symbols,
		Timeframes:    cfg.Grid.Timeframes,
		ExistsCheck:   cfg.Oracle.Mode,
		AssumeMissing: cfg.Oracle.AssumeMissing,
		Concurrency:   1,
	})

	srv := &http.Server{
		Addr:    cfg.HTTP.Addr,
		Handler: server.New(runner, logger, cfg.HTTP.MaxDays).Router(),
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown failed", "error", err)
		}
	}()

	logger.Info("Collector listening", "addr", cfg.HTTP.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("Collector shutdown complete")
}
