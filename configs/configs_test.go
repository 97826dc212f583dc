package configs

import (
	"strings"
	"testing"

	"velo/backfill/internal/models"
)

func TestAppLoadDefaults(t *testing.T) {
	cfg, err := AppLoad()
	if err != nil {
		t.Fatalf("AppLoad() error: %v", err)
	}

	if len(cfg.Grid.Symbols) != 4 || cfg.Grid.Symbols[0] != "BTCUSDT" {
		t.Errorf("default symbols = %v", cfg.Grid.Symbols)
	}
	if len(cfg.Grid.Timeframes) != 4 {
		t.Errorf("default timeframes = %v", cfg.Grid.Timeframes)
	}
	if cfg.Grid.LookbackDays != 180 || cfg.Grid.SkipRecentDays != 1 {
		t.Errorf("default window = %d/%d", cfg.Grid.LookbackDays, cfg.Grid.SkipRecentDays)
	}
	if cfg.Fetch.RateLimitRPS != 5 {
		t.Errorf("default rate limit = %v", cfg.Fetch.RateLimitRPS)
	}
	if cfg.Oracle.Mode != "batch" || cfg.Oracle.AssumeMissing {
		t.Errorf("default oracle = %+v", cfg.Oracle)
	}
	if cfg.HTTP.Addr != ":8080" || cfg.HTTP.MaxDays != 7 {
		t.Errorf("default http = %+v", cfg.HTTP)
	}
	if !strings.Contains(cfg.DBDSN, "clickhouse://") || !strings.Contains(cfg.DBDSN, "/market_data") {
		t.Errorf("default DSN = %q", cfg.DBDSN)
	}
}

func TestAppLoadOverrides(t *testing.T) {
	t.Setenv("SYMBOLS", "BTCUSDT, ETHUSDT ,")
	t.Setenv("TIMEFRAMES", "1h")
	t.Setenv("LOOKBACK_DAYS", "30")
	t.Setenv("RATE_LIMIT_RPS", "2.5")
	t.Setenv("ASSUME_MISSING_ON_ORACLE_ERROR", "true")
	t.Setenv("CLICKHOUSE_HOST", "ch.internal")
	t.Setenv("CLICKHOUSE_DB", "candles")

	cfg, err := AppLoad()
	if err != nil {
		t.Fatalf("AppLoad() error: %v", err)
	}

	if len(cfg.Grid.Symbols) != 2 || cfg.Grid.Symbols[1] != "ETHUSDT" {
		t.Errorf("symbols = %v, want trimmed two-element list", cfg.Grid.Symbols)
	}
	if len(cfg.Grid.Timeframes) != 1 || cfg.Grid.Timeframes[0] != models.Timeframe1h {
		t.Errorf("timeframes = %v", cfg.Grid.Timeframes)
	}
	if cfg.Grid.LookbackDays != 30 {
		t.Errorf("lookback = %d", cfg.Grid.LookbackDays)
	}
	if cfg.Fetch.RateLimitRPS != 2.5 {
		t.Errorf("rate limit = %v", cfg.Fetch.RateLimitRPS)
	}
	if !cfg.Oracle.AssumeMissing {
		t.Error("assume-missing override not applied")
	}
	if !strings.Contains(cfg.DBDSN, "ch.internal") || !strings.Contains(cfg.DBDSN, "/candles") {
		t.Errorf("DSN = %q", cfg.DBDSN)
	}
}

func TestAppLoadRejectsUnknownTimeframe(t *testing.T) {
	t.Setenv("TIMEFRAMES", "1h,4h")
	if _, err := AppLoad(); err == nil {
		t.Fatal("expected error for unsupported timeframe")
	}
}

func TestGetEnvIntFallsBackOnGarbage(t *testing.T) {
	t.Setenv("LOOKBACK_DAYS", "soon")
	cfg, err := AppLoad()
	if err != nil {
		t.Fatalf("AppLoad() error: %v", err)
	}
	if cfg.Grid.LookbackDays != 180 {
		t.Errorf("lookback = %d, want default on unparsable value", cfg.Grid.LookbackDays)
	}
}
