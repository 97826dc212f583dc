// Package configs provides application configuration loaded from environment
// variables. All configuration is externalized for 12-factor app compliance;
// core packages receive config values explicitly and never read the
// environment themselves.
package configs

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"velo/backfill/internal/models"
)

// AppConfig holds all application configuration.
// Load it once at startup using AppLoad().
type AppConfig struct {
	// DBDSN is the ClickHouse connection string.
	DBDSN string

	// Grid describes the (date x symbol x timeframe) work grid.
	Grid GridConfig

	// Fetch contains upstream retrieval settings.
	Fetch FetchConfig

	// Oracle contains existence-check settings.
	Oracle OracleConfig

	// HTTP contains settings for the request-triggered collector.
	HTTP HTTPConfig
}

// GridConfig describes the instruments and window a run covers.
type GridConfig struct {
	// Symbols is the canonical instrument list (e.g. BTCUSDT).
	Symbols []string

	// Timeframes is the candle interval list.
	Timeframes []models.Timeframe

	// LookbackDays is how many trading days the backfill job covers.
	LookbackDays int

	// SkipRecentDays excludes the most recent days, which the archive
	// publishes with a lag. Minimum 1: today is never complete.
	SkipRecentDays int
}

// FetchConfig holds upstream retrieval settings.
type FetchConfig struct {
	// ArchiveBaseURL is the bulk archive root.
	ArchiveBaseURL string

	// RateLimitRPS is the upstream request rate cap. The resulting minimum
	// inter-call delay keeps sustained grid traversal under the exchange's
	// throttling threshold.
	RateLimitRPS float64

	// RequestTimeoutSeconds bounds one upstream call.
	RequestTimeoutSeconds int

	// ArchiveConcurrency bounds parallel dates on the archive source.
	// The live source always runs at 1.
	ArchiveConcurrency int
}

// OracleConfig holds existence-check settings.
type OracleConfig struct {
	// Mode is "batch" (one grid-wide lookup per run) or "per-unit".
	Mode string

	// AssumeMissing treats an unavailable oracle as "not captured" instead
	// of failing the unit. Default false: never skip on uncertainty.
	AssumeMissing bool
}

// HTTPConfig holds settings for the collector's trigger surface.
type HTTPConfig struct {
	// Addr is the listen address, e.g. ":8080".
	Addr string

	// MaxDays caps the `days` request parameter.
	MaxDays int
}

// AppLoad loads all application configuration from environment variables.
// It attempts to load a .env file first (for local development).
// Call this once at application startup.
func AppLoad() (*AppConfig, error) {
	_ = godotenv.Load() // Ignore error - .env is optional

	timeframes, err := parseTimeframes(getEnv("TIMEFRAMES", "1m,5m,15m,1h"))
	if err != nil {
		return nil, err
	}

	return &AppConfig{
		DBDSN: getDatabaseDSN(),
		Grid: GridConfig{
			Symbols:        splitList(getEnv("SYMBOLS", "BTCUSDT,ETHUSDT,SOLUSDT,BNBUSDT")),
			Timeframes:     timeframes,
			LookbackDays:   getEnvInt("LOOKBACK_DAYS", 180),
			SkipRecentDays: getEnvInt("SKIP_RECENT_DAYS", 1),
		},
		Fetch: FetchConfig{
			ArchiveBaseURL:        getEnv("ARCHIVE_BASE_URL", ""),
			RateLimitRPS:          getEnvFloat("RATE_LIMIT_RPS", 5),
			RequestTimeoutSeconds: getEnvInt("REQUEST_TIMEOUT_SECONDS", 30),
			ArchiveConcurrency:    getEnvInt("ARCHIVE_CONCURRENCY", 1),
		},
		Oracle: OracleConfig{
			Mode:          getEnv("EXISTS_CHECK", "batch"),
			AssumeMissing: getEnvBool("ASSUME_MISSING_ON_ORACLE_ERROR", false),
		},
		HTTP: HTTPConfig{
			Addr:    getEnv("HTTP_ADDR", ":8080"),
			MaxDays: getEnvInt("MAX_COLLECT_DAYS", 7),
		},
	}, nil
}

// getDatabaseDSN constructs the ClickHouse DSN from environment variables.
func getDatabaseDSN() string {
	dbUser := getEnv("CLICKHOUSE_USER", "user")
	dbPassword := getEnv("CLICKHOUSE_PASSWORD", "password")
	dbHost := getEnv("CLICKHOUSE_HOST", "localhost")
	dbPort := getEnv("CLICKHOUSE_TCP_PORT", "9000")
	dbName := getEnv("CLICKHOUSE_DB", "market_data")

	return fmt.Sprintf(
		"clickhouse://%s:%s@%s:%s/%s?dial_timeout=10s&read_timeout=20s",
		dbUser, dbPassword, dbHost, dbPort, dbName,
	)
}

func parseTimeframes(raw string) ([]models.Timeframe, error) {
	parts := splitList(raw)
	out := make([]models.Timeframe, 0, len(parts))
	for _, p := range parts {
		tf, err := models.ParseTimeframe(p)
		if err != nil {
			return nil, fmt.Errorf("TIMEFRAMES: %w", err)
		}
		out = append(out, tf)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("TIMEFRAMES is empty")
	}
	return out, nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// getEnv returns the environment variable value or a default.
func getEnv(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// getEnvInt returns the environment variable as int or a default.
func getEnvInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
