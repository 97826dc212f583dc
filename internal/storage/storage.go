// Package storage persists canonical candle rows in ClickHouse and answers
// the per-unit existence lookups that make re-runs idempotent.
package storage

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"velo/backfill/internal/models"
)

// LoadError is a destination-side write failure. The orchestrator marks the
// whole date batch failed; the units stay pending for a later re-run.
type LoadError struct {
	Err error
}

func (e *LoadError) Error() string { return fmt.Sprintf("candle load failed: %v", e.Err) }
func (e *LoadError) Unwrap() error { return e.Err }

// OracleError is an existence-lookup failure. The orchestrator treats it as
// a fetch-equivalent failure unless configured to assume-missing.
type OracleError struct {
	Err error
}

func (e *OracleError) Error() string { return fmt.Sprintf("existence check failed: %v", e.Err) }
func (e *OracleError) Unwrap() error { return e.Err }

// Store is the destination-side contract the pipeline needs: idempotent
// table creation, append-only batch insert, and existence lookups.
// Implementations must be safe for concurrent use.
type Store interface {
	// EnsureTable creates the candle table if it does not exist.
	EnsureTable(ctx context.Context) error

	// InsertCandles appends a batch of rows and returns the count written.
	// It never updates or deletes existing rows.
	InsertCandles(ctx context.Context, candles []models.Candle) (int, error)

	// CapturedUnits answers "already captured?" for a whole work grid in one
	// query. Preferred over Captured for anything beyond a handful of units:
	// unbatched lookups dominate wall-clock time on large grids.
	CapturedUnits(ctx context.Context, dates []string, symbols []string, timeframes []models.Timeframe) (map[models.Unit]bool, error)

	// Captured is the point lookup for a single unit: true iff at least one
	// row for it is durably stored.
	Captured(ctx context.Context, unit models.Unit) (bool, error)

	// Close releases connection resources.
	Close() error
}

const candleDDL = `
CREATE TABLE IF NOT EXISTS candle (
    symbol          LowCardinality(String),
    timeframe       LowCardinality(String),
    date            Date,
    open_time       Int64,
    close_time      Int64,
    open            Nullable(Float64),
    high            Nullable(Float64),
    low             Nullable(Float64),
    close           Nullable(Float64),
    volume          Nullable(Float64),
    quote_volume    Nullable(Float64),
    trades          Int64,
    taker_buy_base  Nullable(Float64),
    taker_buy_quote Nullable(Float64),
    inserted_at     DateTime
)
ENGINE = MergeTree
PARTITION BY date
ORDER BY (symbol, timeframe, open_time)
`

// clickhouseStore implements Store on the native ClickHouse driver.
// Batch inserts go through PrepareBatch; existence checks are indexed
// equality queries on the (symbol, timeframe) sorting key plus the date
// partition column.
type clickhouseStore struct {
	conn driver.Conn
}

// NewClickHouseStore opens a ClickHouse connection from a DSN and verifies
// connectivity with a ping. Returns an error if the destination cannot be
// reached within 5 seconds.
func NewClickHouseStore(dsn string) (Store, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, err
	}

	return &clickhouseStore{conn: conn}, nil
}

func (s *clickhouseStore) EnsureTable(ctx context.Context) error {
	if err := s.conn.Exec(ctx, candleDDL); err != nil {
		return &LoadError{Err: fmt.Errorf("create table: %w", err)}
	}
	return nil
}

func (s *clickhouseStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	if len(candles) == 0 {
		return 0, nil
	}

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO candle (
			symbol, timeframe, date,
			open_time, close_time,
			open, high, low, close, volume,
			quote_volume, trades, taker_buy_base, taker_buy_quote,
			inserted_at
		)
	`)
	if err != nil {
		return 0, &LoadError{Err: err}
	}

	now := time.Now()
	for _, c := range candles {
		day, err := models.ParseDate(c.Date)
		if err != nil {
			return 0, &LoadError{Err: err}
		}
		err = batch.Append(
			c.Symbol,
			string(c.Timeframe),
			day,
			c.OpenTime,
			c.CloseTime,
			nullable(c.Open),
			nullable(c.High),
			nullable(c.Low),
			nullable(c.Close),
			nullable(c.Volume),
			nullable(c.QuoteVolume),
			c.Trades,
			nullable(c.TakerBuyBase),
			nullable(c.TakerBuyQuote),
			now,
		)
		if err != nil {
			return 0, &LoadError{Err: err}
		}
	}

	if err := batch.Send(); err != nil {
		return 0, &LoadError{Err: err}
	}
	return len(candles), nil
}

func (s *clickhouseStore) CapturedUnits(ctx context.Context, dates []string, symbols []string, timeframes []models.Timeframe) (map[models.Unit]bool, error) {
	if len(dates) == 0 || len(symbols) == 0 || len(timeframes) == 0 {
		return map[models.Unit]bool{}, nil
	}

	tfs := make([]string, 0, len(timeframes))
	for _, tf := range timeframes {
		tfs = append(tfs, string(tf))
	}

	rows, err := s.conn.Query(ctx, `
		SELECT DISTINCT symbol, timeframe, date
		FROM candle
		WHERE date IN (?) AND symbol IN (?) AND timeframe IN (?)
	`, dates, symbols, tfs)
	if err != nil {
		return nil, &OracleError{Err: err}
	}
	defer rows.Close()

	captured := make(map[models.Unit]bool)
	for rows.Next() {
		var (
			symbol, timeframe string
			day               time.Time
		)
		if err := rows.Scan(&symbol, &timeframe, &day); err != nil {
			return nil, &OracleError{Err: err}
		}
		captured[models.Unit{
			Symbol:    symbol,
			Timeframe: models.Timeframe(timeframe),
			Date:      day.UTC().Format(models.DateLayout),
		}] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &OracleError{Err: err}
	}
	return captured, nil
}

func (s *clickhouseStore) Captured(ctx context.Context, unit models.Unit) (bool, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT 1
		FROM candle
		WHERE symbol = ? AND timeframe = ? AND date = ?
		LIMIT 1
	`, unit.Symbol, string(unit.Timeframe), unit.Date)
	if err != nil {
		return false, &OracleError{Err: err}
	}
	defer rows.Close()

	exists := rows.Next()
	if err := rows.Err(); err != nil {
		return false, &OracleError{Err: err}
	}
	return exists, nil
}

func (s *clickhouseStore) Close() error {
	return s.conn.Close()
}

// nullable maps the NaN "unknown" sentinel to SQL NULL.
func nullable(f float64) *float64 {
	if math.IsNaN(f) {
		return nil
	}
	return &f
}
