package fetch

import (
	"context"
	"log/slog"
	"math"
	"strconv"

	"github.com/adshao/go-binance/v2/futures"
	"golang.org/x/time/rate"

	"velo/backfill/internal/models"
	"velo/backfill/internal/schema"
)

// liveLimitMargin pads the kline request past the full-day bar count. The
// exchange may return bars outside the requested window; the clip below
// drops them.
const liveLimitMargin = 10

// partialDayThreshold is the fraction of the expected bar count under which
// a warning is logged. A partial day is loaded as-is, never failed.
const partialDayThreshold = 0.9

// Klines is the one exchange call the live fetcher needs. *futures.Client
// satisfies it through liveClient.
type Klines interface {
	Klines(ctx context.Context, symbol, interval string, startMS int64, limit int) ([]*futures.Kline, error)
}

// liveClient adapts the go-binance futures client to the Klines interface.
type liveClient struct {
	c *futures.Client
}

// NewLiveClient wraps a go-binance USD-M futures client.
func NewLiveClient(c *futures.Client) Klines {
	return &liveClient{c: c}
}

func (lc *liveClient) Klines(ctx context.Context, symbol, interval string, startMS int64, limit int) ([]*futures.Kline, error) {
	return lc.c.NewKlinesService().
		Symbol(symbol).
		Interval(interval).
		StartTime(startMS).
		Limit(limit).
		Do(ctx)
}

// LiveFetcher queries the running exchange for one bounded day window per
// unit. It is used for dates the archive has not yet published.
//
// The limiter must be the single process-wide instance for the live
// upstream: the exchange rate-limits per account, so every caller in the
// process shares one serialized channel.
type LiveFetcher struct {
	client  Klines
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewLiveFetcher(client Klines, limiter *rate.Limiter, logger *slog.Logger) *LiveFetcher {
	return &LiveFetcher{
		client:  client,
		limiter: limiter,
		logger:  logger.With("fetcher", "live"),
	}
}

func (f *LiveFetcher) Name() string { return "live" }

// Fetch issues one windowed kline query, clips the result to the unit's UTC
// day, and normalizes it.
func (f *LiveFetcher) Fetch(ctx context.Context, unit models.Unit) ([]models.Candle, error) {
	day, err := unit.DayStart()
	if err != nil {
		return nil, &FetchError{Unit: unit, Op: "window", Err: err}
	}
	startMS := day.UnixMilli()

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, &FetchError{Unit: unit, Op: "rate-limit", Err: err}
	}

	limit := unit.Timeframe.BarsPerDay() + liveLimitMargin
	kls, err := f.client.Klines(ctx, unit.Symbol, string(unit.Timeframe), startMS, limit)
	if err != nil {
		return nil, &FetchError{Unit: unit, Op: "klines", Err: err}
	}

	ticks := ClipToDay(toTicks(kls), startMS)
	if len(ticks) == 0 {
		return nil, ErrNoData
	}

	if expected := unit.Timeframe.BarsPerDay(); float64(len(ticks)) < partialDayThreshold*float64(expected) {
		f.logger.Warn("partial day from live query",
			"unit", unit.String(), "bars", len(ticks), "expected", expected)
	}

	return schema.FromTicks(ticks, unit)
}

// ClipToDay drops bars outside [startMS, startMS+86_400_000). The upstream
// query is not guaranteed to respect day boundaries.
func ClipToDay(ticks []schema.Tick, startMS int64) []schema.Tick {
	endMS := startMS + models.DayMillis
	out := ticks[:0]
	for _, tk := range ticks {
		if tk.TimestampMS >= startMS && tk.TimestampMS < endMS {
			out = append(out, tk)
		}
	}
	return out
}

func toTicks(kls []*futures.Kline) []schema.Tick {
	ticks := make([]schema.Tick, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		ticks = append(ticks, schema.Tick{
			TimestampMS: kl.OpenTime,
			Open:        parseFloat(kl.Open),
			High:        parseFloat(kl.High),
			Low:         parseFloat(kl.Low),
			Close:       parseFloat(kl.Close),
			Volume:      parseFloat(kl.Volume),
		})
	}
	return ticks
}

func parseFloat(s string) float64 {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return math.NaN()
	}
	return f
}
