// Package models defines the canonical candle row shape shared by every
// stage of the backfill pipeline, and the unit key used for idempotency.
package models

import (
	"fmt"
	"math"
	"time"
)

// DateLayout is the calendar-date format used for the `date` column
// and for archive URLs: "2024-01-31", always UTC.
const DateLayout = "2006-01-02"

// DayMillis is the length of one UTC trading day in milliseconds.
const DayMillis int64 = 86_400_000

// Timeframe is a candle interval. Only the four intervals the pipeline
// collects are valid; everything else is rejected at config time.
type Timeframe string

const (
	Timeframe1m  Timeframe = "1m"
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
)

// Timeframes lists every supported interval, in ascending duration order.
var Timeframes = []Timeframe{Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h}

// ParseTimeframe validates a timeframe string from configuration or a request.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	switch tf {
	case Timeframe1m, Timeframe5m, Timeframe15m, Timeframe1h:
		return tf, nil
	}
	return "", fmt.Errorf("unknown timeframe %q", s)
}

// Duration returns the nominal bar length.
func (tf Timeframe) Duration() time.Duration {
	switch tf {
	case Timeframe1m:
		return time.Minute
	case Timeframe5m:
		return 5 * time.Minute
	case Timeframe15m:
		return 15 * time.Minute
	case Timeframe1h:
		return time.Hour
	}
	return 0
}

// Micros returns the nominal bar length in microseconds, the unit of
// open_time and close_time.
func (tf Timeframe) Micros() int64 {
	return tf.Duration().Microseconds()
}

// BarsPerDay returns the number of bars a complete UTC day holds.
func (tf Timeframe) BarsPerDay() int {
	d := tf.Duration()
	if d <= 0 {
		return 0
	}
	return int((24 * time.Hour) / d)
}

// Unit is the atomic granularity of idempotency: one (symbol, timeframe,
// calendar date) triple is either fully captured in the store or not at all.
type Unit struct {
	Symbol    string
	Timeframe Timeframe
	Date      string
}

func (u Unit) String() string {
	return fmt.Sprintf("%s/%s/%s", u.Symbol, u.Timeframe, u.Date)
}

// DayStart returns midnight UTC of the unit's trading day.
func (u Unit) DayStart() (time.Time, error) {
	return ParseDate(u.Date)
}

// ParseDate parses a calendar date string as midnight UTC.
func ParseDate(date string) (time.Time, error) {
	t, err := time.ParseInLocation(DateLayout, date, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t, nil
}

// Candle is one canonical OHLCV bar. Float fields use NaN as the "unknown"
// sentinel; the storage layer maps NaN to SQL NULL on insert.
type Candle struct {
	// Symbol is the canonical instrument name, e.g. "BTCUSDT".
	Symbol string `json:"symbol"`

	// Timeframe is the bar interval.
	Timeframe Timeframe `json:"timeframe"`

	// OpenTime is the bar open in microseconds since epoch, UTC.
	OpenTime int64 `json:"open_time"`

	// CloseTime is OpenTime plus the nominal timeframe duration, microseconds.
	CloseTime int64 `json:"close_time"`

	Open   float64 `json:"open"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Close  float64 `json:"close"`
	Volume float64 `json:"volume"`

	// QuoteVolume is the quote-asset volume. Zero for live-sourced bars,
	// which do not report it.
	QuoteVolume float64 `json:"quote_volume"`

	// Trades is the trade count inside the bar.
	Trades int64 `json:"trades"`

	TakerBuyBase  float64 `json:"taker_buy_base"`
	TakerBuyQuote float64 `json:"taker_buy_quote"`

	// Date is the UTC trading day the bar belongs to, DateLayout format.
	Date string `json:"date"`
}

// Unit returns the idempotency key the candle belongs to.
func (c Candle) Unit() Unit {
	return Unit{Symbol: c.Symbol, Timeframe: c.Timeframe, Date: c.Date}
}

// Validate checks the row-level invariants. Bars with NaN prices pass the
// price-ordering check (unknown cells are tolerated, not rejected).
func (c Candle) Validate() error {
	if c.Symbol == "" {
		return fmt.Errorf("candle missing symbol")
	}
	if _, err := ParseTimeframe(string(c.Timeframe)); err != nil {
		return err
	}
	if got, want := c.CloseTime-c.OpenTime, c.Timeframe.Micros(); got != want {
		return fmt.Errorf("candle %s: close_time-open_time=%d, want %d", c.Unit(), got, want)
	}
	day, err := ParseDate(c.Date)
	if err != nil {
		return err
	}
	dayStart := day.UnixMicro()
	dayEnd := day.Add(24 * time.Hour).UnixMicro()
	if c.OpenTime < dayStart || c.OpenTime >= dayEnd {
		return fmt.Errorf("candle %s: open_time %d outside day window", c.Unit(), c.OpenTime)
	}
	if !math.IsNaN(c.Low) && !math.IsNaN(c.High) {
		if (!math.IsNaN(c.Open) && (c.Open < c.Low || c.Open > c.High)) ||
			(!math.IsNaN(c.Close) && (c.Close < c.Low || c.Close > c.High)) {
			return fmt.Errorf("candle %s: open/close outside [low, high]", c.Unit())
		}
	}
	for _, v := range []float64{c.Volume, c.QuoteVolume, c.TakerBuyBase, c.TakerBuyQuote} {
		if v < 0 {
			return fmt.Errorf("candle %s: negative volume field", c.Unit())
		}
	}
	if c.Trades < 0 {
		return fmt.Errorf("candle %s: negative trade count", c.Unit())
	}
	return nil
}
