// Package schema maps raw source records onto the canonical candle row.
// Two source layouts exist: the 12-column archive CSV and the 6-field live
// kline tuple. Both produce the same row shape so the loader never has to
// care where a bar came from.
package schema

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"velo/backfill/internal/models"
)

// Archive CSV positional columns, per the Binance daily kline layout.
const (
	colOpenTime = iota
	colOpen
	colHigh
	colLow
	colClose
	colVolume
	colCloseTime
	colQuoteVolume
	colTrades
	colTakerBuyBase
	colTakerBuyQuote
	colIgnore

	archiveCols = 12
)

// SchemaError reports a raw payload whose shape matches neither known
// source layout. Bad individual cells are coerced, never reported.
type SchemaError struct {
	Source string
	Detail string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("schema mismatch (%s source): %s", e.Source, e.Detail)
}

// Tick is one live-query bar as the exchange reports it: a 6-field tuple.
// The live endpoint does not carry quote volume, trade counts, or taker-buy
// splits.
type Tick struct {
	TimestampMS int64
	Open        float64
	High        float64
	Low         float64
	Close       float64
	Volume      float64
}

// FromArchive converts archive CSV records into canonical candles.
// Millisecond timestamps become microseconds; unparsable numeric cells
// coerce to NaN (trades to 0) instead of failing the row. A header line,
// present in newer archive files, is skipped. The trailing "ignore" column
// is dropped.
func FromArchive(records [][]string, unit models.Unit) ([]models.Candle, error) {
	out := make([]models.Candle, 0, len(records))
	for i, rec := range records {
		if len(rec) != archiveCols {
			return nil, &SchemaError{
				Source: "archive",
				Detail: fmt.Sprintf("row %d has %d columns, want %d", i, len(rec), archiveCols),
			}
		}
		openMS, err := strconv.ParseInt(strings.TrimSpace(rec[colOpenTime]), 10, 64)
		if err != nil {
			if i == 0 {
				// Header row: "open_time,open,high,..."
				continue
			}
			return nil, &SchemaError{
				Source: "archive",
				Detail: fmt.Sprintf("row %d open_time %q is not a timestamp", i, rec[colOpenTime]),
			}
		}
		// The archive reports close_time as open_time + duration - 1ms.
		// The canonical row uses the nominal close instead, so the
		// close_time - open_time == duration invariant holds for both sources.
		out = append(out, models.Candle{
			Symbol:        unit.Symbol,
			Timeframe:     unit.Timeframe,
			OpenTime:      openMS * 1000,
			CloseTime:     openMS*1000 + unit.Timeframe.Micros(),
			Open:          coerceFloat(rec[colOpen]),
			High:          coerceFloat(rec[colHigh]),
			Low:           coerceFloat(rec[colLow]),
			Close:         coerceFloat(rec[colClose]),
			Volume:        coerceFloat(rec[colVolume]),
			QuoteVolume:   coerceFloat(rec[colQuoteVolume]),
			Trades:        coerceInt(rec[colTrades]),
			TakerBuyBase:  coerceFloat(rec[colTakerBuyBase]),
			TakerBuyQuote: coerceFloat(rec[colTakerBuyQuote]),
			Date:          unit.Date,
		})
	}
	return out, nil
}

// FromTicks converts live-query tuples into canonical candles. close_time is
// derived from the timeframe duration. The fields the live source does not
// report are set to explicit zero, not NULL: an approximation, but it keeps
// the schema uniform between sources.
func FromTicks(ticks []Tick, unit models.Unit) ([]models.Candle, error) {
	out := make([]models.Candle, 0, len(ticks))
	for _, tk := range ticks {
		if tk.TimestampMS <= 0 {
			return nil, &SchemaError{
				Source: "live",
				Detail: fmt.Sprintf("tick timestamp %d is not a ms epoch", tk.TimestampMS),
			}
		}
		openUS := tk.TimestampMS * 1000
		out = append(out, models.Candle{
			Symbol:    unit.Symbol,
			Timeframe: unit.Timeframe,
			OpenTime:  openUS,
			CloseTime: openUS + unit.Timeframe.Micros(),
			Open:      tk.Open,
			High:      tk.High,
			Low:       tk.Low,
			Close:     tk.Close,
			Volume:    tk.Volume,
			Date:      unit.Date,
		})
	}
	return out, nil
}

// coerceFloat parses a numeric cell, returning NaN on failure. The storage
// layer maps NaN to NULL.
func coerceFloat(s string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return math.NaN()
	}
	return f
}

func coerceInt(s string) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return 0
	}
	return n
}
