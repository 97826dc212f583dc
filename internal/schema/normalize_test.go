package schema

import (
	"errors"
	"math"
	"strconv"
	"testing"

	"velo/backfill/internal/models"
)

var testUnit = models.Unit{Symbol: "BTCUSDT", Timeframe: models.Timeframe1h, Date: "2024-01-01"}

// archiveRow builds a 12-column record for midnight + hour h of the test day.
func archiveRow(h int64) []string {
	openMS := 1704067200000 + h*3600_000 // 2024-01-01T00:00:00Z
	return []string{
		strconv.FormatInt(openMS, 10), "42000.1", "42500.2", "41800.3", "42100.4", "12.5",
		strconv.FormatInt(openMS+3599_999, 10), "525000.6", "9000", "6.1", "256000.7", "0",
	}
}

func TestFromArchive(t *testing.T) {
	candles, err := FromArchive([][]string{archiveRow(0), archiveRow(1)}, testUnit)
	if err != nil {
		t.Fatalf("FromArchive failed: %v", err)
	}
	if len(candles) != 2 {
		t.Fatalf("got %d candles, want 2", len(candles))
	}

	c := candles[0]
	if c.OpenTime != 1704067200000*1000 {
		t.Errorf("OpenTime = %d, want microseconds (ms * 1000)", c.OpenTime)
	}
	if got, want := c.CloseTime-c.OpenTime, testUnit.Timeframe.Micros(); got != want {
		t.Errorf("close-open = %d, want %d", got, want)
	}
	if c.Open != 42000.1 || c.Trades != 9000 || c.TakerBuyQuote != 256000.7 {
		t.Errorf("numeric fields miscopied: %+v", c)
	}
	if c.Symbol != "BTCUSDT" || c.Timeframe != models.Timeframe1h || c.Date != "2024-01-01" {
		t.Errorf("unit metadata missing: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("normalized candle fails validation: %v", err)
	}
}

func TestFromArchiveCoercesBadCells(t *testing.T) {
	row := archiveRow(0)
	row[1] = "not-a-price" // open
	row[8] = "???"         // trades

	candles, err := FromArchive([][]string{row}, testUnit)
	if err != nil {
		t.Fatalf("a bad cell must not fail the row: %v", err)
	}
	if !math.IsNaN(candles[0].Open) {
		t.Errorf("unparsable open should coerce to NaN, got %v", candles[0].Open)
	}
	if candles[0].Trades != 0 {
		t.Errorf("unparsable trades should coerce to 0, got %d", candles[0].Trades)
	}
}

func TestFromArchiveSkipsHeaderRow(t *testing.T) {
	header := []string{
		"open_time", "open", "high", "low", "close", "volume",
		"close_time", "quote_volume", "count", "taker_buy_volume", "taker_buy_quote_volume", "ignore",
	}
	candles, err := FromArchive([][]string{header, archiveRow(0)}, testUnit)
	if err != nil {
		t.Fatalf("header row should be skipped: %v", err)
	}
	if len(candles) != 1 {
		t.Errorf("got %d candles, want 1", len(candles))
	}
}

func TestFromArchiveShapeMismatch(t *testing.T) {
	_, err := FromArchive([][]string{{"1704067200000", "42000"}}, testUnit)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("want SchemaError for wrong column count, got %v", err)
	}

	// Non-numeric open_time past the first row is a shape problem too.
	bad := archiveRow(1)
	bad[0] = "garbage"
	_, err = FromArchive([][]string{archiveRow(0), bad}, testUnit)
	if !errors.As(err, &se) {
		t.Fatalf("want SchemaError for bad timestamp mid-file, got %v", err)
	}
}

func TestFromTicks(t *testing.T) {
	ticks := []Tick{
		{TimestampMS: 1704067200000, Open: 42000, High: 42500, Low: 41800, Close: 42100, Volume: 12.5},
	}
	candles, err := FromTicks(ticks, testUnit)
	if err != nil {
		t.Fatalf("FromTicks failed: %v", err)
	}

	c := candles[0]
	if c.OpenTime != 1704067200000*1000 {
		t.Errorf("OpenTime = %d, want microseconds", c.OpenTime)
	}
	if got, want := c.CloseTime, c.OpenTime+testUnit.Timeframe.Micros(); got != want {
		t.Errorf("CloseTime = %d, want derived %d", got, want)
	}
	// The live source reports no quote volume, trade count, or taker splits:
	// explicit zeros, not NULL, to keep the schema uniform.
	if c.QuoteVolume != 0 || c.Trades != 0 || c.TakerBuyBase != 0 || c.TakerBuyQuote != 0 {
		t.Errorf("live-only fields must default to zero: %+v", c)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("normalized candle fails validation: %v", err)
	}
}

func TestFromTicksRejectsBadTimestamp(t *testing.T) {
	_, err := FromTicks([]Tick{{TimestampMS: 0}}, testUnit)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("want SchemaError, got %v", err)
	}
}
