// Package fetch retrieves raw candle data for one (symbol, timeframe, date)
// unit at a time, from either the bulk daily archive or the live exchange
// query, and returns it already normalized to the canonical row shape.
package fetch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"velo/backfill/internal/models"
)

// ErrNoData marks expected absence: the archive has not published the unit's
// file, or the live window returned nothing. It is a normal outcome, not a
// failure, and callers must distinguish it from FetchError.
var ErrNoData = errors.New("no data for unit")

// FetchError is a transport or payload failure for a single unit. One unit
// failing never aborts the rest of the grid.
type FetchError struct {
	Unit models.Unit
	Op   string
	Err  error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s (%s): %v", e.Unit, e.Op, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Fetcher retrieves all bars for one unit. Implementations rate-limit their
// own upstream calls and return ErrNoData on expected absence.
type Fetcher interface {
	Fetch(ctx context.Context, unit models.Unit) ([]models.Candle, error)
	Name() string
}

// NewLimiter builds the shared upstream rate limiter. The minimum inter-call
// delay is deliberate: sustained grid traversal without it gets the source IP
// banned upstream.
func NewLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		requestsPerSecond = 5
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}
