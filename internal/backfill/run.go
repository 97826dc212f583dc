// Package backfill walks the (date x symbol x timeframe) work grid, skipping
// units the store already holds, fetching and loading the rest, and rolling
// per-unit outcomes into a run summary. Per-unit failures never abort the
// traversal.
package backfill

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"velo/backfill/internal/fetch"
	"velo/backfill/internal/models"
	"velo/backfill/internal/storage"
)

// Existence-check strategies. Batch is the default: one grid-wide query
// instead of one round trip per unit.
const (
	ExistsCheckBatch   = "batch"
	ExistsCheckPerUnit = "per-unit"
)

// Config is the explicit per-run configuration. It is constructed once at
// process start and passed in; the runner does no ambient lookups.
type Config struct {
	Symbols    []string
	Timeframes []models.Timeframe

	// ExistsCheck selects the oracle strategy: ExistsCheckBatch or
	// ExistsCheckPerUnit.
	ExistsCheck string

	// AssumeMissing makes an unavailable oracle read as "not captured"
	// instead of failing the unit. Off by default: skipping on uncertainty
	// risks silent double loads, failing a unit only costs a re-run.
	AssumeMissing bool

	// Concurrency bounds how many dates are in flight at once. Anything
	// above 1 is only safe for the archive source; live queries share one
	// rate-limited upstream account and must stay at 1.
	Concurrency int
}

// Runner drives one backfill run over a set of dates.
type Runner struct {
	store   storage.Store
	fetcher fetch.Fetcher
	logger  *slog.Logger
	cfg     Config
}

func NewRunner(store storage.Store, fetcher fetch.Fetcher, logger *slog.Logger, cfg Config) *Runner {
	if cfg.ExistsCheck == "" {
		cfg.ExistsCheck = ExistsCheckBatch
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 1
	}
	return &Runner{
		store:   store,
		fetcher: fetcher,
		logger:  logger.With("component", "runner"),
		cfg:     cfg,
	}
}

// DateRange lists the run's trading days, newest first: skipRecent days are
// excluded for publication lag, then lookback days are included.
func DateRange(now time.Time, skipRecent, lookback int) []string {
	if skipRecent < 1 {
		skipRecent = 1
	}
	dates := make([]string, 0, lookback)
	for i := 0; i < lookback; i++ {
		d := now.UTC().AddDate(0, 0, -(skipRecent + i))
		dates = append(dates, d.Format(models.DateLayout))
	}
	return dates
}

// Run visits every (date, symbol, timeframe) triple exactly once and returns
// the accumulated summary. It always returns a summary, including on
// cancellation and on run-level oracle failure.
func (r *Runner) Run(ctx context.Context, dates []string) *Summary {
	sum := newSummary(r.fetcher.Name())
	r.logger.Info("run started",
		"run_id", sum.RunID, "source", sum.Source,
		"dates", len(dates), "symbols", len(r.cfg.Symbols), "timeframes", len(r.cfg.Timeframes))

	var captured map[models.Unit]bool
	if r.cfg.ExistsCheck != ExistsCheckPerUnit {
		var err error
		captured, err = r.store.CapturedUnits(ctx, dates, r.cfg.Symbols, r.cfg.Timeframes)
		if err != nil {
			if !r.cfg.AssumeMissing {
				// Fail-safe: without the oracle, every unit is a failure,
				// never a skip.
				r.logger.Error("existence check unavailable", "run_id", sum.RunID, "error", err)
				r.failGrid(sum, dates, err)
				return sum
			}
			r.logger.Warn("existence check unavailable, assuming nothing captured",
				"run_id", sum.RunID, "error", err)
			captured = map[models.Unit]bool{}
		}
	}

	if r.cfg.Concurrency > 1 {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(r.cfg.Concurrency)
		for _, date := range dates {
			g.Go(func() error {
				return r.processDate(gctx, date, captured, sum)
			})
		}
		if err := g.Wait(); err != nil {
			sum.markCancelled()
		}
	} else {
		for _, date := range dates {
			if err := r.processDate(ctx, date, captured, sum); err != nil {
				sum.markCancelled()
				break
			}
		}
	}

	r.logger.Info("run finished",
		"run_id", sum.RunID, "status", string(sum.Status()),
		"units", sum.Total(), "rows", sum.RowsLoaded())
	return sum
}

// fetchedUnit tracks a unit whose rows sit in the date buffer awaiting the
// batch load.
type fetchedUnit struct {
	unit models.Unit
	rows int
}

// processDate runs all units of one trading day and hands the buffered rows
// to the loader in a single call. Only context cancellation is returned as
// an error; everything else becomes a per-unit outcome.
func (r *Runner) processDate(ctx context.Context, date string, captured map[models.Unit]bool, sum *Summary) error {
	var (
		batch   []models.Candle
		fetched []fetchedUnit
	)

	for _, symbol := range r.cfg.Symbols {
		for _, tf := range r.cfg.Timeframes {
			// Cancellable between units, not mid-fetch.
			if err := ctx.Err(); err != nil {
				return err
			}

			unit := models.Unit{Symbol: symbol, Timeframe: tf, Date: date}
			skip, oracleErr := r.alreadyCaptured(ctx, unit, captured)
			if oracleErr != nil {
				sum.record(unit, StateFetchFailed, 0, oracleErr.Error())
				continue
			}
			if skip {
				sum.record(unit, StateSkipped, 0, "")
				continue
			}

			candles, err := r.fetcher.Fetch(ctx, unit)
			switch {
			case errors.Is(err, fetch.ErrNoData):
				sum.record(unit, StateNoData, 0, "")
			case err != nil:
				if ctx.Err() != nil {
					return ctx.Err()
				}
				r.logger.Warn("unit fetch failed", "unit", unit.String(), "error", err)
				sum.record(unit, StateFetchFailed, 0, err.Error())
			default:
				batch = append(batch, candles...)
				fetched = append(fetched, fetchedUnit{unit: unit, rows: len(candles)})
			}
		}
	}

	if len(batch) == 0 {
		return nil
	}

	// One append per date. The batch is atomic from the runner's point of
	// view: a load error fails every fetched unit of this date, and a later
	// re-run picks them up again.
	n, err := r.store.InsertCandles(ctx, batch)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		r.logger.Error("date batch load failed", "date", date, "units", len(fetched), "error", err)
		for _, fu := range fetched {
			sum.record(fu.unit, StateLoadFailed, 0, err.Error())
		}
		return nil
	}

	for _, fu := range fetched {
		sum.record(fu.unit, StateLoaded, fu.rows, "")
	}
	sum.addRows(n)
	r.logger.Info("date batch loaded", "date", date, "units", len(fetched), "rows", n)
	return nil
}

// alreadyCaptured consults the oracle for one unit, honoring the configured
// strategy and the assume-missing escape hatch.
func (r *Runner) alreadyCaptured(ctx context.Context, unit models.Unit, captured map[models.Unit]bool) (bool, error) {
	if captured != nil {
		return captured[unit], nil
	}
	exists, err := r.store.Captured(ctx, unit)
	if err != nil {
		if r.cfg.AssumeMissing {
			r.logger.Warn("existence check unavailable, assuming not captured",
				"unit", unit.String(), "error", err)
			return false, nil
		}
		return false, err
	}
	return exists, nil
}

// failGrid records a fetch-equivalent failure for every unit, used when the
// oracle is down and assume-missing is off.
func (r *Runner) failGrid(sum *Summary, dates []string, err error) {
	for _, date := range dates {
		for _, symbol := range r.cfg.Symbols {
			for _, tf := range r.cfg.Timeframes {
				unit := models.Unit{Symbol: symbol, Timeframe: tf, Date: date}
				sum.record(unit, StateFetchFailed, 0, err.Error())
			}
		}
	}
}
