package fetch

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/time/rate"

	"velo/backfill/internal/models"
	"velo/backfill/internal/schema"
)

// DefaultArchiveBaseURL is the Binance USD-M futures daily kline archive.
const DefaultArchiveBaseURL = "https://data.binance.vision/data/futures/um/daily/klines"

// ArchiveConfig holds archive retrieval settings.
type ArchiveConfig struct {
	// BaseURL is the archive root; the retrieval key is appended to it.
	BaseURL string

	// RequestTimeout bounds one download attempt.
	RequestTimeout time.Duration

	// MaxRetries is the number of re-attempts after a transient failure.
	MaxRetries uint64

	// RetryBase is the first backoff interval; subsequent ones double.
	RetryBase time.Duration
}

func (c ArchiveConfig) withDefaults() ArchiveConfig {
	if c.BaseURL == "" {
		c.BaseURL = DefaultArchiveBaseURL
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 2 * time.Second
	}
	return c
}

// ArchiveFetcher downloads one zipped daily CSV per unit from the bulk
// archive. A 404 means the unit was never published (future date, delisted
// symbol) and yields ErrNoData, not an error.
type ArchiveFetcher struct {
	cfg     ArchiveConfig
	client  *http.Client
	limiter *rate.Limiter
	logger  *slog.Logger
}

func NewArchiveFetcher(cfg ArchiveConfig, limiter *rate.Limiter, logger *slog.Logger) *ArchiveFetcher {
	final := cfg.withDefaults()
	return &ArchiveFetcher{
		cfg:     final,
		client:  &http.Client{Timeout: final.RequestTimeout},
		limiter: limiter,
		logger:  logger.With("fetcher", "archive"),
	}
}

func (f *ArchiveFetcher) Name() string { return "archive" }

// URL builds the deterministic retrieval key for a unit.
func (f *ArchiveFetcher) URL(unit models.Unit) string {
	return fmt.Sprintf("%s/%s/%s/%s-%s-%s.zip",
		f.cfg.BaseURL, unit.Symbol, unit.Timeframe, unit.Symbol, unit.Timeframe, unit.Date)
}

// Fetch downloads, unzips, and normalizes one unit's archive file.
func (f *ArchiveFetcher) Fetch(ctx context.Context, unit models.Unit) ([]models.Candle, error) {
	var body []byte
	notFound := false

	backoff := retry.WithMaxRetries(f.cfg.MaxRetries, retry.NewExponential(f.cfg.RetryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := f.limiter.Wait(ctx); err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.URL(unit), nil)
		if err != nil {
			return err
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return retry.RetryableError(err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			notFound = true
			return nil
		case resp.StatusCode >= 500:
			return retry.RetryableError(fmt.Errorf("archive returned status %d", resp.StatusCode))
		case resp.StatusCode != http.StatusOK:
			return fmt.Errorf("archive returned status %d", resp.StatusCode)
		}

		body, err = io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return nil, &FetchError{Unit: unit, Op: "download", Err: err}
	}
	if notFound {
		f.logger.Debug("archive file not published", "unit", unit.String())
		return nil, ErrNoData
	}

	records, err := extractCSV(body)
	if err != nil {
		return nil, &FetchError{Unit: unit, Op: "extract", Err: err}
	}

	candles, err := schema.FromArchive(records, unit)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, ErrNoData
	}
	return candles, nil
}

// extractCSV decompresses the archive blob, which must hold exactly one
// tabular member.
func extractCSV(body []byte) ([][]string, error) {
	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return nil, fmt.Errorf("not a zip archive: %w", err)
	}
	if len(zr.File) != 1 {
		return nil, fmt.Errorf("archive holds %d members, want 1", len(zr.File))
	}
	rc, err := zr.File[0].Open()
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", zr.File[0].Name, err)
	}
	defer rc.Close()

	cr := csv.NewReader(rc)
	cr.FieldsPerRecord = -1 // column count is validated by the normalizer
	records, err := cr.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", zr.File[0].Name, err)
	}
	return records, nil
}
