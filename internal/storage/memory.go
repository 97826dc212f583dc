package storage

import (
	"context"
	"sync"

	"velo/backfill/internal/models"
)

// MemoryStore is an in-memory Store used by pipeline tests. It mirrors the
// ClickHouse implementation's append-only and existence semantics.
type MemoryStore struct {
	mu      sync.Mutex
	rows    []models.Candle
	inserts int

	// FailInserts makes InsertCandles return a LoadError while set.
	FailInserts bool

	// FailLookups makes existence checks return an OracleError while set.
	FailLookups bool
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) EnsureTable(ctx context.Context) error { return nil }

func (s *MemoryStore) InsertCandles(ctx context.Context, candles []models.Candle) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailInserts {
		return 0, &LoadError{Err: context.DeadlineExceeded}
	}
	s.rows = append(s.rows, candles...)
	s.inserts++
	return len(candles), nil
}

func (s *MemoryStore) CapturedUnits(ctx context.Context, dates []string, symbols []string, timeframes []models.Timeframe) (map[models.Unit]bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLookups {
		return nil, &OracleError{Err: context.DeadlineExceeded}
	}

	want := make(map[models.Unit]bool)
	for _, d := range dates {
		for _, sym := range symbols {
			for _, tf := range timeframes {
				want[models.Unit{Symbol: sym, Timeframe: tf, Date: d}] = true
			}
		}
	}

	captured := make(map[models.Unit]bool)
	for _, c := range s.rows {
		if want[c.Unit()] {
			captured[c.Unit()] = true
		}
	}
	return captured, nil
}

func (s *MemoryStore) Captured(ctx context.Context, unit models.Unit) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.FailLookups {
		return false, &OracleError{Err: context.DeadlineExceeded}
	}
	for _, c := range s.rows {
		if c.Unit() == unit {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) Close() error { return nil }

// Rows returns a copy of everything inserted so far.
func (s *MemoryStore) Rows() []models.Candle {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.Candle, len(s.rows))
	copy(out, s.rows)
	return out
}

// Inserts returns how many insert calls were issued; the runner batches one
// per date, so tests assert on this.
func (s *MemoryStore) Inserts() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inserts
}
