package backfill

import (
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"velo/backfill/internal/models"
)

// State is a unit's position in its lifecycle. Units move
// PENDING -> (SKIPPED | FETCHING -> (NO_DATA | FETCHED -> LOADED |
// LOAD_FAILED) | FETCH_FAILED); the summary records terminal states only.
type State string

const (
	StatePending     State = "pending"
	StateSkipped     State = "skipped"
	StateFetching    State = "fetching"
	StateNoData      State = "no_data"
	StateFetched     State = "fetched"
	StateLoaded      State = "loaded"
	StateLoadFailed  State = "load_failed"
	StateFetchFailed State = "fetch_failed"
)

// Terminal reports whether a unit in this state is done for the run.
func (s State) Terminal() bool {
	switch s {
	case StateSkipped, StateNoData, StateLoaded, StateLoadFailed, StateFetchFailed:
		return true
	}
	return false
}

// Status is the run-level verdict derived from unit outcomes.
type Status string

const (
	// StatusSuccess: every unit reached LOADED or SKIPPED.
	StatusSuccess Status = "success"

	// StatusPartial: some units progressed, others did not.
	StatusPartial Status = "partial"

	// StatusNoProgress: not a single unit reached LOADED or SKIPPED.
	StatusNoProgress Status = "no_progress"
)

// Outcome is one unit's terminal result.
type Outcome struct {
	Unit   models.Unit
	State  State
	Rows   int
	Reason string
}

func (o Outcome) String() string {
	switch o.State {
	case StateLoaded:
		return fmt.Sprintf("%s: loaded:%d", o.Unit, o.Rows)
	case StateFetchFailed, StateLoadFailed:
		return fmt.Sprintf("%s: %s:%s", o.Unit, o.State, o.Reason)
	default:
		return fmt.Sprintf("%s: %s", o.Unit, o.State)
	}
}

// Summary accumulates per-unit outcomes for one run. Safe for concurrent
// recording when dates are processed in parallel.
type Summary struct {
	RunID     string
	Source    string
	StartedAt time.Time

	mu        sync.Mutex
	outcomes  []Outcome
	rows      int
	cancelled bool
}

func newSummary(source string) *Summary {
	return &Summary{
		RunID:     uuid.NewString(),
		Source:    source,
		StartedAt: time.Now().UTC(),
	}
}

func (s *Summary) record(unit models.Unit, state State, rows int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, Outcome{Unit: unit, State: state, Rows: rows, Reason: reason})
}

func (s *Summary) addRows(n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows += n
}

func (s *Summary) markCancelled() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = true
}

// Outcomes returns a copy of the recorded terminal outcomes.
func (s *Summary) Outcomes() []Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Outcome, len(s.outcomes))
	copy(out, s.outcomes)
	return out
}

// RowsLoaded is the total row count accepted by the destination.
func (s *Summary) RowsLoaded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows
}

// Cancelled reports whether the run stopped early on context cancellation.
func (s *Summary) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

// Count returns how many units ended in the given state.
func (s *Summary) Count(state State) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.outcomes {
		if o.State == state {
			n++
		}
	}
	return n
}

// Total is the number of units that reached a terminal state.
func (s *Summary) Total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.outcomes)
}

// Status derives the run verdict. An empty grid counts as success.
func (s *Summary) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	progressed := 0
	for _, o := range s.outcomes {
		if o.State == StateLoaded || o.State == StateSkipped {
			progressed++
		}
	}
	switch {
	case progressed == len(s.outcomes) && !s.cancelled:
		return StatusSuccess
	case progressed > 0:
		return StatusPartial
	default:
		return StatusNoProgress
	}
}

// ExitCode maps the verdict to a process exit code: 0 success, 2 partial,
// 3 no progress. Run-fatal errors exit 1 in the entry points.
func (s *Summary) ExitCode() int {
	switch s.Status() {
	case StatusSuccess:
		return 0
	case StatusPartial:
		return 2
	default:
		return 3
	}
}

// HTTPStatus maps the verdict for the request-triggered collector:
// 200 on full success, 207 (multi-status) otherwise.
func (s *Summary) HTTPStatus() int {
	if s.Status() == StatusSuccess {
		return http.StatusOK
	}
	return http.StatusMultiStatus
}

// Render produces the human-readable per-unit log of outcomes.
func (s *Summary) Render() string {
	outcomes := s.Outcomes()

	var b strings.Builder
	fmt.Fprintf(&b, "run %s (source=%s started=%s)\n",
		s.RunID, s.Source, s.StartedAt.Format(time.RFC3339))

	byDate := ""
	for _, o := range outcomes {
		if o.Unit.Date != byDate {
			byDate = o.Unit.Date
			fmt.Fprintf(&b, "--- %s ---\n", byDate)
		}
		fmt.Fprintf(&b, "  %s\n", o)
	}

	fmt.Fprintf(&b, "units: %d loaded, %d skipped, %d no_data, %d fetch_failed, %d load_failed\n",
		s.Count(StateLoaded), s.Count(StateSkipped), s.Count(StateNoData),
		s.Count(StateFetchFailed), s.Count(StateLoadFailed))
	fmt.Fprintf(&b, "rows loaded: %d\n", s.RowsLoaded())
	if s.Cancelled() {
		b.WriteString("run cancelled before completing the grid\n")
	}
	fmt.Fprintf(&b, "status: %s\n", s.Status())
	return b.String()
}
