package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"sync"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/health"
)

var errNoRun = errors.New("ingest: no completed run")

// Summary aggregates one run.
type Summary struct {
	Found     int
	Processed int
	Failed    int
	// ByReason counts failures per rejection kind. Kinds with no failures
	// are omitted.
	ByReason  map[bundle.Kind]int
	StartedAt time.Time
	Duration  time.Duration
}

// Empty reports whether the run found no candidates.
func (s *Summary) Empty() bool { return s.Found == 0 }

func (s *Summary) MarshalJSON() ([]byte, error) {
	reasons := s.ByReason
	if reasons == nil {
		reasons = map[bundle.Kind]int{}
	}
	return json.Marshal(struct {
		Found           int                 `json:"found"`
		Processed       int                 `json:"processed"`
		Failed          int                 `json:"failed"`
		ByReason        map[bundle.Kind]int `json:"byReason"`
		StartedAt       string              `json:"startedAt"`
		DurationSeconds float64             `json:"durationSeconds"`
	}{
		Found:           s.Found,
		Processed:       s.Processed,
		Failed:          s.Failed,
		ByReason:        reasons,
		StartedAt:       bundle.FormatTimestamp(s.StartedAt),
		DurationSeconds: s.Duration.Seconds(),
	})
}

// tally is the shared counter set for a run in progress.
type tally struct {
	processed atomic.Int64
	failed    atomic.Int64

	mu       sync.Mutex
	byReason map[bundle.Kind]int
}

func newTally() *tally {
	return &tally{byReason: make(map[bundle.Kind]int)}
}

func (t *tally) ok() { t.processed.Add(1) }

func (t *tally) fail(kind bundle.Kind) {
	t.failed.Add(1)
	t.mu.Lock()
	t.byReason[kind]++
	t.mu.Unlock()
}

func (t *tally) summary(found int, started time.Time, dur time.Duration) *Summary {
	t.mu.Lock()
	reasons := maps.Clone(t.byReason)
	t.mu.Unlock()
	return &Summary{
		Found:     found,
		Processed: int(t.processed.Load()),
		Failed:    int(t.failed.Load()),
		ByReason:  reasons,
		StartedAt: started,
		Duration:  dur,
	}
}

// SummaryStore holds the latest completed run. Safe for concurrent use.
type SummaryStore struct {
	last atomic.Pointer[Summary]
	runs atomic.Int64
}

func NewSummaryStore() *SummaryStore { return &SummaryStore{} }

// Set records s as the latest run. s is copied.
func (st *SummaryStore) Set(s *Summary) {
	if s == nil {
		return
	}
	cp := *s
	cp.ByReason = maps.Clone(s.ByReason)
	st.last.Store(&cp)
	st.runs.Add(1)
}

// Last returns the latest run, if any run has completed.
func (st *SummaryStore) Last() (*Summary, bool) {
	s := st.last.Load()
	return s, s != nil
}

// LastFinished returns when the latest run ended.
func (st *SummaryStore) LastFinished() (time.Time, bool) {
	s, ok := st.Last()
	if !ok {
		return time.Time{}, false
	}
	return s.StartedAt.Add(s.Duration), true
}

// Runs returns how many runs have completed.
func (st *SummaryStore) Runs() int64 { return st.runs.Load() }

// Probe fails until the first run completes.
func (st *SummaryStore) Probe() health.CheckFunc {
	return func(context.Context) error {
		if st.Runs() == 0 {
			return errNoRun
		}
		return nil
	}
}
