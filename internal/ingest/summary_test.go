package ingest

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
)

func TestSummaryStore_EmptyUntilSet(t *testing.T) {
	st := NewSummaryStore()
	if _, ok := st.Last(); ok {
		t.Fatal("new store should be empty")
	}
	if st.Runs() != 0 {
		t.Fatalf("Runs = %d", st.Runs())
	}
	st.Set(nil)
	if st.Runs() != 0 {
		t.Fatal("nil summary should be ignored")
	}
}

func TestSummaryStore_CopiesOnSet(t *testing.T) {
	st := NewSummaryStore()
	s := &Summary{Found: 2, Failed: 1, ByReason: map[bundle.Kind]int{bundle.KindSchemaViolation: 1}}
	st.Set(s)

	s.Found = 99
	s.ByReason[bundle.KindSchemaViolation] = 99

	got, ok := st.Last()
	if !ok {
		t.Fatal("expected a summary")
	}
	if got.Found != 2 || got.ByReason[bundle.KindSchemaViolation] != 1 {
		t.Fatalf("stored summary mutated: %+v", got)
	}
}

func TestSummaryStore_Concurrent(t *testing.T) {
	st := NewSummaryStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			st.Set(&Summary{Found: n})
			st.Last()
		}(i)
	}
	wg.Wait()
	if st.Runs() != 50 {
		t.Fatalf("Runs = %d, want 50", st.Runs())
	}
}

func TestTally_Summary(t *testing.T) {
	tl := newTally()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			if n%2 == 0 {
				tl.ok()
			} else {
				tl.fail(bundle.KindChecksumMismatch)
			}
		}(i)
	}
	wg.Wait()

	s := tl.summary(20, time.Unix(0, 0), time.Second)
	if s.Processed != 10 || s.Failed != 10 || s.ByReason[bundle.KindChecksumMismatch] != 10 {
		t.Fatalf("summary = %+v", s)
	}
}

func TestSummary_MarshalJSON(t *testing.T) {
	s := &Summary{
		Found:     3,
		Processed: 2,
		Failed:    1,
		ByReason:  map[bundle.Kind]int{bundle.KindMalformedInput: 1},
		StartedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Duration:  1500 * time.Millisecond,
	}
	data, err := json.Marshal(s)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got["found"] != float64(3) || got["failed"] != float64(1) {
		t.Errorf("counts = %v", got)
	}
	if got["startedAt"] != "2024-01-01T00:00:00.000Z" {
		t.Errorf("startedAt = %v", got["startedAt"])
	}
	if got["durationSeconds"] != 1.5 {
		t.Errorf("durationSeconds = %v", got["durationSeconds"])
	}
	reasons, _ := got["byReason"].(map[string]any)
	if reasons["malformed_input"] != float64(1) {
		t.Errorf("byReason = %v", got["byReason"])
	}
}

func TestSummary_MarshalJSON_NilReasons(t *testing.T) {
	data, err := json.Marshal(&Summary{})
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	_ = json.Unmarshal(data, &got)
	if _, ok := got["byReason"].(map[string]any); !ok {
		t.Fatalf("byReason should be an object, got %s", data)
	}
}

func TestSummaryStore_Probe(t *testing.T) {
	st := NewSummaryStore()
	p := st.Probe()
	if err := p.Check(context.Background()); err == nil {
		t.Fatal("probe should fail before the first run")
	}
	st.Set(&Summary{})
	if err := p.Check(context.Background()); err != nil {
		t.Fatalf("probe should pass after a run: %v", err)
	}
}

func TestSummaryStore_LastFinished(t *testing.T) {
	st := NewSummaryStore()
	if _, ok := st.LastFinished(); ok {
		t.Fatal("LastFinished should report false before any run")
	}
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	st.Set(&Summary{StartedAt: start, Duration: 2 * time.Second})
	got, ok := st.LastFinished()
	if !ok || !got.Equal(start.Add(2*time.Second)) {
		t.Fatalf("LastFinished = %v, %v", got, ok)
	}
}
