package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fsnotify/fsnotify"
)

type countingRunner struct {
	calls atomic.Int64
	err   error
	ran   chan struct{}
}

func newCountingRunner(err error) *countingRunner {
	return &countingRunner{err: err, ran: make(chan struct{}, 64)}
}

func (r *countingRunner) Run(context.Context) (*Summary, error) {
	r.calls.Add(1)
	select {
	case r.ran <- struct{}{}:
	default:
	}
	if r.err != nil {
		return nil, r.err
	}
	return &Summary{}, nil
}

type fakeWatchMetrics struct {
	mu       sync.Mutex
	triggers map[string]int
	errors   int
	success  int
}

func (m *fakeWatchMetrics) IncWatchTrigger(trigger string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggers == nil {
		m.triggers = map[string]int{}
	}
	m.triggers[trigger]++
}

func (m *fakeWatchMetrics) IncWatchError() {
	m.mu.Lock()
	m.errors++
	m.mu.Unlock()
}

func (m *fakeWatchMetrics) SetWatchLastSuccess(float64) {
	m.mu.Lock()
	m.success++
	m.mu.Unlock()
}

func waitRuns(t *testing.T, r *countingRunner, n int) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for i := 0; i < n; i++ {
		select {
		case <-r.ran:
		case <-deadline:
			t.Fatalf("timed out waiting for run %d (calls=%d)", i+1, r.calls.Load())
		}
	}
}

func TestNewWatcher_Defaults(t *testing.T) {
	w := NewWatcher(&WatchOptions{Runner: newCountingRunner(nil)})
	if w.interval != DefaultWatchInterval {
		t.Errorf("interval = %v", w.interval)
	}
	if w.debounce != DefaultDebounce {
		t.Errorf("debounce = %v", w.debounce)
	}
	if w.logger == nil {
		t.Error("logger not defaulted")
	}
}

func TestWatcher_PollsOnInterval(t *testing.T) {
	r := newCountingRunner(nil)
	m := &fakeWatchMetrics{}
	w := NewWatcher(&WatchOptions{Runner: r, Interval: 10 * time.Millisecond, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	waitRuns(t, r, 3)
	cancel()

	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("Run returned %v, want context.Canceled", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggers["interval"] < 3 {
		t.Errorf("interval triggers = %d", m.triggers["interval"])
	}
	if m.success < 3 {
		t.Errorf("success = %d", m.success)
	}
}

func TestWatcher_RunsOnFileEvent(t *testing.T) {
	dir := t.TempDir()
	r := newCountingRunner(nil)
	m := &fakeWatchMetrics{}
	w := NewWatcher(&WatchOptions{
		Runner:   r,
		Dir:      dir,
		Interval: time.Hour,
		Debounce: 10 * time.Millisecond,
		Metrics:  m,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// the watch is registered asynchronously, so keep touching the file
	deadline := time.Now().Add(5 * time.Second)
	for r.calls.Load() == 0 && time.Now().Before(deadline) {
		if err := os.WriteFile(filepath.Join(dir, "bundle-new.json"), []byte("{}"), 0o644); err != nil {
			t.Fatal(err)
		}
		time.Sleep(20 * time.Millisecond)
	}
	cancel()
	<-done

	if r.calls.Load() == 0 {
		t.Fatal("file event did not trigger a run")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.triggers["fsnotify"] == 0 {
		t.Errorf("triggers = %v", m.triggers)
	}
}

func TestWatcher_MissingDirFallsBackToPolling(t *testing.T) {
	r := newCountingRunner(nil)
	w := NewWatcher(&WatchOptions{
		Runner:   r,
		Dir:      filepath.Join(t.TempDir(), "absent"),
		Interval: 10 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	waitRuns(t, r, 1)
	cancel()
	<-done
}

func TestWatcher_BacksOffOnFailure(t *testing.T) {
	r := newCountingRunner(errors.New("bucket gone"))
	m := &fakeWatchMetrics{}
	w := NewWatcher(&WatchOptions{Runner: r, Interval: 10 * time.Millisecond, Metrics: m})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	waitRuns(t, r, 2)
	cancel()
	<-done

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.errors < 2 {
		t.Errorf("errors = %d", m.errors)
	}
	if m.success != 0 {
		t.Errorf("success = %d, want 0", m.success)
	}
}

func TestWatcher_BackoffDuration(t *testing.T) {
	w := NewWatcher(&WatchOptions{Runner: newCountingRunner(nil), Interval: 30 * time.Second})
	tests := []struct {
		errs int
		want time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{3, 4 * time.Minute},
		{4, maxBackoff},
		{20, maxBackoff},
	}
	for _, tt := range tests {
		w.consecutiveErrs = tt.errs
		if got := w.backoffDuration(); got != tt.want {
			t.Errorf("errs=%d: backoff = %v, want %v", tt.errs, got, tt.want)
		}
	}
}

func TestWatcher_RecoveryResetsErrors(t *testing.T) {
	r := newCountingRunner(nil)
	w := NewWatcher(&WatchOptions{Runner: r, Interval: time.Hour})
	w.consecutiveErrs = 3

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	w.trigger(context.Background(), ticker, "interval")

	if w.consecutiveErrs != 0 {
		t.Fatalf("consecutiveErrs = %d, want 0", w.consecutiveErrs)
	}
}

func TestRelevantEvent(t *testing.T) {
	tests := []struct {
		ev   fsnotify.Event
		want bool
	}{
		{fsnotify.Event{Name: "/s/bundle-1.json", Op: fsnotify.Create}, true},
		{fsnotify.Event{Name: "/s/bundle-1.json", Op: fsnotify.Write}, true},
		{fsnotify.Event{Name: "/s/bundle-1.json", Op: fsnotify.Rename}, true},
		{fsnotify.Event{Name: "/s/bundle-1.json", Op: fsnotify.Remove}, false},
		{fsnotify.Event{Name: "/s/bundle-1.json", Op: fsnotify.Chmod}, false},
		{fsnotify.Event{Name: "/s/notes.txt", Op: fsnotify.Create}, false},
		{fsnotify.Event{Name: "/s/.bundle-1.json.swp", Op: fsnotify.Write}, false},
	}
	for _, tt := range tests {
		if got := relevantEvent(tt.ev); got != tt.want {
			t.Errorf("relevantEvent(%v) = %v, want %v", tt.ev, got, tt.want)
		}
	}
}
