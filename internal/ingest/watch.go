package ingest

import (
	"context"
	"math"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/staging"
)

const (
	// DefaultWatchInterval is the poll fallback between runs.
	DefaultWatchInterval = 30 * time.Second

	// DefaultDebounce coalesces bursts of filesystem events into one run.
	DefaultDebounce = 250 * time.Millisecond

	// maxBackoff caps exponential backoff on consecutive failed runs.
	maxBackoff = 5 * time.Minute
)

// Runner is the part of a Driver the watcher needs.
type Runner interface {
	Run(ctx context.Context) (*Summary, error)
}

// WatchMetrics is implemented by the metrics package to observe watch mode.
type WatchMetrics interface {
	IncWatchTrigger(trigger string)
	IncWatchError()
	SetWatchLastSuccess(unixSeconds float64)
}

// WatchOptions configures a Watcher.
type WatchOptions struct {
	Logger log.Logger
	Runner Runner

	// Dir is a local staging directory to watch with fsnotify. Empty
	// means interval polling only, as for S3 staging.
	Dir string

	Interval time.Duration
	Debounce time.Duration
	Metrics  WatchMetrics
}

// Watcher reruns ingestion when staging changes.
type Watcher struct {
	runner   Runner
	logger   log.Logger
	dir      string
	interval time.Duration
	debounce time.Duration
	metrics  WatchMetrics

	consecutiveErrs int
	runCount        int64
}

func NewWatcher(opts *WatchOptions) *Watcher {
	w := &Watcher{
		runner:   opts.Runner,
		logger:   opts.Logger,
		dir:      opts.Dir,
		interval: opts.Interval,
		debounce: opts.Debounce,
		metrics:  opts.Metrics,
	}
	if w.logger == nil {
		w.logger = log.Nop()
	}
	if w.interval <= 0 {
		w.interval = DefaultWatchInterval
	}
	if w.debounce <= 0 {
		w.debounce = DefaultDebounce
	}
	return w
}

// Run blocks until ctx is cancelled, triggering a run on every
// relevant filesystem event burst and every poll interval.
func (w *Watcher) Run(ctx context.Context) error {
	events, fsErrs, closeNotify := w.openNotify(ctx)
	defer closeNotify()

	w.logger.Info(ctx, "staging watcher starting",
		"interval", w.interval.String(),
		"fsnotify", events != nil,
		"dir", w.dir,
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	debounce := time.NewTimer(w.debounce)
	debounce.Stop()
	defer debounce.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info(ctx, "staging watcher stopping",
				"reason", ctx.Err(),
				"runs", w.runCount,
			)
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if relevantEvent(ev) {
				debounce.Reset(w.debounce)
			}
		case err, ok := <-fsErrs:
			if !ok {
				fsErrs = nil
				continue
			}
			w.logger.Warn(ctx, "staging watcher: fsnotify error", "error", err.Error())
		case <-debounce.C:
			w.trigger(ctx, ticker, "fsnotify")
		case <-ticker.C:
			w.trigger(ctx, ticker, "interval")
		}
	}
}

// openNotify watches dir when configured. Failure to watch falls back
// to polling; the returned channels are nil in that case.
func (w *Watcher) openNotify(ctx context.Context) (<-chan fsnotify.Event, <-chan error, func()) {
	if w.dir == "" {
		return nil, nil, func() {}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn(ctx, "staging watcher: fsnotify unavailable, polling only", "error", err.Error())
		return nil, nil, func() {}
	}
	if err := fw.Add(w.dir); err != nil {
		fw.Close()
		w.logger.Warn(ctx, "staging watcher: cannot watch dir, polling only", "dir", w.dir, "error", err.Error())
		return nil, nil, func() {}
	}
	return fw.Events, fw.Errors, func() { fw.Close() }
}

func relevantEvent(ev fsnotify.Event) bool {
	if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
		return false
	}
	return staging.MatchName(filepath.Base(ev.Name))
}

// trigger runs once and adjusts the ticker for backoff or recovery.
func (w *Watcher) trigger(ctx context.Context, ticker *time.Ticker, reason string) {
	w.runCount++
	if w.metrics != nil {
		w.metrics.IncWatchTrigger(reason)
	}
	w.logger.Debug(ctx, "staging watcher: run triggered", "trigger", reason)

	_, err := w.runner.Run(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		w.consecutiveErrs++
		if w.metrics != nil {
			w.metrics.IncWatchError()
		}
		backoff := w.backoffDuration()
		w.logger.Error(ctx, err, "staging watcher: run failed, backing off",
			"consecutive_errors", w.consecutiveErrs,
			"next_run_in", backoff.String(),
		)
		ticker.Reset(backoff)
		return
	}

	if w.metrics != nil {
		w.metrics.SetWatchLastSuccess(float64(time.Now().Unix()))
	}
	if w.consecutiveErrs > 0 {
		w.logger.Info(ctx, "staging watcher: recovered, resuming normal interval",
			"had_consecutive_errors", w.consecutiveErrs,
		)
		w.consecutiveErrs = 0
		ticker.Reset(w.interval)
	}
}

// backoffDuration computes exponential backoff capped at maxBackoff.
// consecutiveErrs=1 → 2x interval, =2 → 4x, =3 → 8x, etc.
func (w *Watcher) backoffDuration() time.Duration {
	mult := math.Pow(2, float64(w.consecutiveErrs))
	d := time.Duration(float64(w.interval) * mult)
	if d > maxBackoff {
		d = maxBackoff
	}
	return d
}
