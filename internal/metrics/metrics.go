package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/ingest"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/version"
)

// IngestMetrics is the consumer's registry: pipeline, watch mode, build
// info and the admin listener's HTTP metrics.
type IngestMetrics struct {
	reg     *prometheus.Registry
	handler http.Handler

	// admin http
	inflight       prometheus.Gauge
	reqTotal       *prometheus.CounterVec
	reqDur         *prometheus.HistogramVec
	respBytes      *prometheus.HistogramVec
	httpPanicTotal prometheus.Counter
	errorsTotal    *prometheus.CounterVec

	buildInfo       *prometheus.GaugeVec
	profilingActive prometheus.Gauge
	stagingSource   *prometheus.GaugeVec

	// pipeline
	bundlesTotal     *prometheus.CounterVec
	bundleDuration   prometheus.Histogram
	runsTotal        prometheus.Counter
	runDuration      prometheus.Histogram
	lastRunTimestamp prometheus.Gauge
	lastRunBundles   *prometheus.GaugeVec

	// watch mode
	watchTriggersTotal *prometheus.CounterVec
	watchErrorsTotal   prometheus.Counter
	watchLastSuccessTs prometheus.Gauge
}

// New returns a fresh registry + standard collectors + pipeline and HTTP metrics
// safe labels only (result, reason, method, route, code) to avoid cardinality explosions
func New() *IngestMetrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &IngestMetrics{
		inflight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "http_inflight_requests",
			Help: "Current number of in-flight admin HTTP requests",
		}),
		reqTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total admin HTTP requests by method, route, and status",
		}, []string{"method", "route", "status"}),
		reqDur: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Admin request latency by method and route",
			Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"method", "route"}),
		respBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "http_response_size_bytes",
			Help: "Admin response size by method and route",
			// 128B probe bodies up to 8MiB pprof profiles
			Buckets: prometheus.ExponentialBuckets(128, 4, 9),
		}, []string{"method", "route"}),
		httpPanicTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "http_panic_total",
			Help: "Total number of recovered admin http panics",
		}),
		errorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total 5xx admin HTTP errors by method and route",
		}, []string{"method", "route"}),
		buildInfo: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "build_info",
			Help: "Build metadata (value is always 1)",
		}, []string{"app", "component", "version", "commit", "commit_date", "build_id", "build_date", "vcs_dirty", "go_version"}),
		profilingActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "profiling_active",
			Help: "Whether continuous profiling is active (1) or disabled/failed (0)",
		}),
		stagingSource: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_staging_source_info",
			Help: "Current staging source (label carries value, gauge is always 1)",
		}, []string{"kind", "location"}),
		bundlesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_bundles_total",
			Help: "Bundles reaching a terminal state by result and rejection reason",
		}, []string{"result", "reason"}),
		bundleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_bundle_duration_seconds",
			Help:    "Time to take one bundle from read to terminal state",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		}),
		runsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_runs_total",
			Help: "Total completed ingest runs",
		}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "bridge_run_duration_seconds",
			Help:    "Wall time of a complete ingest run",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
		}),
		lastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_last_run_timestamp_seconds",
			Help: "Unix timestamp of when the latest completed run started",
		}),
		lastRunBundles: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "bridge_last_run_bundles",
			Help: "Bundle counts of the latest completed run by outcome (found, processed, failed)",
		}, []string{"outcome"}),
		watchTriggersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "bridge_watch_triggers_total",
			Help: "Watch mode runs by trigger (fsnotify, interval)",
		}, []string{"trigger"}),
		watchErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bridge_watch_errors_total",
			Help: "Watch mode runs that failed before processing bundles",
		}),
		watchLastSuccessTs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "bridge_watch_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful watch mode run",
		}),
	}
	reg.MustRegister(
		m.inflight,
		m.reqTotal,
		m.reqDur,
		m.respBytes,
		m.httpPanicTotal,
		m.errorsTotal,
		m.buildInfo,
		m.profilingActive,
		m.stagingSource,
		m.bundlesTotal,
		m.bundleDuration,
		m.runsTotal,
		m.runDuration,
		m.lastRunTimestamp,
		m.lastRunBundles,
		m.watchTriggersTotal,
		m.watchErrorsTotal,
		m.watchLastSuccessTs,
	)

	m.handler = promhttp.HandlerFor(reg, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
	m.reg = reg
	return m
}

func (m *IngestMetrics) IncHttpPanic() {
	m.httpPanicTotal.Inc()
}

func (m *IngestMetrics) Handler() http.Handler {
	return m.handler
}

// set once at startup.
func (m *IngestMetrics) SetBuildInfoFromVersion(app, component string, vi version.Info) {
	m.buildInfo.With(prometheus.Labels{
		"app":         app,
		"component":   component,
		"version":     vi.Version,
		"commit":      vi.Commit,
		"commit_date": vi.CommitDate,
		"build_id":    vi.BuildId,
		"build_date":  vi.BuildDate,
		"go_version":  vi.GoVersion,
		"vcs_dirty":   vi.DirtyLabel(),
	}).Set(1)
}

func (m *IngestMetrics) SetProfilingActive(active bool) {
	if active {
		m.profilingActive.Set(1)
	} else {
		m.profilingActive.Set(0)
	}
}

func (m *IngestMetrics) SetStagingSource(kind, location string) {
	m.stagingSource.Reset() // clear previous label value
	m.stagingSource.WithLabelValues(kind, location).Set(1)
}

// IncBundle counts a bundle outcome. reason is empty for processed bundles.
func (m *IngestMetrics) IncBundle(result string, reason bundle.Kind) {
	m.bundlesTotal.WithLabelValues(result, string(reason)).Inc()
}

func (m *IngestMetrics) ObserveBundleDuration(seconds float64) {
	m.bundleDuration.Observe(seconds)
}

func (m *IngestMetrics) ObserveRun(s *ingest.Summary) {
	m.runsTotal.Inc()
	m.runDuration.Observe(s.Duration.Seconds())
	m.SetLastRun(s.StartedAt, s.Found, s.Processed, s.Failed)
}

func (m *IngestMetrics) SetLastRun(started time.Time, found, processed, failed int) {
	m.lastRunTimestamp.Set(float64(started.Unix()))
	m.lastRunBundles.WithLabelValues("found").Set(float64(found))
	m.lastRunBundles.WithLabelValues("processed").Set(float64(processed))
	m.lastRunBundles.WithLabelValues("failed").Set(float64(failed))
}

func (m *IngestMetrics) IncWatchTrigger(trigger string) {
	m.watchTriggersTotal.WithLabelValues(trigger).Inc()
}

func (m *IngestMetrics) IncWatchError() {
	m.watchErrorsTotal.Inc()
}

func (m *IngestMetrics) SetWatchLastSuccess(unixSeconds float64) {
	m.watchLastSuccessTs.Set(unixSeconds)
}

var (
	_ ingest.Metrics      = (*IngestMetrics)(nil)
	_ ingest.WatchMetrics = (*IngestMetrics)(nil)
)
