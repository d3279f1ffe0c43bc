package opshttp

import (
	"net/http"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/health"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/ingest"
)

// LastRunSource exposes the latest completed ingest run.
type LastRunSource interface {
	Last() (*ingest.Summary, bool)
}

type Options struct {
	Port        int
	Metrics     http.Handler
	EnablePprof bool
	Health      health.Probe
	Readiness   health.Probe
	LastRun     LastRunSource

	// Middleware wraps every route, e.g. request metrics.
	Middleware   func(http.Handler) http.Handler
	UseRecoverMW bool
	OnPanic      func() // Optional callback for when panics are recovered, e.g. to increment prometheus counters
}
