package opshttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/health"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/httpmw"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// NewRouter builds the admin routes: health, readiness, metrics, the
// last run summary and pprof.
func NewRouter(L log.Logger, opts *Options) http.Handler {
	r := chi.NewRouter()
	r.Use(httpmw.RequestID(""), httpmw.AccessLog(L))
	if opts.UseRecoverMW {
		r.Use(recoverMW(L, opts.OnPanic))
	}
	if opts.Middleware != nil {
		r.Use(opts.Middleware)
	}

	// Health endpoints
	r.Get("/-/ping", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("pong\n"))
	})
	healthz := health.HealthzHandler(opts.Health)
	readyz := health.ReadyzHandler(opts.Readiness)
	r.Get("/-/healthy", healthz)
	r.Get("/healthz", healthz)
	r.Get("/-/ready", readyz)
	r.Get("/readyz", readyz)

	// Metrics
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics)
	}

	if opts.LastRun != nil {
		r.Handle("/-/last-run", requireNonPublicNetwork(L, lastRunHandler(opts.LastRun)))
	}

	// pprof (unregistered routes 404)
	if opts.EnablePprof {
		RegisterPprof(L, r)
	}

	return otelhttp.NewHandler(r, "opshttp")
}

// RegisterPprof mounts net/http/pprof under /debug, reachable only from
// loopback and private networks.
func RegisterPprof(L log.Logger, r chi.Router) {
	r.Mount("/debug", requireNonPublicNetwork(L, middleware.Profiler()))
}

func lastRunHandler(src LastRunSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, ok := src.Last()
		if !ok {
			http.Error(w, "no completed run\n", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		_ = enc.Encode(s)
	}
}

// requireNonPublicNetwork rejects clients outside loopback, private and
// link-local ranges with 403.
func requireNonPublicNetwork(L log.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			L.Warn(r.Context(), "ops http: rejecting request with unparseable remote addr", "remote_addr", r.RemoteAddr)
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		ip, err := netip.ParseAddr(host)
		if err != nil {
			L.Warn(r.Context(), "ops http: rejecting request with invalid remote ip", "remote_addr", r.RemoteAddr)
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		ip = ip.Unmap()
		if !ip.IsLoopback() && !ip.IsPrivate() && !ip.IsLinkLocalUnicast() {
			L.Warn(r.Context(), "ops http: rejecting request from public address", "remote_ip", ip.String(), "path", r.URL.Path)
			http.Error(w, "forbidden\n", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func recoverMW(L log.Logger, onPanic func()) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					L.Error(r.Context(), xerrors.Newf("panic: %v", rec), "ops http: recovered panic", "path", r.URL.Path)
					if onPanic != nil {
						onPanic()
					}
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// Start admin HTTP server with /metrics, /-/healthy, /-/ready, /-/last-run, pprof debug endpoints
// Returns stop(ctx) for graceful shutdown
func Start(ctx context.Context, L log.Logger, opts *Options) (func(context.Context) error, error) {
	port := opts.Port
	if port == 0 {
		port = 9000
	}
	addr := fmt.Sprintf(":%d", port)

	srv := &http.Server{
		Addr:              addr,
		Handler:           NewRouter(L, opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      60 * time.Second, // pprof profile defaults to 30s
		IdleTimeout:       60 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, xerrors.Wrapf(err, "could not listen for admin port on addr=%v", addr)
	}

	go func() {
		L.Info(ctx, "ops http server listening", "addr", addr)
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			L.Error(ctx, err, "ops http server error")
		}
	}()

	var once sync.Once
	stop := func(sctx context.Context) (retErr error) {
		once.Do(func() {
			L.Info(sctx, "ops http server shutting down")
			c, cancel := context.WithTimeout(sctx, 5*time.Second)
			defer cancel()
			retErr = srv.Shutdown(c)
		})
		return retErr
	}
	return stop, nil
}
