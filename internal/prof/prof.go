package prof

import (
	"context"
	"runtime"

	"github.com/grafana/pyroscope-go"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// Options configures continuous profiling. Component is added as a tag so
// the consumer and producer can share one application name.
type Options struct {
	Enabled              bool
	AppName              string
	Component            string
	ServerAddress        string
	AuthToken            string
	TenantID             string
	Tags                 map[string]string
	ProfileMutexFraction int
	BlockProfileRate     int
}

var profileTypes = []pyroscope.ProfileType{
	pyroscope.ProfileCPU,
	pyroscope.ProfileAllocObjects,
	pyroscope.ProfileAllocSpace,
	pyroscope.ProfileInuseObjects,
	pyroscope.ProfileInuseSpace,
	pyroscope.ProfileGoroutines,
	pyroscope.ProfileMutexCount,
	pyroscope.ProfileMutexDuration,
	pyroscope.ProfileBlockCount,
	pyroscope.ProfileBlockDuration,
}

// Start begins pushing profiles when enabled. The returned stop func is
// always non-nil and safe to call when Start fails.
func Start(ctx context.Context, opts Options) (func(), error) {
	L := log.FromContext(ctx).With("component", opts.Component, "server_address", opts.ServerAddress)
	noop := func() {}

	if !opts.Enabled {
		L.Debug(ctx, "profiling disabled")
		return noop, nil
	}
	if opts.ServerAddress == "" {
		return noop, xerrors.New("profiling enabled without a server address")
	}

	if opts.ProfileMutexFraction > 0 {
		runtime.SetMutexProfileFraction(opts.ProfileMutexFraction)
	}
	if opts.BlockProfileRate > 0 {
		runtime.SetBlockProfileRate(opts.BlockProfileRate)
	}

	profiler, err := pyroscope.Start(config(opts))
	if err != nil {
		return noop, xerrors.Wrapf(err, "start pyroscope for %s", opts.AppName)
	}
	L.Info(ctx, "profiling started", "app_name", opts.AppName)

	return func() {
		if err := profiler.Stop(); err != nil {
			L.Warn(context.Background(), "profiler stop", "err", err)
			return
		}
		L.Info(context.Background(), "profiling stopped")
	}, nil
}

func config(opts Options) pyroscope.Config {
	c := pyroscope.Config{
		ApplicationName: opts.AppName,
		ServerAddress:   opts.ServerAddress,
		TenantID:        opts.TenantID,
		Tags:            tags(opts),
		ProfileTypes:    profileTypes,
	}
	if opts.AuthToken != "" {
		c.HTTPHeaders = map[string]string{"Authorization": "Bearer " + opts.AuthToken}
	}
	return c
}

// tags copies opts.Tags and adds the component. Explicit tags win.
func tags(opts Options) map[string]string {
	out := make(map[string]string, len(opts.Tags)+1)
	if opts.Component != "" {
		out["component"] = opts.Component
	}
	for k, v := range opts.Tags {
		out[k] = v
	}
	return out
}
