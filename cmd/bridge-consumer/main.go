package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/cfg"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/health"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/ingest"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/metrics"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/opshttp"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/otelx"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/prof"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/staging"
	v "github.com/keithlinneman/linnemanlabs-bridge/internal/version"
)

const component = "consumer"

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	vi := v.Get()

	var conf cfg.App
	var showVersion bool

	fs := flag.NewFlagSet("bridge-consumer", flag.ContinueOnError)
	cfg.Register(fs, &conf)
	fs.BoolVar(&showVersion, "V", false, "Print version+build information and exit")

	logf := func(format string, args ...any) {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	if err := cfg.Load(fs, os.Args[1:], &conf.Sources, logf); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	if showVersion {
		fmt.Println(vi.String())
		return 0
	}

	if err := cfg.Validate(conf); err != nil {
		fmt.Fprintln(os.Stderr, "config error:", err)
		return 1
	}

	// Setup logging, stderr keeps stdout for the progress lines
	lg, err := newLogger(conf.Logging)
	if err != nil {
		fmt.Fprintln(os.Stderr, "logger init error:", err)
		return 1
	}
	defer lg.Sync()
	L := lg.With("component", component)
	ctx = log.WithContext(ctx, L)

	L.Info(ctx, "initializing bridge consumer",
		"version", vi.Version,
		"commit", vi.Commit,
		"build_id", vi.BuildId,
		"go_version", vi.GoVersion,
		"vcs_dirty", vi.DirtyLabel(),
		"staging_dir", conf.StagingDir,
		"staging_s3_bucket", conf.StagingS3Bucket,
		"output_dir", conf.OutputDir,
		"output_s3_bucket", conf.OutputS3Bucket,
		"workers", conf.Workers,
		"rate_limit", conf.RateLimit,
		"watch", conf.Watch,
		"admin_port", conf.AdminPort,
		"enable_tracing", conf.EnableTracing,
		"enable_pyroscope", conf.EnablePyroscope,
		"mac_key_arn", conf.MACKeyARN,
		"secret_ssm_param", conf.SecretSSMParam,
	)

	// Setup pyroscope profiling
	stopProf, profErr := prof.Start(ctx, prof.Options{
		Enabled:       conf.EnablePyroscope,
		AppName:       v.AppName,
		Component:     component,
		ServerAddress: conf.PyroServer,
		TenantID:      conf.PyroTenantID,
		Tags: map[string]string{
			"version":  vi.Version,
			"commit":   vi.Commit,
			"build_id": vi.BuildId,
		},
	})
	if profErr != nil {
		L.Error(ctx, profErr, "pyroscope start failed", "pyro_server", conf.PyroServer)
	}
	defer stopProf()

	// Setup otel for tracing
	shutdownOTEL, err := otelx.Init(ctx, otelx.Options{
		Enabled:   conf.EnableTracing,
		Endpoint:  conf.OTLPEndpoint,
		Insecure:  conf.OTLPInsecure,
		Sample:    conf.TraceSample,
		Service:   v.AppName,
		Component: component,
		Version:   vi.Version,
	})
	if err != nil {
		L.Error(ctx, err, "otel init failed, tracing disabled")
		shutdownOTEL = func(context.Context) error { return nil }
	}
	defer func() { _ = shutdownOTEL(context.Background()) }()

	m := metrics.New()
	m.SetBuildInfoFromVersion(v.AppName, component, vi)
	m.SetProfilingActive(conf.EnablePyroscope && profErr == nil)

	// AWS clients are only created when an option needs them
	var awsCfg aws.Config
	if conf.NeedsAWS() {
		awsCfg, err = config.LoadDefaultConfig(ctx)
		if err != nil {
			L.Error(ctx, err, "failed to load AWS config")
			return 1
		}
	}

	keyOpts := cryptoutil.KeyOptions{
		Secret:    conf.Secret,
		SSMParam:  conf.SecretSSMParam,
		KMSKeyARN: conf.MACKeyARN,
	}
	if conf.MACKeyARN != "" {
		keyOpts.KMS = kms.NewFromConfig(awsCfg)
	} else if conf.SecretSSMParam != "" {
		keyOpts.SSM = ssm.NewFromConfig(awsCfg)
	}
	verifier, keySource, err := cryptoutil.ResolveMAC(ctx, keyOpts)
	if err != nil {
		L.Error(ctx, err, "failed to resolve MAC key")
		return 1
	}
	if conf.UsesDemoSecret() {
		L.Warn(ctx, "using the public demo secret, set -secret, -secret-ssm-param or -mac-key-arn in production")
	}
	L.Info(ctx, "MAC key resolved", "key_source", keySource)

	var s3Client *s3.Client
	if conf.StagingS3Bucket != "" || conf.OutputS3Bucket != "" {
		s3Client = s3.NewFromConfig(awsCfg)
	}
	source, watchDir, err := newSource(conf, s3Client)
	if err != nil {
		L.Error(ctx, err, "failed to configure staging source")
		return 1
	}
	sink, err := newSink(conf, s3Client)
	if err != nil {
		L.Error(ctx, err, "failed to configure output sink")
		return 1
	}
	m.SetStagingSource(sourceKind(conf), source.String())

	summaries := ingest.NewSummaryStore()
	reporter := ingest.NewConsoleReporter(os.Stdout)

	var limiter *rate.Limiter
	if conf.RateLimit > 0 {
		burst := int(conf.RateLimit)
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(conf.RateLimit), burst)
	}

	driver, err := ingest.New(ingest.Options{
		Logger:    L,
		Source:    source,
		Sink:      sink,
		Verifier:  verifier,
		Metrics:   m,
		Reporter:  reporter,
		Summaries: summaries,
		Workers:   conf.Workers,
		Limiter:   limiter,
	})
	if err != nil {
		L.Error(ctx, err, "failed to create ingest driver")
		return 1
	}

	// setup toggle for shutdown, readiness also waits for the first completed run
	var gate health.ShutdownGate
	readiness := health.All(gate.Probe(), summaries.Probe())
	if conf.Watch {
		// a watcher that stops completing runs goes unready
		readiness = health.All(readiness, health.MaxAge("ingest run", 3*conf.WatchInterval, summaries.LastFinished, nil))
	}

	// admin/ops listener, restricted to non-public clients in middleware
	if conf.AdminPort > 0 {
		opsHTTPStop, err := opshttp.Start(ctx, L, &opshttp.Options{
			Port:         conf.AdminPort,
			Metrics:      m.Handler(),
			EnablePprof:  conf.EnablePprof,
			Health:       health.Fixed(true, ""),
			Readiness:    readiness,
			LastRun:      summaries,
			Middleware:   m.Middleware,
			UseRecoverMW: true,
			OnPanic:      m.IncHttpPanic,
		})
		if err != nil {
			L.Error(ctx, err, "failed to start ops http listener")
			return 1
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := opsHTTPStop(shutdownCtx); err != nil {
				L.Error(context.Background(), err, "ops http server shutdown")
			}
		}()
	}

	reporter.Banner(source.String(), sink.String())

	summary, err := driver.Run(ctx)
	if err != nil && summary == nil {
		L.Error(ctx, err, "ingest run failed")
		return 1
	}
	if err != nil {
		L.Warn(ctx, "ingest run interrupted", "error", err.Error())
	}

	if conf.Watch && ctx.Err() == nil {
		w := ingest.NewWatcher(&ingest.WatchOptions{
			Logger:   L,
			Runner:   driver,
			Dir:      watchDir,
			Interval: conf.WatchInterval,
			Metrics:  m,
		})
		_ = w.Run(ctx)
		gate.Set("draining")
		L.Info(context.Background(), "shutdown signal received")
		return 0
	}

	if conf.FailOnError && summary.Failed > 0 {
		return 1
	}
	return 0
}

func newLogger(l cfg.Logging) (log.Logger, error) {
	lvl, err := log.ParseLevel(l.LogLevel)
	if err != nil {
		return nil, err
	}
	stackLvl, err := log.ParseLevel(l.StacktraceLevel)
	if err != nil {
		return nil, err
	}
	return log.New(log.Options{
		App:               v.AppName,
		Version:           v.Version,
		Commit:            v.Commit,
		BuildId:           v.BuildId,
		Level:             lvl,
		StacktraceLevel:   stackLvl,
		JsonFormat:        l.LogJSON,
		MaxErrorLinks:     l.MaxErrorLinks,
		IncludeErrorLinks: l.IncludeErrorLinks,
		Writer:            os.Stderr,
	})
}

// newSource returns the configured staging source and, for local
// staging, the directory the watcher should observe.
func newSource(conf cfg.App, client *s3.Client) (staging.Source, string, error) {
	if conf.StagingS3Bucket != "" {
		src, err := staging.NewS3Source(client, conf.StagingS3Bucket, conf.StagingS3Prefix)
		return src, "", err
	}
	return staging.NewDirSource(conf.StagingDir), conf.StagingDir, nil
}

func newSink(conf cfg.App, client *s3.Client) (staging.Sink, error) {
	if conf.OutputS3Bucket != "" {
		return staging.NewS3Sink(client, conf.OutputS3Bucket, conf.OutputS3Prefix)
	}
	return staging.NewDirSink(conf.OutputDir)
}

func sourceKind(conf cfg.App) string {
	if conf.StagingS3Bucket != "" {
		return "s3"
	}
	return "dir"
}
