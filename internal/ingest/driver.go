package ingest

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/log"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/staging"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

const tracerName = "github.com/keithlinneman/linnemanlabs-bridge/internal/ingest"

// Metrics is implemented by the metrics package to observe runs.
type Metrics interface {
	IncBundle(result string, reason bundle.Kind)
	ObserveBundleDuration(seconds float64)
	ObserveRun(s *Summary)
}

// Result labels passed to Metrics.IncBundle.
const (
	ResultProcessed = "processed"
	ResultFailed    = "failed"
)

// Options configures a Driver. Source, Sink and Verifier are required.
type Options struct {
	Logger   log.Logger
	Source   staging.Source
	Sink     staging.Sink
	Verifier cryptoutil.MACVerifier

	Metrics   Metrics
	Reporter  Reporter
	Summaries *SummaryStore

	// Workers bounds concurrent bundles. Zero or less means one.
	Workers int
	// Limiter paces bundle starts when set.
	Limiter *rate.Limiter
	// Now stamps processedAt. Defaults to time.Now.
	Now func() time.Time
}

// Driver runs the pipeline over every candidate in a source.
type Driver struct {
	logger    log.Logger
	source    staging.Source
	sink      staging.Sink
	verifier  cryptoutil.MACVerifier
	metrics   Metrics
	reporter  Reporter
	summaries *SummaryStore
	workers   int
	limiter   *rate.Limiter
	now       func() time.Time
	tracer    trace.Tracer
}

func New(opts Options) (*Driver, error) {
	if opts.Source == nil {
		return nil, xerrors.New("ingest: source is required")
	}
	if opts.Sink == nil {
		return nil, xerrors.New("ingest: sink is required")
	}
	if opts.Verifier == nil {
		return nil, xerrors.New("ingest: signature verifier is required")
	}
	d := &Driver{
		logger:    opts.Logger,
		source:    opts.Source,
		sink:      opts.Sink,
		verifier:  opts.Verifier,
		metrics:   opts.Metrics,
		reporter:  opts.Reporter,
		summaries: opts.Summaries,
		workers:   opts.Workers,
		limiter:   opts.Limiter,
		now:       opts.Now,
		tracer:    otel.Tracer(tracerName),
	}
	if d.logger == nil {
		d.logger = log.Nop()
	}
	if d.reporter == nil {
		d.reporter = nopReporter{}
	}
	if d.workers <= 0 {
		d.workers = 1
	}
	if d.now == nil {
		d.now = time.Now
	}
	return d, nil
}

// Run processes every candidate currently in the source. Per-bundle
// failures never fail the run; the returned error is only for a source
// that cannot be listed or a context cancelled before all candidates
// were started.
func (d *Driver) Run(ctx context.Context) (*Summary, error) {
	started := d.now()
	// duration uses the monotonic clock; d.now may be fixed in tests
	begin := time.Now()
	ctx, span := d.tracer.Start(ctx, "ingest.run", trace.WithAttributes(
		attribute.String("ingest.source", d.source.String()),
		attribute.String("ingest.sink", d.sink.String()),
		attribute.Int("ingest.workers", d.workers),
	))
	defer span.End()

	candidates, err := d.source.List(ctx)
	if err != nil {
		err = xerrors.Wrapf(err, "list staging %s", d.source)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list failed")
		return nil, err
	}
	span.SetAttributes(attribute.Int("ingest.found", len(candidates)))

	t := newTally()
	var g errgroup.Group
	g.SetLimit(d.workers)

	var runErr error
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			runErr = err
			break
		}
		if d.limiter != nil {
			if err := d.limiter.Wait(ctx); err != nil {
				runErr = err
				break
			}
		}
		g.Go(func() error {
			d.handle(ctx, c, t)
			return nil
		})
	}
	_ = g.Wait()

	s := t.summary(len(candidates), started, time.Since(begin))
	d.finish(ctx, s)

	if runErr != nil {
		span.SetStatus(codes.Error, "run interrupted")
		return s, xerrors.Wrap(runErr, "run interrupted")
	}
	return s, nil
}

func (d *Driver) finish(ctx context.Context, s *Summary) {
	d.reporter.RunFinished(s)
	if d.summaries != nil {
		d.summaries.Set(s)
	}
	if d.metrics != nil {
		d.metrics.ObserveRun(s)
	}
	if s.Empty() {
		d.logger.Info(ctx, "no bundles found", "source", d.source.String())
		return
	}
	d.logger.Info(ctx, "ingest run complete",
		"found", s.Found,
		"processed", s.Processed,
		"failed", s.Failed,
		"duration", s.Duration.String(),
	)
}

// handle runs one candidate to a terminal state and records the outcome.
func (d *Driver) handle(ctx context.Context, c staging.Candidate, t *tally) {
	start := time.Now()
	ctx, span := d.tracer.Start(ctx, "ingest.bundle", trace.WithAttributes(
		attribute.String("ingest.file", c.Name),
	))
	defer span.End()

	res, loc, err := d.processCandidate(ctx, c)
	if d.metrics != nil {
		d.metrics.ObserveBundleDuration(time.Since(start).Seconds())
	}

	if err != nil {
		kind := bundle.KindOf(err)
		t.fail(kind)
		span.RecordError(err)
		span.SetStatus(codes.Error, string(kind))
		if kind == bundle.KindUnexpected {
			d.logger.Error(ctx, err, "bundle failed", "file", c.Name, "reason", kind)
		} else {
			d.logger.Warn(ctx, "bundle rejected", "file", c.Name, "reason", kind, "detail", err.Error())
		}
		d.reporter.Rejected(c.Name, err)
		if d.metrics != nil {
			d.metrics.IncBundle(ResultFailed, kind)
		}
		return
	}

	t.ok()
	span.SetAttributes(
		attribute.String("bundle.id", res.BundleID),
		attribute.String("bundle.payload_type", res.PayloadType),
	)
	d.logger.Info(ctx, "bundle processed",
		"file", c.Name,
		"bundle_id", res.BundleID,
		"payload_type", res.PayloadType,
		"output", loc,
	)
	d.reporter.Accepted(c.Name, loc)
	if d.metrics != nil {
		d.metrics.IncBundle(ResultProcessed, "")
	}
}

// processCandidate walks Discovered -> Validated -> ChecksumOk ->
// SignatureOk -> Processed -> Written. A panic anywhere in the walk is
// an unexpected failure for this bundle only.
func (d *Driver) processCandidate(ctx context.Context, c staging.Candidate) (res bundle.Result, loc string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = bundle.Unexpected(xerrors.Newf("panic: %v", r), "bundle pipeline panicked")
		}
	}()

	raw, err := d.source.Read(ctx, c)
	if err != nil {
		return res, "", bundle.Unexpected(err, "read bundle")
	}

	b, err := bundle.Validate(raw)
	if err != nil {
		return res, "", err
	}

	canonical, err := bundle.CanonicalPayload(b.Payload)
	if err != nil {
		return res, "", bundle.Unexpected(err, "canonicalize payload")
	}
	if !bundle.ChecksumMatches(canonical, b.Checksum) {
		return res, "", &bundle.Error{Kind: bundle.KindChecksumMismatch, Field: "checksum", Msg: "does not match payload digest"}
	}

	valid, err := d.verifier.VerifyMAC(ctx, canonical, b.Signature)
	if err != nil {
		return res, "", bundle.Unexpected(err, "verify signature")
	}
	if !valid {
		return res, "", &bundle.Error{Kind: bundle.KindSignatureInvalid, Field: "signature", Msg: "MAC does not verify"}
	}

	res = bundle.Process(b, d.now())

	loc, err = d.sink.Write(ctx, res)
	if err != nil {
		return res, "", bundle.Unexpected(err, "write result")
	}
	return res, loc, nil
}
