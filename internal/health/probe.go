package health

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// Probe is evaluated per request. A nil error passes; anything else fails
// with the error text as the reason.
type Probe interface{ Check(context.Context) error }

// CheckFunc adapts a function into a Probe.
type CheckFunc func(context.Context) error

func (f CheckFunc) Check(ctx context.Context) error { return f(ctx) }

// Fixed returns a probe that always returns ok or fails with the given reason
func Fixed(ok bool, reason string) CheckFunc {
	if ok {
		return func(context.Context) error { return nil }
	}
	if reason == "" {
		reason = "unhealthy"
	}
	return func(context.Context) error { return xerrors.New(reason) }
}

// All passes when every non-nil probe passes and stops at the first failure.
func All(ps ...Probe) CheckFunc {
	return func(ctx context.Context) error {
		for _, p := range ps {
			if p == nil {
				continue
			}
			if err := p.Check(ctx); err != nil {
				return err
			}
		}
		return nil
	}
}

// MaxAge fails while last reports nothing and whenever the reported time
// is older than maxAge. Watch mode uses it to surface a stalled loop.
func MaxAge(name string, maxAge time.Duration, last func() (time.Time, bool), now func() time.Time) CheckFunc {
	if now == nil {
		now = time.Now
	}
	return func(context.Context) error {
		at, ok := last()
		if !ok {
			return xerrors.Newf("%s: never succeeded", name)
		}
		if age := now().Sub(at); age > maxAge {
			return xerrors.Newf("%s: last success %s ago (max %s)", name, age.Truncate(time.Second), maxAge)
		}
		return nil
	}
}

// ShutdownGate fails readiness once Set, so load balancers and watch
// supervisors stop routing to a draining process. The zero value is open.
type ShutdownGate struct {
	reason atomic.Pointer[string]
}

// Set closes the gate. An empty reason reports "draining".
func (g *ShutdownGate) Set(reason string) {
	if reason == "" {
		reason = "draining"
	}
	g.reason.Store(&reason)
}

func (g *ShutdownGate) Probe() CheckFunc {
	return func(context.Context) error {
		if r := g.reason.Load(); r != nil {
			return xerrors.New(*r)
		}
		return nil
	}
}
