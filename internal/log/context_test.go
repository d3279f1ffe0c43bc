package log

import (
	"bytes"
	"context"
	"errors"
	"testing"
)

func TestFromContext_ReturnsStoredLogger(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Options{App: "test", Writer: &buf, JsonFormat: true})
	ctx := WithContext(context.Background(), l)

	FromContext(ctx).Info(ctx, "from context")
	if !bytes.Contains(buf.Bytes(), []byte("from context")) {
		t.Fatal("stored logger was not returned")
	}
}

func TestFromContext_FallsBackToNop(t *testing.T) {
	cases := map[string]context.Context{
		"empty":      context.Background(),
		"nil logger": WithContext(context.Background(), nil),
		"wrong type": context.WithValue(context.Background(), loggerKey{}, "not a logger"),
	}
	for name, ctx := range cases {
		t.Run(name, func(t *testing.T) {
			if _, ok := FromContext(ctx).(discard); !ok {
				t.Fatalf("FromContext = %T, want discard", FromContext(ctx))
			}
		})
	}
}

func TestWithContext_DoesNotAffectParent(t *testing.T) {
	parent := context.Background()
	l, _ := New(Options{App: "test", Writer: &bytes.Buffer{}})
	_ = WithContext(parent, l)
	if _, ok := FromContext(parent).(discard); !ok {
		t.Fatal("parent context gained a logger")
	}
}

func TestNop(t *testing.T) {
	l := Nop().With("bundle", "b1").With("odd")
	if _, ok := l.(discard); !ok {
		t.Fatalf("With returned %T", l)
	}
	ctx := context.Background()
	l.Debug(ctx, "d", "k", 1)
	l.Info(ctx, "i")
	l.Warn(ctx, "w")
	l.Error(ctx, errors.New("e"), "e")
	l.Error(ctx, nil, "nil err")
	if err := l.Sync(); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}
