package log

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"testing"

	"go.opentelemetry.io/otel/trace"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// newTestLogger builds a JSON slogLogger writing to buf.
func newTestLogger(t *testing.T, buf *bytes.Buffer, opts Options) *slogLogger {
	t.Helper()
	opts.Writer = buf
	opts.JsonFormat = true
	l, err := newSlog(opts)
	if err != nil {
		t.Fatalf("newSlog: %v", err)
	}
	return l.(*slogLogger)
}

// jsonRecord parses the last JSON log line in buf.
func jsonRecord(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	last := lines[len(lines)-1]
	var m map[string]any
	if err := json.Unmarshal([]byte(last), &m); err != nil {
		t.Fatalf("parse JSON log line: %v\nraw: %s", err, last)
	}
	return m
}

func TestNewSlog_DefaultWriter(t *testing.T) {
	l, err := newSlog(Options{App: "test"})
	if err != nil || l == nil {
		t.Fatalf("newSlog = %v, %v", l, err)
	}
}

func TestNewSlog_Defaults(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "bridge"})
	if l.maxErrorLinks != 8 {
		t.Fatalf("maxErrorLinks = %d, want 8", l.maxErrorLinks)
	}
}

func TestNewSlog_BuildAttrs(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "bridge", Version: "1.2.3", Commit: "abc"})
	l.Info(context.Background(), "hello")

	m := jsonRecord(t, &buf)
	if m["app"] != "bridge" || m["version"] != "1.2.3" || m["commit"] != "abc" {
		t.Fatalf("record = %v", m)
	}
	if _, ok := m["build_id"]; ok {
		t.Fatal("empty build_id should be omitted")
	}
}

func TestNewSlog_TextFormat(t *testing.T) {
	var buf bytes.Buffer
	l, _ := newSlog(Options{App: "bridge", Writer: &buf})
	l.Info(context.Background(), "text line", "bundle", "bundle-1.json")
	out := buf.String()
	if !strings.Contains(out, "msg=\"text line\"") || !strings.Contains(out, "bundle=bundle-1.json") {
		t.Fatalf("logfmt output = %q", out)
	}
}

func TestSlogLogger_LevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", Level: slog.LevelWarn})
	ctx := context.Background()

	l.Debug(ctx, "d")
	l.Info(ctx, "i")
	if buf.Len() != 0 {
		t.Fatalf("below-level records written: %s", buf.String())
	}
	l.Warn(ctx, "w")
	if jsonRecord(t, &buf)["msg"] != "w" {
		t.Fatal("warn record missing")
	}
}

func TestSlogLogger_With_CopyOnWrite(t *testing.T) {
	var buf bytes.Buffer
	base := newTestLogger(t, &buf, Options{App: "test"})
	child := base.With("bundle", "bundle-a.json")

	base.Info(context.Background(), "base")
	if _, ok := jsonRecord(t, &buf)["bundle"]; ok {
		t.Fatal("With leaked into the parent logger")
	}
	child.With("stage", "verify").Info(context.Background(), "child")
	m := jsonRecord(t, &buf)
	if m["bundle"] != "bundle-a.json" || m["stage"] != "verify" {
		t.Fatalf("child record = %v", m)
	}
}

func TestSlogLogger_IgnoresMalformedKV(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	l.With(42, "x", "dangling").Info(context.Background(), "kv", "ok", 1, "odd")

	m := jsonRecord(t, &buf)
	if m["ok"] != float64(1) {
		t.Fatalf("ok = %v", m["ok"])
	}
	if _, found := m["odd"]; found {
		t.Fatal("dangling key should be dropped")
	}
}

func TestSlogLogger_Error_Enrichment(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", IncludeErrorLinks: true, MaxErrorLinks: 4})

	root := errors.New("connection reset")
	err := xerrors.Wrap(xerrors.Wrap(root, "read bundle"), "bundle-7.json")
	l.Error(context.Background(), err, "bundle failed", "bundle", "bundle-7.json")

	m := jsonRecord(t, &buf)
	if m["err"] != "bundle-7.json: read bundle: connection reset" {
		t.Fatalf("err = %v", m["err"])
	}
	if m["cause_type"] != "*errors.errorString" {
		t.Fatalf("cause_type = %v", m["cause_type"])
	}
	chain, ok := m["error_chain"].([]any)
	if !ok || len(chain) != 3 {
		t.Fatalf("error_chain = %v", m["error_chain"])
	}
	links, ok := m["error_links"].([]any)
	if !ok || len(links) == 0 {
		t.Fatalf("error_links = %v", m["error_links"])
	}
	if _, ok := m["stack"]; !ok {
		t.Fatal("error records carry a stack")
	}
}

func TestSlogLogger_Error_NilError(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	l.Error(context.Background(), nil, "no err")

	m := jsonRecord(t, &buf)
	if _, ok := m["err"]; ok {
		t.Fatal("nil error should not add err")
	}
}

func TestSlogLogger_Error_LinksDisabled(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	l.Error(context.Background(), errors.New("x"), "failed")
	if _, ok := jsonRecord(t, &buf)["error_links"]; ok {
		t.Fatal("error_links present while disabled")
	}
}

func TestOtelHandler_AddsTraceFields(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	l.Info(trace.ContextWithSpanContext(context.Background(), sc), "traced")

	m := jsonRecord(t, &buf)
	if m["trace_id"] != "0102030405060708090a0b0c0d0e0f10" || m["span_id"] != "0102030405060708" {
		t.Fatalf("record = %v", m)
	}
}

func TestOtelHandler_NoTrace(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	l.Info(context.Background(), "plain")
	if _, found := jsonRecord(t, &buf)["trace_id"]; found {
		t.Fatal("trace_id without a span context")
	}
}

func TestStackHandler_Threshold(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", StacktraceLevel: slog.LevelWarn})

	l.Info(context.Background(), "info")
	if _, ok := jsonRecord(t, &buf)["stack"]; ok {
		t.Fatal("stack below threshold")
	}
	l.Warn(context.Background(), "warn")
	// frames in this package are skipped, so the stack starts in the test runner
	stack, _ := jsonRecord(t, &buf)["stack"].(string)
	if !strings.Contains(stack, "testing.tRunner") {
		t.Fatalf("stack = %q", stack)
	}
}

func TestStackHandler_UsesCapturedStack(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	err := captureHere()
	l.Error(context.Background(), err, "failed")

	stack, _ := jsonRecord(t, &buf)["stack"].(string)
	if stack == "" {
		t.Fatal("stack missing")
	}
	if strings.Contains(stack, "stackHandler") {
		t.Fatalf("captured stack should not include logger frames:\n%s", stack)
	}
}

func captureHere() error { return xerrors.New("origin") }

func TestRedact_DefaultKeys(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test"})
	l.With("secret", "demo-secret-key").Info(context.Background(), "config", "Authorization", "Bearer x", "staging_dir", "/s")

	m := jsonRecord(t, &buf)
	if m["secret"] != redacted || m["Authorization"] != redacted {
		t.Fatalf("secrets not redacted: %v", m)
	}
	if m["staging_dir"] != "/s" {
		t.Fatalf("staging_dir = %v", m["staging_dir"])
	}
	if strings.Contains(buf.String(), "demo-secret-key") {
		t.Fatal("secret value reached the output")
	}
}

func TestRedact_ExtraKeysAndGroups(t *testing.T) {
	var buf bytes.Buffer
	l := newTestLogger(t, &buf, Options{App: "test", RedactKeys: []string{"Signature"}})
	l.Info(context.Background(), "bundle",
		"bundle", slog.GroupValue(slog.String("signature", "c2ln"), slog.String("id", "b1")),
	)
	if strings.Contains(buf.String(), "c2ln") {
		t.Fatalf("grouped key not redacted: %s", buf.String())
	}
	if !strings.Contains(buf.String(), `"id":"b1"`) {
		t.Fatalf("other group members lost: %s", buf.String())
	}
}

func TestRedactHandler_WithAttrs(t *testing.T) {
	var buf bytes.Buffer
	h := newRedactHandler(slog.NewJSONHandler(&buf, nil), nil)
	slog.New(h).With("password", "hunter2").Info("x")
	if strings.Contains(buf.String(), "hunter2") {
		t.Fatalf("WithAttrs bypassed redaction: %s", buf.String())
	}
}

func TestErrorChain(t *testing.T) {
	if got := errorChain(nil); len(got) != 0 {
		t.Fatalf("nil chain = %v", got)
	}
	wrapped := fmt.Errorf("outer: %w", errors.New("inner"))
	if got := errorChain(wrapped); len(got) != 2 {
		t.Fatalf("chain = %v", got)
	}
	// withStack repeats its inner message; the chain keeps one copy
	if got := errorChain(xerrors.WithStack(errors.New("same"))); len(got) != 1 {
		t.Fatalf("dedup chain = %v", got)
	}
	joined := errors.Join(errors.New("a"), errors.New("b"))
	if got := errorChain(joined); len(got) < 3 {
		t.Fatalf("joined chain = %v", got)
	}
}

func TestClassifyTypes(t *testing.T) {
	if s, r := classifyTypes(nil); s != "" || r != "" {
		t.Fatalf("nil = %q, %q", s, r)
	}
	err := xerrors.Wrap(fmt.Errorf("ctx: %w", errors.New("root")), "outer")
	surface, root := classifyTypes(err)
	if surface != "*errors.errorString" || root != "*errors.errorString" {
		t.Fatalf("surface=%q root=%q", surface, root)
	}
}

func TestChainLinks_RespectsMax(t *testing.T) {
	err := xerrors.Wrap(xerrors.Wrap(xerrors.New("a"), "b"), "c")
	if got := chainLinks(err, 2); len(got) > 2 {
		t.Fatalf("links = %d, want <= 2", len(got))
	}
	if got := chainLinks(nil, 4); len(got) != 0 {
		t.Fatalf("nil links = %v", got)
	}
}

func TestFrameHelpers_Empty(t *testing.T) {
	if _, _, _, ok := frameFromPC(0); ok {
		t.Fatal("frameFromPC(0) ok")
	}
	if _, _, _, ok := firstExtFrame(nil); ok {
		t.Fatal("firstExtFrame(nil) ok")
	}
}
