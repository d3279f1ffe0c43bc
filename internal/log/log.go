package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

// Logger is the structured logger passed through the bridge. kv holds
// alternating string keys and values; Error adds the error chain, its types
// and a stack to the record.
type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	// Sync flushes buffered output; the slog backend writes through.
	Sync() error
}

// Options configures New. App, Version, Commit and BuildId are stamped on
// every record; empty values are omitted.
type Options struct {
	App               string
	Version           string
	Commit            string
	BuildId           string
	Level             slog.Level
	StacktraceLevel   slog.Level
	JsonFormat        bool
	MaxErrorLinks     int
	IncludeErrorLinks bool
	// Writer defaults to stderr; stdout carries the bridge's progress lines.
	Writer io.Writer
	// RedactKeys extends DefaultRedactKeys.
	RedactKeys []string
}

// DefaultRedactKeys are attribute keys whose values never reach the output.
var DefaultRedactKeys = []string{"secret", "hmac_key", "auth_token", "authorization", "password"}

// New builds the slog-backed Logger.
func New(opts Options) (Logger, error) { return newSlog(opts) }

var levelNames = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// ParseLevel maps a -log-level value, case-insensitively, to a slog level.
func ParseLevel(s string) (slog.Level, error) {
	if lvl, ok := levelNames[strings.ToLower(strings.TrimSpace(s))]; ok {
		return lvl, nil
	}
	return 0, fmt.Errorf("log level %q: want one of debug|info|warn|error", s)
}
