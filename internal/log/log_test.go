package log

import (
	"log/slog"
	"strings"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		input string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"WARN", slog.LevelWarn},
		{"  Info\n", slog.LevelInfo},
	}
	for _, tt := range tests {
		got, err := ParseLevel(tt.input)
		if err != nil {
			t.Errorf("ParseLevel(%q) error: %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseLevel(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestParseLevel_Invalid(t *testing.T) {
	for _, in := range []string{"", "trace", "warning", "fatal"} {
		_, err := ParseLevel(in)
		if err == nil {
			t.Errorf("ParseLevel(%q) should fail", in)
			continue
		}
		if !strings.Contains(err.Error(), "debug|info|warn|error") {
			t.Errorf("error %q should list valid levels", err)
		}
	}
}

func TestNew_ReturnsLogger(t *testing.T) {
	var _ Logger
	l, err := New(Options{App: "test", Writer: &strings.Builder{}})
	if err != nil || l == nil {
		t.Fatalf("New = %v, %v", l, err)
	}
}
