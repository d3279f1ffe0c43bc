package ingest

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
)

func TestConsoleReporter_Lines(t *testing.T) {
	var buf bytes.Buffer
	r := NewConsoleReporter(&buf)

	r.Banner("/staging", "/output")
	r.Accepted("bundle-a.json", "/output/processed-a.json")
	r.Rejected("bundle-b.json", bundle.ErrChecksumMismatch)
	r.RunFinished(&Summary{
		Found:     2,
		Processed: 1,
		Failed:    1,
		ByReason:  map[bundle.Kind]int{bundle.KindChecksumMismatch: 1},
	})

	out := buf.String()
	for _, want := range []string{
		"staging: /staging",
		"output:  /output",
		"processed: bundle-a.json -> /output/processed-a.json",
		"rejected:  bundle-b.json: checksum_mismatch",
		"results: 1 processed, 1 failed (checksum_mismatch=1)",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}

func TestConsoleReporter_NoFailuresNoReasons(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleReporter(&buf).RunFinished(&Summary{Found: 1, Processed: 1})
	if strings.Contains(buf.String(), "(") {
		t.Fatalf("unexpected reason list: %q", buf.String())
	}
}

func TestConsoleReporter_Empty(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleReporter(&buf).RunFinished(&Summary{})
	if strings.TrimSpace(buf.String()) != "no bundles found in staging" {
		t.Fatalf("got %q", buf.String())
	}
}

func TestFormatReasons_Order(t *testing.T) {
	got := formatReasons(map[bundle.Kind]int{
		bundle.KindUnexpected:       2,
		bundle.KindMalformedInput:   1,
		bundle.KindSignatureInvalid: 0,
	})
	if got != "malformed_input=1, unexpected_error=2" {
		t.Fatalf("formatReasons = %q", got)
	}
}

func TestConsoleReporter_WrappedError(t *testing.T) {
	var buf bytes.Buffer
	NewConsoleReporter(&buf).Rejected("bundle-x.json", errors.New("boom"))
	if !strings.Contains(buf.String(), "bundle-x.json: boom") {
		t.Fatalf("got %q", buf.String())
	}
}
