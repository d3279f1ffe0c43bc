package ingest

import (
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
)

// Reporter receives human-facing progress. Accepted and Rejected may be
// called from several workers at once.
type Reporter interface {
	Accepted(name, location string)
	Rejected(name string, err error)
	RunFinished(s *Summary)
}

// ConsoleReporter writes one line per bundle and a summary line.
type ConsoleReporter struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleReporter(w io.Writer) *ConsoleReporter {
	return &ConsoleReporter{w: w}
}

func (r *ConsoleReporter) printf(format string, args ...any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fmt.Fprintf(r.w, format, args...)
}

// Banner prints the startup header naming the source and sink.
func (r *ConsoleReporter) Banner(source, sink string) {
	r.printf("bridge consumer starting\n  staging: %s\n  output:  %s\n\n", source, sink)
}

func (r *ConsoleReporter) Accepted(name, location string) {
	r.printf("processed: %s -> %s\n", name, location)
}

func (r *ConsoleReporter) Rejected(name string, err error) {
	r.printf("rejected:  %s: %v\n", name, err)
}

func (r *ConsoleReporter) RunFinished(s *Summary) {
	if s.Empty() {
		r.printf("no bundles found in staging\n")
		return
	}
	line := fmt.Sprintf("\nresults: %d processed, %d failed", s.Processed, s.Failed)
	if reasons := formatReasons(s.ByReason); reasons != "" {
		line += " (" + reasons + ")"
	}
	r.printf("%s\n", line)
}

// formatReasons renders failure counts in bundle.Kinds order.
func formatReasons(byReason map[bundle.Kind]int) string {
	var parts []string
	for _, k := range bundle.Kinds {
		if n := byReason[k]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", k, n))
		}
	}
	return strings.Join(parts, ", ")
}

type nopReporter struct{}

func (nopReporter) Accepted(string, string) {}
func (nopReporter) Rejected(string, error)  {}
func (nopReporter) RunFinished(*Summary)    {}
