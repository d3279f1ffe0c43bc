package staging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"path"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/pathutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

const (
	// Pattern is the naming convention for staged bundle files.
	Pattern = "bundle-*.json"

	// MaxBundleSize caps how much of a single staged file is read.
	MaxBundleSize int64 = 10 * 1024 * 1024 // 10MB
)

// Candidate is one staged file discovered by a Source.
type Candidate struct {
	// Name is the base file name, used in progress output and logs.
	Name string
	// Key locates the file within the source (path or object key).
	Key string
}

// Source enumerates and reads staged bundles. List order is unspecified.
type Source interface {
	List(ctx context.Context) ([]Candidate, error)
	Read(ctx context.Context, c Candidate) ([]byte, error)
	String() string
}

// Sink persists processed results and returns where the result was written.
type Sink interface {
	Write(ctx context.Context, r bundle.Result) (string, error)
	String() string
}

// MatchName reports whether a base file name follows the staging convention.
func MatchName(name string) bool {
	ok, _ := path.Match(Pattern, name)
	return ok
}

// OutputName derives the result file name from a bundle id.
func OutputName(bundleID string) (string, error) {
	if err := pathutil.SafeSegment(bundleID); err != nil {
		return "", xerrors.Wrap(err, "unsafe bundle id")
	}
	return fmt.Sprintf("processed-%s.json", bundleID), nil
}

// EncodeResult renders r as indented JSON with a trailing newline.
func EncodeResult(r bundle.Result) ([]byte, error) {
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return nil, xerrors.Wrap(err, "encode result")
	}
	return append(data, '\n'), nil
}

// readLimited reads all of r, failing if it holds more than maxSize bytes.
func readLimited(r io.Reader, maxSize int64) ([]byte, error) {
	data, err := io.ReadAll(io.LimitReader(r, maxSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > maxSize {
		return nil, xerrors.Newf("bundle exceeds max size (limit %d bytes)", maxSize)
	}
	return data, nil
}
