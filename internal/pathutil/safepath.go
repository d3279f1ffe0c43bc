package pathutil

import (
	"strings"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// HasDotSegments reports whether any path segment is "." or "..".
func HasDotSegments(p string) bool {
	for _, seg := range strings.Split(p, "/") {
		if seg == "." || seg == ".." {
			return true
		}
	}
	return false
}

// SafeSegment checks that name can be used as a single file name (or object
// key segment) without escaping its parent. Untrusted identifiers must pass
// this before being joined into an output path.
func SafeSegment(name string) error {
	switch {
	case name == "":
		return xerrors.New("empty path segment")
	case strings.ContainsAny(name, "/\\"):
		return xerrors.Newf("path segment %q contains a separator", name)
	case strings.ContainsRune(name, 0):
		return xerrors.Newf("path segment %q contains NUL", name)
	case HasDotSegments(name):
		return xerrors.Newf("path segment %q is a dot segment", name)
	}
	return nil
}
