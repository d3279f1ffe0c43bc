package staging

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// DirSource reads staged bundles from a local directory.
type DirSource struct {
	dir     string
	maxSize int64
}

func NewDirSource(dir string) *DirSource {
	return &DirSource{dir: dir, maxSize: MaxBundleSize}
}

func (s *DirSource) String() string { return s.dir }

// List returns matching files in the directory. A missing directory holds
// no bundles and is not an error.
func (s *DirSource) List(_ context.Context) ([]Candidate, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, xerrors.Wrapf(err, "read staging dir %s", s.dir)
	}

	var out []Candidate
	for _, e := range entries {
		if e.IsDir() || !MatchName(e.Name()) {
			continue
		}
		out = append(out, Candidate{Name: e.Name(), Key: filepath.Join(s.dir, e.Name())})
	}
	return out, nil
}

func (s *DirSource) Read(_ context.Context, c Candidate) ([]byte, error) {
	f, err := os.Open(c.Key)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open %s", c.Key)
	}
	defer f.Close()

	data, err := readLimited(f, s.maxSize)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read %s", c.Key)
	}
	return data, nil
}

// DirSink writes results into a local directory.
type DirSink struct {
	dir string
}

// NewDirSink creates dir if needed. Failure here is fatal for a run since
// no bundle could be written.
func NewDirSink(dir string) (*DirSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, xerrors.Wrapf(err, "create output dir %s", dir)
	}
	return &DirSink{dir: dir}, nil
}

func (s *DirSink) String() string { return s.dir }

// Write replaces processed-{bundleId}.json atomically via a temp file and
// rename, so concurrent writers of the same id leave one complete file.
func (s *DirSink) Write(_ context.Context, r bundle.Result) (string, error) {
	name, err := OutputName(r.BundleID)
	if err != nil {
		return "", err
	}
	data, err := EncodeResult(r)
	if err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(s.dir, ".processed-*.tmp")
	if err != nil {
		return "", xerrors.Wrap(err, "create temp result file")
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", xerrors.Wrapf(err, "write %s", tmpPath)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", xerrors.Wrapf(err, "close %s", tmpPath)
	}
	if err := os.Chmod(tmpPath, 0o644); err != nil {
		os.Remove(tmpPath)
		return "", xerrors.Wrapf(err, "chmod %s", tmpPath)
	}

	dst := filepath.Join(s.dir, name)
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", xerrors.Wrapf(err, "rename to %s", dst)
	}
	return dst, nil
}
