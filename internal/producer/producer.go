// Package producer seals payloads into signed bundles and stages them
// for the consumer.
package producer

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/bundle"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// DefaultProducerID identifies bundles from this producer unless overridden.
const DefaultProducerID = "go-producer-001"

// Seal builds a bundle around payload with a fresh id, a checksum and a
// MAC over the canonical payload.
func Seal(ctx context.Context, payload map[string]any, producerID string, signer cryptoutil.MACSigner, now time.Time) (*bundle.Bundle, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	if producerID == "" {
		return nil, xerrors.New("producer id is required")
	}
	canonical, err := bundle.CanonicalPayload(payload)
	if err != nil {
		return nil, err
	}
	sig, err := signer.SignMAC(ctx, canonical)
	if err != nil {
		return nil, xerrors.Wrap(err, "sign payload")
	}
	return &bundle.Bundle{
		BundleID:  uuid.NewString(),
		CreatedAt: bundle.FormatTimestamp(now),
		Producer:  producerID,
		Payload:   payload,
		Signature: sig,
		Checksum:  bundle.ComputeChecksum(canonical),
	}, nil
}

// Save writes b as bundle-{bundleId}.json in dir, creating dir if needed,
// and returns the file path. The file appears under its final name only
// once fully written.
func Save(dir string, b *bundle.Bundle) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", xerrors.Wrapf(err, "create staging dir %s", dir)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return "", xerrors.Wrap(err, "encode bundle")
	}

	// temp name must not match the staging pattern
	tmp, err := os.CreateTemp(dir, ".bundle-*.tmp")
	if err != nil {
		return "", xerrors.Wrap(err, "create temp bundle file")
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(buf.Bytes()); err != nil {
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

	dst := filepath.Join(dir, "bundle-"+b.BundleID+".json")
	if err := os.Rename(tmpPath, dst); err != nil {
		os.Remove(tmpPath)
		return "", xerrors.Wrapf(err, "rename to %s", dst)
	}
	return dst, nil
}

// DemoPayloads returns the sample payloads the producer command seals
// when no payload file is given.
func DemoPayloads(now time.Time) []map[string]any {
	return []map[string]any{
		{"type": "metrics", "values": []any{1, 2, 3, 4, 5}, "timestamp": now.UnixMilli()},
		{"type": "event", "name": "user_action", "userId": "user-123"},
		{"type": "config", "settings": map[string]any{"feature_x": true, "threshold": 0.75}},
	}
}

// LoadPayloadFile reads a JSON object to use as a payload. Numbers keep
// their literal text.
func LoadPayloadFile(path string) (map[string]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "read payload file %s", path)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var payload map[string]any
	if err := dec.Decode(&payload); err != nil {
		return nil, xerrors.Wrapf(err, "parse payload file %s", path)
	}
	if payload == nil {
		return nil, xerrors.Newf("payload file %s must hold a JSON object", path)
	}
	return payload, nil
}
