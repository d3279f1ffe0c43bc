package bundle

import (
	"bytes"
	"encoding/json"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/cryptoutil"
	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// CanonicalPayload returns the byte encoding that checksums and signatures
// cover: compact JSON, object keys sorted at every depth, no HTML escaping.
// Numbers decoded by Validate are json.Number and keep their literal text.
//
// encoding/json already sorts map keys, so the rule holds for any
// map[string]any document regardless of insertion order.
func CanonicalPayload(payload map[string]any) ([]byte, error) {
	if payload == nil {
		payload = map[string]any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(payload); err != nil {
		return nil, xerrors.Wrap(err, "canonicalize payload")
	}
	// Encode always terminates with a newline
	return bytes.TrimSuffix(buf.Bytes(), []byte{'\n'}), nil
}

// ComputeChecksum returns the lowercase hex SHA-256 of a canonical payload.
func ComputeChecksum(canonical []byte) string {
	return cryptoutil.SHA256Hex(canonical)
}

// VerifyChecksum recomputes the payload digest of b and compares it to the
// claimed checksum. The comparison is exact, so an uppercase claim fails.
func VerifyChecksum(b *Bundle) (bool, error) {
	canonical, err := CanonicalPayload(b.Payload)
	if err != nil {
		return false, err
	}
	return ChecksumMatches(canonical, b.Checksum), nil
}

// ChecksumMatches compares the digest of an already canonicalized payload
// with a claimed checksum, for callers that reuse canonical for the MAC.
func ChecksumMatches(canonical []byte, claim string) bool {
	return cryptoutil.HashEqual(ComputeChecksum(canonical), claim)
}
