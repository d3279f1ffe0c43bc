package cryptoutil

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"log/slog"
)

// MACVerifier checks a base64-encoded MAC over message. A false result with
// a nil error means the MAC did not verify. A non-nil error means the check
// could not be performed at all (for example a KMS outage).
type MACVerifier interface {
	VerifyMAC(ctx context.Context, message []byte, signatureB64 string) (bool, error)
}

// MACSigner produces a base64-encoded MAC over message.
type MACSigner interface {
	SignMAC(ctx context.Context, message []byte) (string, error)
}

// HMAC signs and verifies with HMAC-SHA256 under a fixed key. The key is
// copied at construction and never exposed.
type HMAC struct {
	key []byte
}

// NewHMAC returns an HMAC keyed with a copy of key.
func NewHMAC(key []byte) *HMAC {
	k := make([]byte, len(key))
	copy(k, key)
	return &HMAC{key: k}
}

func (h *HMAC) SignMAC(_ context.Context, message []byte) (string, error) {
	return SignHMAC(message, h.key), nil
}

func (h *HMAC) VerifyMAC(_ context.Context, message []byte, signatureB64 string) (bool, error) {
	return VerifySignature(message, signatureB64, h.key), nil
}

// String keeps key material out of %v and %s output.
func (h *HMAC) String() string { return "hmac-sha256" }

// LogValue keeps key material out of structured logs.
func (h *HMAC) LogValue() slog.Value { return slog.StringValue("hmac-sha256(redacted)") }

// SignHMAC returns base64(HMAC-SHA256(key, message)) using standard padding.
func SignHMAC(message, key []byte) string {
	m := hmac.New(sha256.New, key)
	m.Write(message)
	return base64.StdEncoding.EncodeToString(m.Sum(nil))
}

// VerifySignature reports whether signatureB64 is the base64 HMAC-SHA256 of
// message under key. It fails closed: undecodable base64 or a MAC of the
// wrong length return false. The MAC comparison is constant time.
func VerifySignature(message []byte, signatureB64 string, key []byte) bool {
	claimed, err := base64.StdEncoding.DecodeString(signatureB64)
	if err != nil {
		return false
	}
	if len(claimed) != sha256.Size {
		return false
	}
	m := hmac.New(sha256.New, key)
	m.Write(message)
	return hmac.Equal(m.Sum(nil), claimed)
}
