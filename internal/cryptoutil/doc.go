// Package cryptoutil provides the integrity and authenticity primitives used
// to verify staged bundles.
//
// It supports:
//   - SHA-256 content digests rendered as lowercase hex
//   - Constant-time comparison of hex digests
//   - HMAC-SHA256 signing and verification with a process-wide key
//   - KMS-backed HMAC (GenerateMac/VerifyMac) where the key never leaves KMS
//   - Loading HMAC key material from an SSM SecureString parameter
package cryptoutil
