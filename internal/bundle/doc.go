// Package bundle defines the untrusted bundle record, its validation, and the
// derived result emitted for bundles that pass verification.
//
// The core pieces are:
//   - [Validate]: parses raw bytes into a structurally valid [Bundle]
//   - [CanonicalPayload]: the deterministic payload encoding that checksums and MACs cover
//   - [VerifyChecksum]: recomputes the SHA-256 content digest of the payload
//   - [Process]: derives a [Result] from an accepted bundle
//
// Rejections are reported as [*Error] values carrying a [Kind]. Use errors.Is
// against the exported sentinels or [KindOf] to classify them.
package bundle
