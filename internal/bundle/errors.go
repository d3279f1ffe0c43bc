package bundle

import (
	"errors"
	"fmt"

	"github.com/keithlinneman/linnemanlabs-bridge/internal/xerrors"
)

// Kind classifies why a bundle was rejected.
type Kind string

const (
	KindMalformedInput   Kind = "malformed_input"
	KindSchemaViolation  Kind = "schema_violation"
	KindChecksumMismatch Kind = "checksum_mismatch"
	KindSignatureInvalid Kind = "signature_invalid"
	KindUnexpected       Kind = "unexpected_error"
)

// Kinds lists every rejection kind in reporting order.
var Kinds = []Kind{
	KindMalformedInput,
	KindSchemaViolation,
	KindChecksumMismatch,
	KindSignatureInvalid,
	KindUnexpected,
}

// Sentinels for errors.Is matching. They compare by Kind only.
var (
	ErrMalformedInput   = &Error{Kind: KindMalformedInput}
	ErrSchemaViolation  = &Error{Kind: KindSchemaViolation}
	ErrChecksumMismatch = &Error{Kind: KindChecksumMismatch}
	ErrSignatureInvalid = &Error{Kind: KindSignatureInvalid}
	ErrUnexpected       = &Error{Kind: KindUnexpected}
)

// Error is a per-bundle rejection.
type Error struct {
	Kind Kind
	// Field names the offending bundle field for schema violations.
	Field string
	Msg   string
	Err   error
}

func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Field != "" {
		msg += " (" + e.Field + ")"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same Kind, so errors.Is(err, ErrSchemaViolation)
// works regardless of field or message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func newError(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Msg: fmt.Sprintf(format, args...)}
}

// Unexpected wraps err as an UnexpectedError rejection, recording a stack
// when the cause carries none. Already-classified errors are returned
// unchanged.
func Unexpected(err error, msg string) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	return &Error{Kind: KindUnexpected, Msg: msg, Err: xerrors.EnsureTrace(err)}
}

// KindOf returns the rejection kind for err. Errors that were never
// classified are reported as KindUnexpected.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var be *Error
	if errors.As(err, &be) && be.Kind != "" {
		return be.Kind
	}
	return KindUnexpected
}
