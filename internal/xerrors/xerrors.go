// Package xerrors attaches call-site information to errors for the logger.
// Constructors (New, Newf, Join, WithStack) record a stack; Wrap and Wrapf
// record the single frame that added context.
package xerrors

import (
	"errors"
	"fmt"
	"runtime"
)

const maxStackDepth = 64

type withStack struct {
	err error
	pcs []uintptr
}

func (w *withStack) Error() string       { return w.err.Error() }
func (w *withStack) Unwrap() error       { return w.err }
func (w *withStack) StackPCs() []uintptr { return w.pcs }
func (w *withStack) IsXerrorsWrapper()   {}

type wrap struct {
	err error
	msg string
	pc  uintptr
}

func (w *wrap) Error() string     { return w.msg + ": " + w.err.Error() }
func (w *wrap) Unwrap() error     { return w.err }
func (w *wrap) PC() uintptr       { return w.pc }
func (w *wrap) IsXerrorsWrapper() {}

// stacked records the stack of the exported function's caller. It must
// only be called directly from an exported constructor.
func stacked(err error) error {
	pcs := make([]uintptr, maxStackDepth)
	// runtime.Callers, stacked, the constructor
	n := runtime.Callers(3, pcs)
	return &withStack{err: err, pcs: pcs[:n]}
}

// wrapped records the frame of the exported function's caller.
func wrapped(err error, msg string) error {
	var pc [1]uintptr
	runtime.Callers(3, pc[:])
	return &wrap{err: err, msg: msg, pc: pc[0]}
}

func New(msg string) error             { return stacked(errors.New(msg)) }
func Newf(f string, args ...any) error { return stacked(fmt.Errorf(f, args...)) }

func WithStack(err error) error {
	if err == nil {
		return nil
	}
	return stacked(err)
}

// EnsureTrace adds a stack unless something in the chain already has one.
func EnsureTrace(err error) error {
	if err == nil {
		return nil
	}
	var hs interface{ StackPCs() []uintptr }
	if errors.As(err, &hs) && len(hs.StackPCs()) > 0 {
		return err
	}
	return stacked(err)
}

func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return wrapped(err, msg)
}

func Wrapf(err error, format string, args ...any) error {
	if err == nil {
		return nil
	}
	return wrapped(err, fmt.Sprintf(format, args...))
}

// Join combines errs like errors.Join and records the caller's stack. It
// returns nil when every err is nil.
func Join(errs ...error) error {
	j := errors.Join(errs...)
	if j == nil {
		return nil
	}
	return stacked(j)
}
