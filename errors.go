package corerun

import "github.com/corelace/corerun/internal/rterrors"

// Error is the structured error type returned by every blocking operation
// in this package: a failed read, a closed channel, a violated affinity
// invariant. It is a straight alias of the internal error type so callers
// outside this module never import an internal package to type-assert on
// one.
type Error = rterrors.Error

// Code categorizes an Error for programmatic handling; compare with
// IsCode rather than matching Msg text.
type Code = rterrors.Code

const (
	CodeIO                 = rterrors.CodeIO
	CodeClosed             = rterrors.CodeClosed
	CodeInvariantViolation = rterrors.CodeInvariantViolation
	CodeShutdown           = rterrors.CodeShutdown
	CodeTimeout            = rterrors.CodeTimeout
	CodeEndOfStream        = rterrors.CodeEndOfStream
	CodeWouldBlock         = rterrors.CodeWouldBlock
	CodeInvalidArgument    = rterrors.CodeInvalidArgument
)

// IsCode reports whether err is a *Error (directly or via Unwrap) with the
// given code.
func IsCode(err error, code Code) bool { return rterrors.IsCode(err, code) }

// NewError constructs a plain structured error, for application code
// building its own failures to hand to a Future.
func NewError(op string, code Code, msg string) *Error { return rterrors.New(op, code, msg) }

// WrapError classifies an arbitrary error (including a syscall.Errno)
// into a structured Error, preserving it as Inner.
func WrapError(op string, inner error) *Error { return rterrors.Wrap(op, inner) }

// Closed constructs a CodeClosed error for op, the failure every pending
// Future on a Channel resolves to once it's closed.
func Closed(op string) *Error { return rterrors.Closed(op) }

// Shutdown constructs a CodeShutdown error for op, used when a CPU's
// Halt tears down work still in flight.
func Shutdown(op string) *Error { return rterrors.Shutdown(op) }
