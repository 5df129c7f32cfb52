// Package rterrors provides the structured error type shared across the
// runtime's public packages. It has no dependency on any other runtime
// package so that future, buffer, and the root corerun package can all
// produce and compare the same error shape without an import cycle.
package rterrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Code categorizes a runtime failure at a level coarse enough for callers
// to branch on without parsing messages.
type Code string

const (
	CodeIO                Code = "io failure"
	CodeClosed             Code = "channel closed"
	CodeInvariantViolation Code = "invariant violation"
	CodeShutdown           Code = "shutdown"
	CodeTimeout            Code = "timeout"
	CodeEndOfStream        Code = "end of stream"
	CodeWouldBlock         Code = "would block"
	CodeInvalidArgument    Code = "invalid argument"
)

// Error is a structured runtime error carrying the operation, owning CPU,
// and channel it happened on, in the style of an errno-mapped syscall
// failure report.
type Error struct {
	Op      string // operation that failed, e.g. "Future.SetValue", "Channel.Read"
	CPU     int    // owning CPU id, -1 if not applicable
	Channel uint64 // channel id, 0 if not applicable
	Code    Code
	Errno   syscall.Errno // 0 if not applicable
	Msg     string
	Inner   error
}

func (e *Error) Error() string {
	var parts []string
	if e.Op != "" {
		parts = append(parts, fmt.Sprintf("op=%s", e.Op))
	}
	if e.CPU >= 0 {
		parts = append(parts, fmt.Sprintf("cpu=%d", e.CPU))
	}
	if e.Channel != 0 {
		parts = append(parts, fmt.Sprintf("channel=%d", e.Channel))
	}
	if e.Errno != 0 {
		parts = append(parts, fmt.Sprintf("errno=%d", e.Errno))
	}

	msg := e.Msg
	if msg == "" {
		msg = string(e.Code)
	}

	if len(parts) > 0 {
		return fmt.Sprintf("corerun: %s (%s)", msg, parts[0])
	}
	return fmt.Sprintf("corerun: %s", msg)
}

func (e *Error) Unwrap() error { return e.Inner }

func (e *Error) Is(target error) bool {
	te, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == te.Code
}

// New creates a bare structured error.
func New(op string, code Code, msg string) *Error {
	return &Error{Op: op, CPU: -1, Code: code, Msg: msg}
}

// OnCPU attaches the owning CPU id to an error.
func (e *Error) OnCPU(cpu int) *Error {
	e.CPU = cpu
	return e
}

// OnChannel attaches the owning channel id to an error.
func (e *Error) OnChannel(id uint64) *Error {
	e.Channel = id
	return e
}

// Wrap classifies an arbitrary error (typically from a syscall) into a
// structured Error, mapping known errno values to the taxonomy in Code.
func Wrap(op string, inner error) *Error {
	if inner == nil {
		return nil
	}

	var existing *Error
	if errors.As(inner, &existing) {
		return &Error{
			Op:      op,
			CPU:     existing.CPU,
			Channel: existing.Channel,
			Code:    existing.Code,
			Errno:   existing.Errno,
			Msg:     existing.Msg,
			Inner:   existing.Inner,
		}
	}

	var errno syscall.Errno
	if errors.As(inner, &errno) {
		return &Error{
			Op:    op,
			CPU:   -1,
			Code:  mapErrnoToCode(errno),
			Errno: errno,
			Msg:   errno.Error(),
			Inner: inner,
		}
	}

	return &Error{Op: op, CPU: -1, Code: CodeIO, Msg: inner.Error(), Inner: inner}
}

func mapErrnoToCode(errno syscall.Errno) Code {
	switch errno {
	case syscall.EAGAIN:
		return CodeWouldBlock
	case syscall.EINVAL:
		return CodeInvalidArgument
	case syscall.ETIMEDOUT:
		return CodeTimeout
	case syscall.EPIPE, syscall.ECONNRESET:
		return CodeClosed
	default:
		return CodeIO
	}
}

// IsCode reports whether err (or something it wraps) carries the given code.
func IsCode(err error, code Code) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// Invariant builds the fatal, unrecoverable "programming error" class of
// failure: double-resolve, a second pending reader, or cross-CPU mutation
// without going through Schedule.
func Invariant(op, msg string) *Error {
	return &Error{Op: op, CPU: -1, Code: CodeInvariantViolation, Msg: msg}
}

// Shutdown builds the failure delivered to every pending future when a CPU
// halts.
func Shutdown(op string) *Error {
	return &Error{Op: op, CPU: -1, Code: CodeShutdown, Msg: "cpu halted"}
}

// Closed builds the failure delivered to futures on a channel that has been
// closed.
func Closed(op string) *Error {
	return &Error{Op: op, CPU: -1, Code: CodeClosed, Msg: "channel closed"}
}

// EndOfStream builds the failure delivered to a pending reader when the
// peer closes the connection.
func EndOfStream(op string) *Error {
	return &Error{Op: op, CPU: -1, Code: CodeEndOfStream, Msg: "end of stream"}
}
