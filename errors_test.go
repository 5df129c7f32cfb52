package corerun

import (
	"errors"
	"syscall"
	"testing"
)

func TestNewErrorCarriesCodeAndMessage(t *testing.T) {
	err := NewError("Channel.Read", CodeClosed, "channel closed by peer")
	if err.Code != CodeClosed {
		t.Errorf("expected code %v, got %v", CodeClosed, err.Code)
	}
	if err.Op != "Channel.Read" {
		t.Errorf("expected op Channel.Read, got %s", err.Op)
	}
}

func TestIsCodeMatchesThroughWrapping(t *testing.T) {
	err := NewError("CPU.AssertAffinity", CodeInvariantViolation, "wrong thread")
	wrapped := errors.Join(err)
	if !IsCode(wrapped, CodeInvariantViolation) {
		t.Error("expected IsCode to match through errors.Join wrapping")
	}
	if IsCode(wrapped, CodeTimeout) {
		t.Error("expected IsCode not to match an unrelated code")
	}
}

func TestWrapErrorClassifiesErrno(t *testing.T) {
	err := WrapError("OutputStream.Flush", syscall.EAGAIN)
	if err.Code != CodeWouldBlock {
		t.Errorf("expected EAGAIN to classify as CodeWouldBlock, got %v", err.Code)
	}
	if err.Errno != syscall.EAGAIN {
		t.Errorf("expected errno to be preserved, got %v", err.Errno)
	}
}

func TestWrapErrorPreservesNonErrnoCause(t *testing.T) {
	cause := errors.New("disk full")
	err := WrapError("Buffer.Write", cause)
	if err.Code != CodeIO {
		t.Errorf("expected a generic cause to classify as CodeIO, got %v", err.Code)
	}
	if !errors.Is(err, err) {
		t.Error("expected an error to match itself via errors.Is")
	}
}
