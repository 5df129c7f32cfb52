package corerun

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/buffer"
	"github.com/corelace/corerun/future"
	"github.com/corelace/corerun/internal/rterrors"
	"github.com/corelace/corerun/internal/selector"
)

// ConsumeDecision is what a ReadWithConsumer callback reports after
// looking at the bytes accumulated so far: either it needs more data
// (NeedMore), or it has everything it needs and hands back a value
// (Consumed).
type ConsumeDecision[T any] struct {
	done  bool
	value T
}

// NeedMore reports that the consumer could not make progress with the
// bytes seen so far; the stream rewinds to the last mark and waits for
// more data to arrive before calling the consumer again.
func NeedMore[T any]() ConsumeDecision[T] {
	return ConsumeDecision[T]{}
}

// Consumed reports that the consumer is done and resolves the read with v.
// Any bytes left unread in the buffer remain available to the next read.
func Consumed[T any](v T) ConsumeDecision[T] {
	return ConsumeDecision[T]{done: true, value: v}
}

// pendingRead is the single outstanding read request: attempt tries to
// satisfy it from whatever is already buffered, returning true if it was
// resolved (in which case it's cleared).
type pendingRead struct {
	attempt func() bool
	fail    func(error)
}

// InputStream is the read half of a Channel: it accumulates bytes off a
// non-blocking socket fd into a single reusable Buffer and dispatches
// them to the one read request currently pending. At most one read may
// be outstanding at a time — a caller that tries to start a second one
// before the first resolves is a programming error, reported as a typed
// invariant failure rather than silently queued.
type InputStream struct {
	cpu *CPU
	fd  int

	buf *buffer.Buffer

	mu       sync.Mutex
	pending  *pendingRead
	closed   bool
	closeErr error
}

// NewInputStream wraps fd (already non-blocking) for reading on cpu. It
// does not register with the selector itself; the owning Channel does
// that once both halves exist.
func NewInputStream(cpu *CPU, fd int) *InputStream {
	return &InputStream{
		cpu: cpu,
		fd:  fd,
		buf: buffer.New(DefaultReadBufferSize),
	}
}

// ReadExactly resolves once n bytes have been read, returning them as a
// standalone Buffer the caller must Release.
func (s *InputStream) ReadExactly(n int) *future.Future[*buffer.Buffer] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[*buffer.Buffer] {
		if buf.ReadableBytes() < n {
			return NeedMore[*buffer.Buffer]()
		}
		got, err := buf.ReadBytes(n)
		if err != nil {
			return NeedMore[*buffer.Buffer]()
		}
		return Consumed(got)
	})
}

// ReadShort reads a big-endian int16.
func (s *InputStream) ReadShort() *future.Future[int16] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[int16] {
		v, err := buf.ReadShort()
		if err != nil {
			return NeedMore[int16]()
		}
		return Consumed(v)
	})
}

// ReadInt reads a big-endian int32.
func (s *InputStream) ReadInt() *future.Future[int32] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[int32] {
		v, err := buf.ReadInt()
		if err != nil {
			return NeedMore[int32]()
		}
		return Consumed(v)
	})
}

// ReadLong reads a big-endian int64.
func (s *InputStream) ReadLong() *future.Future[int64] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[int64] {
		v, err := buf.ReadLong()
		if err != nil {
			return NeedMore[int64]()
		}
		return Consumed(v)
	})
}

// ReadFloat reads a big-endian IEEE-754 float32.
func (s *InputStream) ReadFloat() *future.Future[float32] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[float32] {
		v, err := buf.ReadFloat()
		if err != nil {
			return NeedMore[float32]()
		}
		return Consumed(v)
	})
}

// ReadDouble reads a big-endian IEEE-754 float64.
func (s *InputStream) ReadDouble() *future.Future[float64] {
	return ReadWithConsumer(s, func(buf *buffer.Buffer) ConsumeDecision[float64] {
		v, err := buf.ReadDouble()
		if err != nil {
			return NeedMore[float64]()
		}
		return Consumed(v)
	})
}

// ReadWithConsumer is a free function (Go methods can't add their own type
// parameters) that queues a custom frame decoder against s. consume is
// invoked every time new bytes arrive, starting from the stream's current
// mark; returning NeedMore rewinds to that mark so no bytes are lost
// between calls.
func ReadWithConsumer[T any](s *InputStream, consume func(*buffer.Buffer) ConsumeDecision[T]) *future.Future[T] {
	out := future.New[T](s.cpu)

	op := &pendingRead{}
	op.attempt = func() bool {
		s.buf.MarkReaderIndex()
		decision := consume(s.buf)
		if !decision.done {
			s.buf.ResetReaderIndex()
			return false
		}
		s.cpu.untrackPending(out)
		out.SetValue(decision.value)
		return true
	}
	op.fail = func(err error) {
		s.cpu.untrackPending(out)
		out.SetFailure(err)
	}

	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		out.SetFailure(err)
		return out
	}
	if s.pending != nil {
		s.mu.Unlock()
		out.SetFailure(rterrors.Invariant("InputStream.Read", "a read is already pending on this stream"))
		return out
	}
	s.pending = op
	s.mu.Unlock()

	s.cpu.trackPending(out)
	s.cpu.Schedule(s.pump)
	return out
}

// onReadable is the selector dispatch handler: drain the socket into the
// accumulation buffer, then try to satisfy queued reads.
func (s *InputStream) onReadable(selector.Ready) {
	start := time.Now()
	totalRead := 0
	for {
		dst := s.buf.Reserve(DefaultReadBufferSize)
		n, err := unix.Read(s.fd, dst)
		if n > 0 {
			s.buf.Truncate(len(dst) - n)
			totalRead += n
			if n < len(dst) {
				break // short read: socket drained for now
			}
			continue
		}
		s.buf.Truncate(len(dst))
		if err == unix.EAGAIN {
			break
		}
		if n == 0 || err == nil {
			s.fail(endOfStreamError())
			return
		}
		s.fail(WrapError("InputStream.Read", err))
		return
	}
	latency := time.Since(start)
	if s.cpu.metrics != nil {
		s.cpu.metrics.RecordRead(uint64(totalRead), uint64(latency), true)
	}
	s.pump()
}

// pump tries to satisfy the single pending read with whatever is
// currently buffered, then compacts the buffer so long-lived connections
// don't grow it without bound.
func (s *InputStream) pump() {
	s.mu.Lock()
	op := s.pending
	s.mu.Unlock()

	if op != nil && op.attempt() {
		s.mu.Lock()
		s.pending = nil
		s.mu.Unlock()
	}
	s.buf.Compact()
}

func (s *InputStream) fail(err error) {
	s.mu.Lock()
	s.closed = true
	s.closeErr = err
	op := s.pending
	s.pending = nil
	s.mu.Unlock()

	if op != nil {
		op.fail(err)
	}
}

func endOfStreamError() error {
	return NewError("InputStream.Read", CodeEndOfStream, "peer closed the connection")
}

// Close fails every queued read with a closed-channel error. It does not
// close the underlying fd; Channel owns that.
func (s *InputStream) Close() {
	s.fail(Closed("InputStream.Read"))
}
