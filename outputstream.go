package corerun

import (
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/buffer"
	"github.com/corelace/corerun/future"
	"github.com/corelace/corerun/internal/selector"
)

// writeTask is one queued buffer plus the callbacks fired once every byte
// of it has been written (onDone, with the byte count) or once the stream
// fails before it drains (onFail). A zero-length buffer is valid: it is
// how Flush enqueues a pure barrier with nothing of its own to write.
type writeTask struct {
	buf    *buffer.Buffer
	want   int64
	onDone func(written int64)
	onFail func(error)
}

// OutputStream is the write half of a Channel: a FIFO of buffers waiting
// to be written to a non-blocking socket fd, drained whenever the fd is
// writable or a new buffer is queued.
type OutputStream struct {
	cpu *CPU
	fd  int

	mu       sync.Mutex
	queue    []*writeTask
	closed   bool
	closeErr error

	onBacklogChange func(hasPending bool)
	onError         func(error)
}

// NewOutputStream wraps fd (already non-blocking) for writing on cpu.
func NewOutputStream(cpu *CPU, fd int) *OutputStream {
	return &OutputStream{cpu: cpu, fd: fd}
}

// enqueue appends a task to the write queue, failing it immediately if the
// stream is already closed, and otherwise waking the drain loop.
func (s *OutputStream) enqueue(task *writeTask) {
	s.mu.Lock()
	if s.closed {
		err := s.closeErr
		s.mu.Unlock()
		task.buf.Release()
		task.onFail(err)
		return
	}
	wasEmpty := len(s.queue) == 0
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	if wasEmpty && s.onBacklogChange != nil {
		s.onBacklogChange(true)
	}
	s.cpu.Schedule(s.drain)
}

// WriteAndFlush queues buf for writing and returns a future that resolves
// with the number of bytes written once buf has fully drained (or fails
// if the stream closes first). Ownership of buf passes to the
// OutputStream; it is released once written or once the stream fails.
func (s *OutputStream) WriteAndFlush(buf *buffer.Buffer) *future.Future[int64] {
	f := future.New[int64](s.cpu)
	want := int64(buf.ReadableBytes())
	s.cpu.trackPending(f)
	s.enqueue(&writeTask{
		buf:  buf,
		want: want,
		onDone: func(written int64) {
			s.cpu.untrackPending(f)
			f.SetValue(written)
		},
		onFail: func(err error) {
			s.cpu.untrackPending(f)
			f.SetFailure(err)
		},
	})
	return f
}

// Flush enqueues a zero-length barrier task behind whatever is already
// queued, returning a future that resolves once every write queued before
// this call has fully drained. Unlike WriteAndFlush it has no bytes of
// its own to contribute to the stream.
func (s *OutputStream) Flush() *future.Future[struct{}] {
	f := future.New[struct{}](s.cpu)
	s.cpu.trackPending(f)
	s.enqueue(&writeTask{
		buf: buffer.New(0),
		onDone: func(int64) {
			s.cpu.untrackPending(f)
			f.SetValue(struct{}{})
		},
		onFail: func(err error) {
			s.cpu.untrackPending(f)
			f.SetFailure(err)
		},
	})
	return f
}

// WriteShort queues a single big-endian int16 for writing, fire-and-forget.
// Callers that need to know once it (and everything queued with it) has
// landed should use WriteAndFlush or Flush directly.
func (s *OutputStream) WriteShort(v int16) {
	b := buffer.New(2)
	b.WriteShort(v)
	s.WriteAndFlush(b)
}

// WriteInt queues a single big-endian int32 for writing, fire-and-forget.
func (s *OutputStream) WriteInt(v int32) {
	b := buffer.New(4)
	b.WriteInt(v)
	s.WriteAndFlush(b)
}

// WriteLong queues a single big-endian int64 for writing, fire-and-forget.
func (s *OutputStream) WriteLong(v int64) {
	b := buffer.New(8)
	b.WriteLong(v)
	s.WriteAndFlush(b)
}

// WriteFloat queues a single big-endian float32 for writing, fire-and-forget.
func (s *OutputStream) WriteFloat(v float32) {
	b := buffer.New(4)
	b.WriteFloat(v)
	s.WriteAndFlush(b)
}

// WriteDouble queues a single big-endian float64 for writing, fire-and-forget.
func (s *OutputStream) WriteDouble(v float64) {
	b := buffer.New(8)
	b.WriteDouble(v)
	s.WriteAndFlush(b)
}

// WriteBytes queues a raw byte slice for writing, fire-and-forget.
func (s *OutputStream) WriteBytes(p []byte) {
	b := buffer.New(len(p))
	b.WriteBytes(p)
	s.WriteAndFlush(b)
}

// TransferFrom streams up to n bytes directly from srcFD, starting at
// offset, into this stream's socket via sendfile(2), bypassing the
// accumulation buffer entirely. offset is advanced by the kernel as bytes
// are sent and never touches srcFD's own file position, so the same fd
// can be transferred from concurrently at different offsets. The transfer
// does not go through the write queue: it starts on the CPU's next task
// turn whether or not buffered writes are still queued on this stream, so
// its bytes are not ordered after them. It reschedules itself on EAGAIN
// until n bytes are sent or sendfile reports no more data; the returned
// future resolves with the total bytes sent.
func (s *OutputStream) TransferFrom(srcFD int, offset, n int64) *future.Future[int64] {
	f := future.New[int64](s.cpu)
	s.cpu.trackPending(f)
	off := offset
	var sent int64
	var step func()
	step = func() {
		remaining := n - sent
		if remaining <= 0 {
			s.cpu.untrackPending(f)
			f.SetValue(sent)
			return
		}
		written, err := unix.Sendfile(s.fd, srcFD, &off, int(remaining))
		if written > 0 {
			sent += int64(written)
		}
		if err == unix.EAGAIN {
			s.cpu.Schedule(step)
			return
		}
		if err != nil {
			s.cpu.untrackPending(f)
			f.SetFailure(WrapError("OutputStream.TransferFrom", err))
			return
		}
		if written == 0 {
			s.cpu.untrackPending(f)
			f.SetValue(sent)
			return
		}
		s.cpu.Schedule(step)
	}
	s.cpu.Schedule(step)
	return f
}

// onWritable is the selector dispatch handler for write readiness.
func (s *OutputStream) onWritable(selector.Ready) {
	s.drain()
}

// drain writes as much of the queue as the socket currently accepts,
// resolving each task's future as it finishes and stopping at the first
// short write (EAGAIN) or error.
func (s *OutputStream) drain() {
	start := time.Now()
	var written uint64
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			break
		}
		task := s.queue[0]
		s.mu.Unlock()

		if task.buf.ReadableBytes() > 0 {
			n, err := unix.Write(s.fd, task.buf.Bytes())
			if n > 0 {
				written += uint64(n)
				task.buf.Skip(n)
			}
			if task.buf.ReadableBytes() > 0 {
				if err == unix.EAGAIN {
					break
				}
				if err != nil {
					s.fail(WrapError("OutputStream.Write", err))
					break
				}
			}
		}
		if task.buf.ReadableBytes() == 0 {
			task.buf.Release()
			task.onDone(task.want)
			s.mu.Lock()
			s.queue = s.queue[1:]
			empty := len(s.queue) == 0
			s.mu.Unlock()
			if empty {
				if s.onBacklogChange != nil {
					s.onBacklogChange(false)
				}
				break
			}
			continue
		}
	}
	if s.cpu.metrics != nil && written > 0 {
		s.cpu.metrics.RecordWrite(written, uint64(time.Since(start)), true)
	}
}

func (s *OutputStream) fail(err error) {
	s.mu.Lock()
	s.closed = true
	s.closeErr = err
	pending := s.queue
	s.queue = nil
	s.mu.Unlock()

	for _, task := range pending {
		task.buf.Release()
		task.onFail(err)
	}
	// onError exists so a write failure detected mid-drain (no fire-and-
	// forget caller is around to see it) still tears down the channel; a
	// voluntary Close (CodeClosed with no errno) shouldn't re-enter that
	// teardown. EPIPE and ECONNRESET also map to CodeClosed but carry an
	// errno, so they still reach onError.
	voluntary := false
	if re, ok := err.(*Error); ok {
		voluntary = re.Code == CodeClosed && re.Errno == 0
	}
	if s.onError != nil && !voluntary {
		s.onError(err)
	}
}

// Close fails every queued write with a closed-stream error. It does not
// close the underlying fd; Channel owns that.
func (s *OutputStream) Close() {
	s.fail(Closed("OutputStream.Write"))
}

// HasPending reports whether any write is currently queued.
func (s *OutputStream) HasPending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue) > 0
}
