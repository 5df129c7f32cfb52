// Package buffer implements the reference-counted byte buffer the runtime
// treats as an external contract (§6): read/write cursors, big-endian
// primitive decoding, and explicit reference counting so a buffer handed
// from an InputStream to an application, or queued on an OutputStream, is
// released exactly once.
//
// No third-party reference-counted buffer library is present in this
// module's retrieval pack, so this is a small in-tree implementation built
// on stdlib sync.Pool and atomic, not a borrowed abstraction.
package buffer

import (
	"encoding/binary"
	"math"
	"sync"
	"sync/atomic"

	"github.com/corelace/corerun/internal/rterrors"
)

var pool = sync.Pool{
	New: func() any { return make([]byte, 0, 4096) },
}

// Buffer is a growable byte buffer with independent read and write
// cursors and a refcount. A freshly allocated Buffer starts with refcount
// 1; Retain increments it, Release decrements it and recycles the backing
// slice into a pool once it reaches zero.
type Buffer struct {
	buf    []byte
	reader int
	mark   int
	refs   atomic.Int32
}

// New returns an empty buffer with at least the given capacity, backed by
// a slice drawn from an internal pool.
func New(capacity int) *Buffer {
	b := &Buffer{}
	raw := pool.Get().([]byte)
	if cap(raw) < capacity {
		raw = make([]byte, 0, capacity)
	}
	b.buf = raw[:0]
	b.refs.Store(1)
	return b
}

// Wrap returns a buffer that takes ownership of an existing slice (its
// writer index starts at len(p)), useful for handing literal test data or
// already-assembled frames to an OutputStream.
func Wrap(p []byte) *Buffer {
	b := &Buffer{buf: p}
	b.refs.Store(1)
	return b
}

// Retain increments the refcount and returns the same buffer, for callers
// that need to keep a reference beyond the point another owner releases
// theirs.
func (b *Buffer) Retain() *Buffer {
	b.refs.Add(1)
	return b
}

// Release decrements the refcount. At zero, the backing slice is reset and
// returned to the pool; the Buffer value itself must not be used again.
func (b *Buffer) Release() {
	if b.refs.Add(-1) == 0 {
		pool.Put(b.buf[:0])
		b.buf = nil
	}
}

// RefCount returns the current reference count, chiefly for tests.
func (b *Buffer) RefCount() int32 { return b.refs.Load() }

// ReaderIndex returns the current read cursor.
func (b *Buffer) ReaderIndex() int { return b.reader }

// WriterIndex returns the current write cursor (== len(backing slice)).
func (b *Buffer) WriterIndex() int { return len(b.buf) }

// ReadableBytes returns how many unread bytes remain.
func (b *Buffer) ReadableBytes() int { return len(b.buf) - b.reader }

// MarkReaderIndex saves the current read cursor for a later ResetReaderIndex,
// the mechanism a frame consumer uses to "put back" bytes on CONTINUE.
func (b *Buffer) MarkReaderIndex() { b.mark = b.reader }

// ResetReaderIndex restores the read cursor to the last mark.
func (b *Buffer) ResetReaderIndex() { b.reader = b.mark }

// Bytes returns the unread portion of the buffer. The returned slice
// aliases the buffer's storage and is only valid until the next mutating
// call.
func (b *Buffer) Bytes() []byte { return b.buf[b.reader:] }

// ensureWritable grows the backing slice so at least n more bytes can be
// appended, preserving existing content.
func (b *Buffer) ensureWritable(n int) {
	if cap(b.buf)-len(b.buf) >= n {
		return
	}
	need := len(b.buf) + n
	grown := make([]byte, len(b.buf), need*2)
	copy(grown, b.buf)
	b.buf = grown
}

// WriteBytes appends p to the buffer, advancing the writer index.
func (b *Buffer) WriteBytes(p []byte) {
	b.ensureWritable(len(p))
	b.buf = append(b.buf, p...)
}

// Skip advances the reader index past n unread bytes without copying them.
func (b *Buffer) Skip(n int) {
	b.reader += n
}

// ReadBytes consumes and returns the next n unread bytes as a new
// standalone Buffer (refcount 1), leaving the remainder in place.
func (b *Buffer) ReadBytes(n int) (*Buffer, error) {
	if b.ReadableBytes() < n {
		return nil, rterrors.New("Buffer.ReadBytes", rterrors.CodeInvalidArgument, "not enough readable bytes")
	}
	out := New(n)
	out.WriteBytes(b.buf[b.reader : b.reader+n])
	b.reader += n
	return out, nil
}

// Reserve grows the writable region by n bytes without initializing them,
// returning the slice to fill (used by socket reads that write directly
// into the buffer's backing storage).
func (b *Buffer) Reserve(n int) []byte {
	b.ensureWritable(n)
	start := len(b.buf)
	b.buf = b.buf[:start+n]
	return b.buf[start : start+n]
}

// Truncate shrinks the writer index by n bytes, used to give back the
// unused tail of a Reserve call after a short read.
func (b *Buffer) Truncate(n int) {
	b.buf = b.buf[:len(b.buf)-n]
}

// Compact shifts any unread bytes to the front of the backing slice and
// resets the reader index (and mark) to zero, so a long-lived accumulation
// buffer doesn't grow without bound as it's drained.
func (b *Buffer) Compact() {
	if b.reader == 0 {
		return
	}
	n := copy(b.buf, b.buf[b.reader:])
	b.buf = b.buf[:n]
	b.reader = 0
	b.mark = 0
}

const (
	sizeShort  = 2
	sizeInt    = 4
	sizeLong   = 8
	sizeFloat  = 4
	sizeDouble = 8
)

func (b *Buffer) requireReadable(op string, n int) error {
	if b.ReadableBytes() < n {
		return rterrors.New(op, rterrors.CodeInvalidArgument, "not enough readable bytes")
	}
	return nil
}

// ReadShort decodes a big-endian int16 at the current reader index.
func (b *Buffer) ReadShort() (int16, error) {
	if err := b.requireReadable("Buffer.ReadShort", sizeShort); err != nil {
		return 0, err
	}
	v := int16(binary.BigEndian.Uint16(b.buf[b.reader:]))
	b.reader += sizeShort
	return v, nil
}

// ReadInt decodes a big-endian int32.
func (b *Buffer) ReadInt() (int32, error) {
	if err := b.requireReadable("Buffer.ReadInt", sizeInt); err != nil {
		return 0, err
	}
	v := int32(binary.BigEndian.Uint32(b.buf[b.reader:]))
	b.reader += sizeInt
	return v, nil
}

// ReadLong decodes a big-endian int64.
func (b *Buffer) ReadLong() (int64, error) {
	if err := b.requireReadable("Buffer.ReadLong", sizeLong); err != nil {
		return 0, err
	}
	v := int64(binary.BigEndian.Uint64(b.buf[b.reader:]))
	b.reader += sizeLong
	return v, nil
}

// ReadFloat decodes a big-endian IEEE-754 float32.
func (b *Buffer) ReadFloat() (float32, error) {
	bits, err := b.ReadInt()
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(uint32(bits)), nil
}

// ReadDouble decodes a big-endian IEEE-754 float64.
func (b *Buffer) ReadDouble() (float64, error) {
	bits, err := b.ReadLong()
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(uint64(bits)), nil
}

// WriteShort appends a big-endian int16.
func (b *Buffer) WriteShort(v int16) {
	var tmp [sizeShort]byte
	binary.BigEndian.PutUint16(tmp[:], uint16(v))
	b.WriteBytes(tmp[:])
}

// WriteInt appends a big-endian int32.
func (b *Buffer) WriteInt(v int32) {
	var tmp [sizeInt]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	b.WriteBytes(tmp[:])
}

// WriteLong appends a big-endian int64.
func (b *Buffer) WriteLong(v int64) {
	var tmp [sizeLong]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	b.WriteBytes(tmp[:])
}

// WriteFloat appends a big-endian IEEE-754 float32.
func (b *Buffer) WriteFloat(v float32) {
	b.WriteInt(int32(math.Float32bits(v)))
}

// WriteDouble appends a big-endian IEEE-754 float64.
func (b *Buffer) WriteDouble(v float64) {
	b.WriteLong(int64(math.Float64bits(v)))
}
