package corerun

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/buffer"
)

func TestOutputStreamWriteAndFlushDeliversBytes(t *testing.T) {
	c, err := NewCPU(30, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	wrote := make(chan int64, 1)
	c.Schedule(func() {
		buf := buffer.New(4)
		buf.WriteInt(99)
		ch.Out.WriteAndFlush(buf).AndThen(func(n int64) { wrote <- n })
	})

	select {
	case n := <-wrote:
		assert.Equal(t, int64(4), n, "future must resolve with the number of bytes written")
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}

	var raw [4]byte
	n, err := unix.Read(b, raw[:])
	require.NoError(t, err)
	require.Equal(t, 4, n)
	assert.Equal(t, []byte{0, 0, 0, 99}, raw[:])
}

func TestOutputStreamWriteOrderIsPreservedFIFO(t *testing.T) {
	c, err := NewCPU(31, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	done := make(chan struct{})
	c.Schedule(func() {
		ch.Out.WriteInt(1)
		ch.Out.WriteInt(2)
		ch.Out.WriteInt(3)
		ch.Out.Flush().AndThen(func(struct{}) { close(done) })
	})

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("writes never completed")
	}

	var raw [12]byte
	n, err := unix.Read(b, raw[:])
	require.NoError(t, err)
	require.Equal(t, 12, n)
	assert.Equal(t, []byte{0, 0, 0, 1, 0, 0, 0, 2, 0, 0, 0, 3}, raw[:])
}

func TestOutputStreamCloseFailsQueuedWritesAndReleasesBuffers(t *testing.T) {
	c, err := NewCPU(32, testLogger(), NewMetrics())
	require.NoError(t, err)

	out := NewOutputStream(c, -1) // fd is never used: we close before any drain runs

	buf := buffer.New(4)
	buf.WriteInt(1)

	// c is never Run nor marked bound, so AssertAffinity is a no-op and
	// this future can be resolved/observed directly from the test goroutine.
	f := out.WriteAndFlush(buf)

	failed := make(chan error, 1)
	f.Check(func(err error) { failed <- err })

	out.Close()

	select {
	case err := <-failed:
		assert.True(t, IsCode(err, CodeClosed))
	case <-time.After(time.Second):
		t.Fatal("Close never failed the queued write")
	}
	assert.Equal(t, int32(0), buf.RefCount(), "buffer must be released when the write is failed")
}

func TestOutputStreamHasPendingReflectsQueueState(t *testing.T) {
	c, err := NewCPU(33, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)
	_ = b

	assert.False(t, ch.Out.HasPending())

	done := make(chan struct{})
	c.Schedule(func() {
		ch.Out.WriteInt(1)
		ch.Out.Flush().AndThen(func(struct{}) { close(done) })
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}

	assert.False(t, ch.Out.HasPending())
}

// TestOutputStreamFlushWaitsForQueuedWrites confirms Flush's barrier
// semantics: it must not resolve until every write enqueued ahead of it
// has actually drained to the fd.
func TestOutputStreamFlushWaitsForQueuedWrites(t *testing.T) {
	c, err := NewCPU(34, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	flushed := make(chan struct{})
	c.Schedule(func() {
		ch.Out.WriteInt(11)
		ch.Out.WriteInt(22)
		ch.Out.Flush().AndThen(func(struct{}) { close(flushed) })
	})

	select {
	case <-flushed:
	case <-time.After(time.Second):
		t.Fatal("flush never completed")
	}

	var raw [8]byte
	n, err := unix.Read(b, raw[:])
	require.NoError(t, err)
	require.Equal(t, 8, n)
	assert.Equal(t, []byte{0, 0, 0, 11, 0, 0, 0, 22}, raw[:])
}

// TestOutputStreamTransferFromHonorsOffsetAndResolvesByteCount exercises
// the sendfile-backed zero-copy path: TransferFrom must start reading at
// the given offset (not the source fd's current file position) and
// resolve its future with the number of bytes actually sent.
func TestOutputStreamTransferFromHonorsOffsetAndResolvesByteCount(t *testing.T) {
	c, err := NewCPU(35, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	f, err := os.CreateTemp(t.TempDir(), "transferfrom")
	require.NoError(t, err)
	defer f.Close()
	content := []byte("HEADERpayload-bytes")
	_, err = f.Write(content)
	require.NoError(t, err)

	srcFD := int(f.Fd())
	const headerLen = 6 // len("HEADER")
	payload := content[headerLen:]

	sent := make(chan int64, 1)
	c.Schedule(func() {
		ch.Out.TransferFrom(srcFD, int64(headerLen), int64(len(payload))).AndThen(func(n int64) {
			sent <- n
		})
	})

	select {
	case n := <-sent:
		assert.Equal(t, int64(len(payload)), n)
	case <-time.After(time.Second):
		t.Fatal("transfer never completed")
	}

	raw := make([]byte, len(payload))
	n, err := unix.Read(b, raw)
	require.NoError(t, err)
	require.Equal(t, len(payload), n)
	assert.Equal(t, payload, raw)
}
