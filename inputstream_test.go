package corerun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/buffer"
)

func newTestChannel(t *testing.T, c *CPU, fd int) *Channel {
	t.Helper()
	var ch *Channel
	var err error
	created := make(chan struct{})
	c.Schedule(func() {
		ch, err = newChannel(c, fd)
		close(created)
	})
	<-created
	require.NoError(t, err)
	return ch
}

func TestReadWithConsumerRewindsOnNeedMore(t *testing.T) {
	c, err := NewCPU(20, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	var attempts int
	result := make(chan string, 1)
	c.Schedule(func() {
		ReadWithConsumer(ch.In, func(buf *buffer.Buffer) ConsumeDecision[string] {
			attempts++
			if buf.ReadableBytes() < 5 {
				return NeedMore[string]()
			}
			got, _ := buf.ReadBytes(5)
			defer got.Release()
			return Consumed(string(got.Bytes()))
		}).AndThen(func(s string) { result <- s })
	})

	// Deliver the 5-byte frame one byte at a time to force several NeedMore
	// rounds before the consumer can finish.
	payload := []byte("hello")
	for _, b2 := range payload {
		_, err := unix.Write(b, []byte{b2})
		require.NoError(t, err)
		time.Sleep(5 * time.Millisecond)
	}

	select {
	case got := <-result:
		assert.Equal(t, "hello", got)
		assert.GreaterOrEqual(t, attempts, 2, "consumer should have been retried as bytes trickled in")
	case <-time.After(time.Second):
		t.Fatal("fragmented read never completed")
	}
}

func TestInputStreamReadIntResolvesOnceBytesArrive(t *testing.T) {
	c, err := NewCPU(21, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	got := make(chan int32, 1)
	c.Schedule(func() {
		ch.In.ReadInt().AndThen(func(v int32) { got <- v })
	})

	_, err = unix.Write(b, []byte{0, 0, 1, 0})
	require.NoError(t, err)

	select {
	case v := <-got:
		assert.Equal(t, int32(256), v)
	case <-time.After(time.Second):
		t.Fatal("ReadInt never resolved")
	}
}

func TestInputStreamEndOfStreamFailsPendingRead(t *testing.T) {
	c, err := NewCPU(22, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	failed := make(chan error, 1)
	c.Schedule(func() {
		ch.In.ReadInt().Check(func(err error) { failed <- err })
	})

	unix.Close(b)

	select {
	case err := <-failed:
		assert.True(t, IsCode(err, CodeEndOfStream))
	case <-time.After(time.Second):
		t.Fatal("EOF never propagated to pending read")
	}
}

func TestReadWithConsumerRejectsASecondConcurrentRead(t *testing.T) {
	c, err := NewCPU(24, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, _ := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	firstFailed := make(chan error, 1)
	secondFailed := make(chan error, 1)
	c.Schedule(func() {
		ch.In.ReadInt().Check(func(err error) { firstFailed <- err })
		ch.In.ReadInt().Check(func(err error) { secondFailed <- err })
	})

	select {
	case err := <-secondFailed:
		assert.True(t, IsCode(err, CodeInvariantViolation), "a second pending read must fail immediately, got %v", err)
	case <-time.After(time.Second):
		t.Fatal("second concurrent read was never rejected")
	}

	select {
	case <-firstFailed:
		t.Fatal("first read should still be pending, not failed")
	default:
	}
}

func TestInputStreamCloseFailsQueuedReadsWithClosedError(t *testing.T) {
	c, err := NewCPU(23, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, _ := socketpairFDs(t)
	ch := newTestChannel(t, c, a)

	failed := make(chan error, 1)
	c.Schedule(func() {
		ch.In.ReadInt().Check(func(err error) { failed <- err })
		ch.In.Close()
	})

	select {
	case err := <-failed:
		assert.True(t, IsCode(err, CodeClosed))
	case <-time.After(time.Second):
		t.Fatal("Close never failed the queued read")
	}
}
