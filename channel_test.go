package corerun

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/internal/selector"
)

// socketpairFDs returns two connected, non-blocking AF_UNIX SOCK_STREAM
// fds, standing in for an accepted TCP connection without needing a real
// listener for tests that only care about the Channel/InputStream/
// OutputStream half of the picture.
func socketpairFDs(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestChannelRoundTripsAFramedInt(t *testing.T) {
	c, err := NewCPU(10, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)

	var ch *Channel
	created := make(chan struct{})
	c.Schedule(func() {
		ch, err = newChannel(c, a)
		require.NoError(t, err)
		close(created)
	})
	<-created

	_, err = unix.Write(b, []byte{0, 0, 0, 42})
	require.NoError(t, err)

	got := make(chan int32, 1)
	c.Schedule(func() {
		ch.In.ReadInt().AndThen(func(v int32) { got <- v })
	})

	select {
	case v := <-got:
		assert.Equal(t, int32(42), v)
	case <-time.After(time.Second):
		t.Fatal("read never completed")
	}
}

func TestChannelCloseFailsPendingReadsAndClosesFD(t *testing.T) {
	c, err := NewCPU(11, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, _ := socketpairFDs(t)

	var ch *Channel
	created := make(chan struct{})
	c.Schedule(func() {
		ch, err = newChannel(c, a)
		require.NoError(t, err)
		close(created)
	})
	<-created

	failed := make(chan error, 1)
	c.Schedule(func() {
		ch.In.ReadInt().Check(func(err error) { failed <- err })
	})

	c.Schedule(func() { ch.Close() })

	select {
	case err := <-failed:
		assert.True(t, IsCode(err, CodeClosed))
	case <-time.After(time.Second):
		t.Fatal("pending read never failed on close")
	}
}

func TestChannelBacklogHysteresisReturnsToReadOnlyAfterDrain(t *testing.T) {
	c, err := NewCPU(12, testLogger(), NewMetrics())
	require.NoError(t, err)
	runCPUInBackground(t, c)

	a, b := socketpairFDs(t)

	var ch *Channel
	created := make(chan struct{})
	c.Schedule(func() {
		ch, err = newChannel(c, a)
		require.NoError(t, err)
		close(created)
	})
	<-created

	var initialInterest selector.Interest
	checked := make(chan struct{})
	c.Schedule(func() {
		initialInterest = ch.key.Interest()
		close(checked)
	})
	<-checked
	assert.False(t, initialInterest.Has(selector.Write))

	wrote := make(chan struct{})
	c.Schedule(func() {
		ch.Out.WriteInt(7)
		ch.Out.Flush().AndThen(func(struct{}) { close(wrote) })
	})

	select {
	case <-wrote:
	case <-time.After(time.Second):
		t.Fatal("write never completed")
	}

	readBack := make(chan int32, 1)
	go func() {
		var buf [4]byte
		n, _ := unix.Read(b, buf[:])
		if n == 4 {
			readBack <- int32(buf[0])<<24 | int32(buf[1])<<16 | int32(buf[2])<<8 | int32(buf[3])
		}
	}()
	select {
	case v := <-readBack:
		assert.Equal(t, int32(7), v)
	case <-time.After(time.Second):
		t.Fatal("peer never observed the written bytes")
	}

	done := make(chan struct{})
	c.Schedule(func() {
		assert.False(t, ch.key.Interest().Has(selector.Write), "write interest should drop once the backlog drains")
		close(done)
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out checking post-drain interest")
	}
}
