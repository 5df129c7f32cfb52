package corerun

import (
	"sync"

	"github.com/google/uuid"
	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/internal/selector"
)

// Channel is one accepted (or dialed) non-blocking connection: an
// InputStream and an OutputStream sharing a single selector registration
// on one CPU. A Channel is owned by exactly one CPU for its whole
// lifetime; it is never migrated.
type Channel struct {
	cpu   *CPU
	fd    int
	TraceID string

	In  *InputStream
	Out *OutputStream

	key *selector.Key

	closeOnce sync.Once
}

// newChannel wraps an already-accepted, already-non-blocking fd and
// registers it with cpu's selector for read readiness (write interest is
// added lazily the first time a write backs up).
func newChannel(cpu *CPU, fd int) (*Channel, error) {
	ch := &Channel{
		cpu:     cpu,
		fd:      fd,
		TraceID: uuid.New().String(),
	}
	ch.In = NewInputStream(cpu, fd)
	ch.Out = NewOutputStream(cpu, fd)
	ch.Out.onBacklogChange = ch.onBacklogChange
	ch.Out.onError = func(error) { ch.Close() }

	key, err := cpu.registerHandler(fd, selector.Read, ch.onReady)
	if err != nil {
		return nil, err
	}
	ch.key = key
	return ch, nil
}

// onReady dispatches a single readiness notification to whichever half
// (or both) of the channel it applies to.
func (ch *Channel) onReady(r selector.Ready) {
	if r.Error {
		ch.Close()
		return
	}
	// A peer hang-up is read through first, so a pending read sees the
	// remaining bytes or end-of-stream before the channel closes.
	if r.Readable || r.HangUp {
		ch.In.onReadable(r)
	}
	if r.HangUp {
		ch.Close()
		return
	}
	if r.Writable {
		ch.Out.onWritable(r)
	}
}

// onBacklogChange is called by the OutputStream whenever its pending
// queue transitions between empty and non-empty, so the channel's
// selector interest tracks exactly what it needs (read always, write only
// while backlogged) per the hysteresis design note.
func (ch *Channel) onBacklogChange(hasPending bool) {
	interest := selector.Read
	if hasPending {
		interest |= selector.Write
	}
	ch.cpu.sel.SetInterest(ch.key, interest)
}

// Close tears down both halves of the channel, fails every pending
// future with a closed error, deregisters from the selector, and closes
// the fd. Safe to call more than once.
func (ch *Channel) Close() error {
	var closeErr error
	ch.closeOnce.Do(func() {
		ch.cpu.deregisterHandler(ch.key)
		ch.In.Close()
		ch.Out.Close()
		closeErr = unix.Close(ch.fd)
	})
	return closeErr
}

// FD returns the underlying file descriptor, chiefly for tests and
// diagnostics; application code should prefer In/Out.
func (ch *Channel) FD() int { return ch.fd }
