package corerun

import (
	"golang.org/x/sys/unix"

	"github.com/corelace/corerun/internal/rterrors"
)

// initWake creates the self-pipe used to interrupt a blocked selector
// Poll when Schedule or Halt is called from another OS thread.
func (c *CPU) initWake() error {
	fds := make([]int, 2)
	if err := unix.Pipe2(fds, unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		return rterrors.Wrap("CPU.initWake", err)
	}
	c.wakeR, c.wakeW = fds[0], fds[1]
	return nil
}

// wake writes a single byte to the wake pipe if it isn't already pending,
// tolerating EAGAIN when the pipe buffer already holds an unread byte.
func (c *CPU) wake() {
	var b [1]byte
	_, err := unix.Write(c.wakeW, b[:])
	if err != nil && err != unix.EAGAIN {
		c.log.Warnf("cpu %d: wake pipe write: %v", c.id, err)
	}
}

// drainWake empties the wake pipe after a poll that returned because of it.
func (c *CPU) drainWake() {
	buf := make([]byte, 64)
	for {
		n, err := unix.Read(c.wakeR, buf)
		if n <= 0 || err != nil {
			return
		}
	}
}
