// Package selector wraps OS-level readiness notification behind the
// level-triggered interface the runtime's event loop polls each tick:
// register a socket, toggle its interest set, and poll for ready keys.
package selector

import "time"

// Interest is a bitmask of the readiness conditions a Key is registered
// for.
type Interest uint32

const (
	Read Interest = 1 << iota
	Write
)

// Has reports whether i includes every bit in other.
func (i Interest) Has(other Interest) bool { return i&other == other }

// Key identifies one registered file descriptor. It is returned by
// Register and passed back into SetInterest; callers should treat it as
// opaque.
type Key struct {
	FD       int
	interest Interest
}

// Interest returns the key's last-set interest mask.
func (k *Key) Interest() Interest { return k.interest }

// Ready reports one fd's readiness state for a single Poll call.
type Ready struct {
	Key      *Key
	Readable bool
	Writable bool
	Error    bool // the socket reported an error condition (e.g. EPOLLERR)
	HangUp   bool // the peer closed its side (EPOLLHUP/EPOLLRDHUP)
}

// Selector is the non-blocking readiness source a CPU's loop polls each
// tick. Implementations must be level-triggered: a fd that is still
// readable must be reported ready again on the next Poll call until the
// data is actually drained.
type Selector interface {
	// Register starts watching fd for the given interest and returns a Key
	// used for later SetInterest calls. Must be called from the owning
	// CPU's loop goroutine.
	Register(fd int, interest Interest) (*Key, error)

	// SetInterest changes which readiness conditions are reported for key.
	// Implementations should no-op (and skip the underlying syscall) when
	// the requested interest already matches the key's current interest,
	// per the hysteresis rule in the runtime's design notes.
	SetInterest(key *Key, interest Interest) error

	// Deregister stops watching a key's fd. It does not close the fd.
	Deregister(key *Key) error

	// Poll blocks for up to timeout (0 means return immediately, a
	// negative timeout means block until at least one key is ready) and
	// returns the keys that became ready.
	Poll(timeout time.Duration) ([]Ready, error)

	Close() error
}
