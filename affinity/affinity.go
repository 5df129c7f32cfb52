// Package affinity identifies the OS thread the calling goroutine is
// running on, so that higher-level packages (future, and the CPU event
// loop in the root package) can assert single-owner invariants without a
// lock: a CPU's loop goroutine is pinned to one OS thread for its whole
// life via runtime.LockOSThread, and any mutation of that CPU's state from
// a different thread is a programming error.
package affinity

// ThreadID identifies an OS thread. Zero means "unknown" or "unpinned" —
// callers treat it as "no affinity check possible yet" rather than a real
// thread.
type ThreadID int64

// Current returns the OS thread id of the calling goroutine. On platforms
// without a cheap thread-id syscall it always returns 0, which disables
// affinity assertions rather than producing false positives.
func Current() ThreadID {
	return current()
}
