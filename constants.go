package corerun

// Re-exported tuning defaults for the public API, so callers configuring a
// CPUSet don't need to import internal packages.
const (
	// DefaultReadBufferSize is the initial capacity handed to buffer.New
	// for each InputStream read.
	DefaultReadBufferSize = 64 * 1024

	// DefaultMaxTasksPerTick mirrors the CPU event loop's per-tick task
	// batch bound.
	DefaultMaxTasksPerTick = maxTasksPerTick

	// DefaultMaxPollTimeout mirrors the CPU event loop's longest blocking
	// Poll call when no timers are armed.
	DefaultMaxPollTimeout = maxPollTimeout

	// DefaultListenBacklog is the backlog every Listen call passes to
	// listen(2); Config has no setting for it.
	DefaultListenBacklog = 128
)
