package corerun

import (
	"runtime"
	"sync"
	"time"

	"github.com/corelace/corerun/affinity"
	"github.com/corelace/corerun/future"
	"github.com/corelace/corerun/internal/logging"
	"github.com/corelace/corerun/internal/rterrors"
	"github.com/corelace/corerun/internal/selector"
	"github.com/corelace/corerun/internal/timerwheel"
	"github.com/corelace/corerun/promexport"
)

// maxTasksPerTick bounds how many locally-queued tasks a CPU drains before
// going back to poll the selector, so a task that keeps rescheduling itself
// (Repeat, Loop) cannot starve I/O dispatch on a busy CPU.
const maxTasksPerTick = 256

// maxPollTimeout is the longest a CPU will block in Poll when it has no
// armed timers; cross-CPU Schedule calls still wake it immediately via the
// wake pipe, this just bounds how stale a halt check can get.
const maxPollTimeout = time.Second

// CPU is one shard of the shared-nothing runtime: a single OS thread
// pinned to one goroutine, running a cooperative task queue, a timer
// wheel, and a readiness selector. No state owned by a CPU is ever
// touched by another OS thread; cross-CPU communication happens only
// through Schedule.
type CPU struct {
	id     int
	pack   *Pack
	log    *logging.Logger
	metrics *Metrics

	sel   selector.Selector
	wheel *timerwheel.Wheel

	wakeR, wakeW int // self-pipe fds used to interrupt a blocked Poll

	mu       sync.Mutex
	inbox    []func() // tasks scheduled from other OS threads
	local    []func() // tasks scheduled on this CPU's own thread, or moved from inbox
	handlers map[int]func(selector.Ready)

	threadID affinity.ThreadID
	bound    bool

	halted      chan struct{}
	outstanding map[future.Cancelable]struct{}

	maxTasksPerTick int
	maxPollTimeout  time.Duration
}

// CPUOption overrides a per-CPU tuning default at construction time, so a
// Config's poll-loop knobs can reach an individual CPU without widening
// NewCPU's required argument list.
type CPUOption func(*CPU)

// WithMaxTasksPerTick overrides how many locally-queued tasks this CPU
// drains per tick before going back to poll the selector.
func WithMaxTasksPerTick(n int) CPUOption {
	return func(c *CPU) { c.maxTasksPerTick = n }
}

// WithMaxPollTimeout overrides the longest this CPU will block in Poll
// when it has no armed timers.
func WithMaxPollTimeout(d time.Duration) CPUOption {
	return func(c *CPU) { c.maxPollTimeout = d }
}

// NewCPU constructs a CPU with its own selector and timer wheel. It is not
// running until Run is called; Run must be invoked from the OS thread
// that will own this CPU for its lifetime.
func NewCPU(id int, log *logging.Logger, metrics *Metrics, opts ...CPUOption) (*CPU, error) {
	sel, err := selector.New()
	if err != nil {
		return nil, rterrors.Wrap("CPU.New", err)
	}
	c := &CPU{
		id:              id,
		log:             log,
		metrics:         metrics,
		sel:             sel,
		wheel:           timerwheel.New(),
		handlers:        make(map[int]func(selector.Ready)),
		halted:          make(chan struct{}),
		outstanding:     make(map[future.Cancelable]struct{}),
		maxTasksPerTick: maxTasksPerTick,
		maxPollTimeout:  maxPollTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := c.initWake(); err != nil {
		sel.Close()
		return nil, err
	}
	return c, nil
}

// ID returns this CPU's shard index, satisfying future.Owner.
func (c *CPU) ID() int { return c.id }

// AssertAffinity returns a structured invariant error if the calling
// OS thread is not this CPU's owning thread (Future panics with it). A CPU that has not started
// Run yet has no owning thread, so construction-time future resolution
// (e.g. future.Resolved in tests) is always permitted.
func (c *CPU) AssertAffinity(op string) error {
	if !c.bound {
		return nil
	}
	if affinity.Current() != c.threadID {
		return rterrors.Invariant(op, "accessed CPU state from a non-owning OS thread").OnCPU(c.id)
	}
	return nil
}

// Schedule queues fn to run on this CPU's loop. Safe to call from any OS
// thread: callers running on this CPU append directly to the local queue;
// callers elsewhere append to the inbox and wake a blocked Poll.
func (c *CPU) Schedule(fn func()) {
	if c.bound && affinity.Current() == c.threadID {
		c.mu.Lock()
		c.local = append(c.local, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Lock()
	c.inbox = append(c.inbox, fn)
	c.mu.Unlock()
	c.wake()
}

var _ future.Owner = (*CPU)(nil)

// Run pins the calling goroutine's OS thread to this CPU and runs the
// event loop until Halt is called. It does not return until then.
func (c *CPU) Run() {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	c.threadID = affinity.Current()
	c.bound = true

	if _, err := c.sel.Register(c.wakeR, selector.Read); err != nil {
		c.log.Errorf("cpu %d: register wake pipe: %v", c.id, err)
		return
	}
	c.handlers[c.wakeR] = func(selector.Ready) { c.drainWake() }

	for {
		select {
		case <-c.halted:
			c.failOutstanding()
			c.sel.Close()
			return
		default:
		}
		c.tick()
	}
}

// trackPending registers f so Halt fails it with a shutdown error if this
// CPU stops before f resolves on its own. Must be called from this CPU's
// own thread, like every other mutation of an owned Future.
func (c *CPU) trackPending(f future.Cancelable) {
	c.outstanding[f] = struct{}{}
}

// untrackPending removes f once it has resolved through its normal path,
// so a long-lived CPU doesn't accumulate one registry entry per future
// it has ever created.
func (c *CPU) untrackPending(f future.Cancelable) {
	delete(c.outstanding, f)
}

// failOutstanding fails every future still registered as pending with a
// shutdown error, per the requirement that no caller is left waiting
// forever on a future whose owning CPU has stopped running.
func (c *CPU) failOutstanding() {
	err := rterrors.Shutdown("CPU.Halt")
	for f := range c.outstanding {
		f.CancelPending(err)
	}
	c.outstanding = make(map[future.Cancelable]struct{})
}

// tick runs exactly one iteration of the loop: drain cross-CPU work,
// run a bounded batch of local tasks, expire due timers, then poll for
// I/O readiness for whatever time remains before the next deadline.
func (c *CPU) tick() {
	c.drainInbox()

	ran := 0
	for ran < c.maxTasksPerTick {
		fn := c.popLocal()
		if fn == nil {
			break
		}
		fn()
		ran++
		if c.metrics != nil {
			c.metrics.RecordTask()
		}
	}

	now := time.Now()
	for _, cb := range c.wheel.Expire(now) {
		cb()
		if c.metrics != nil {
			c.metrics.RecordTimerFired()
		}
	}

	timeout := c.pollTimeout()
	ready, err := c.sel.Poll(timeout)
	if err != nil {
		c.log.Warnf("cpu %d: selector poll: %v", c.id, err)
		return
	}
	for _, r := range ready {
		if h, ok := c.handlers[r.Key.FD]; ok {
			h(r)
		}
	}
}

func (c *CPU) pollTimeout() time.Duration {
	c.mu.Lock()
	hasWork := len(c.local) > 0 || len(c.inbox) > 0
	c.mu.Unlock()
	if hasWork {
		return 0
	}
	if deadline, ok := c.wheel.NextDeadline(); ok {
		d := time.Until(deadline)
		if d < 0 {
			return 0
		}
		if d > c.maxPollTimeout {
			return c.maxPollTimeout
		}
		return d
	}
	return c.maxPollTimeout
}

func (c *CPU) drainInbox() {
	c.mu.Lock()
	if len(c.inbox) > 0 {
		c.local = append(c.local, c.inbox...)
		c.inbox = c.inbox[:0]
	}
	c.mu.Unlock()
}

func (c *CPU) popLocal() func() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.local) == 0 {
		return nil
	}
	fn := c.local[0]
	c.local = c.local[1:]
	return fn
}

// Sleep returns a future that resolves after d elapses, armed on this
// CPU's timer wheel.
func (c *CPU) Sleep(d time.Duration) *future.Future[struct{}] {
	f := future.New[struct{}](c)
	c.trackPending(f)
	c.wheel.Arm(time.Now().Add(d), func() {
		c.untrackPending(f)
		f.SetValue(struct{}{})
	})
	return f
}

// registerHandler associates a readiness handler with an fd already known
// to this CPU's selector (used by Channel/InputStream/OutputStream).
func (c *CPU) registerHandler(fd int, interest selector.Interest, h func(selector.Ready)) (*selector.Key, error) {
	key, err := c.sel.Register(fd, interest)
	if err != nil {
		return nil, rterrors.Wrap("CPU.registerHandler", err)
	}
	c.handlers[fd] = h
	return key, nil
}

func (c *CPU) deregisterHandler(key *selector.Key) {
	delete(c.handlers, key.FD)
	c.sel.Deregister(key)
}

// Halt stops the event loop after the current tick. Safe to call from any
// OS thread.
func (c *CPU) Halt() {
	select {
	case <-c.halted:
	default:
		close(c.halted)
	}
	c.wake()
}

// Selector exposes the underlying selector for package-internal callers
// (Channel, InputStream, OutputStream) that live in this same package.
func (c *CPU) Selector() selector.Selector { return c.sel }

// Metrics returns the CPU's shared metrics sink.
func (c *CPU) Metrics() *Metrics { return c.metrics }

// Logger returns the CPU's logger.
func (c *CPU) Logger() *logging.Logger { return c.log }

// MetricsSnapshot satisfies promexport.Snapshotter, so promexport never
// has to import this package: it returns the subset of fields that
// adapter needs, shaped to its own struct.
func (c *CPU) MetricsSnapshot() promexport.MetricsSnapshot {
	snap := c.metrics.Snapshot()
	return promexport.MetricsSnapshot{
		ReadOps:      snap.ReadOps,
		WriteOps:     snap.WriteOps,
		ReadBytes:    snap.ReadBytes,
		WriteBytes:   snap.WriteBytes,
		TasksRun:     snap.TasksRun,
		TimersFired:  snap.TimersFired,
		AvgLatencyNs: snap.AvgLatencyNs,
	}
}
