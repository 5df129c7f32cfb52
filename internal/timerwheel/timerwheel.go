// Package timerwheel implements the per-CPU min-heap of deadline-ordered
// callbacks described by the runtime's timer source: a monotonic clock of
// at-least-millisecond resolution, with entries expired in deadline order
// as the owning CPU's loop observes the clock advancing past them.
package timerwheel

import (
	"container/heap"
	"time"
)

// Callback is invoked once a timer's deadline has passed.
type Callback func()

type entry struct {
	deadline time.Time
	cb       Callback
	index    int // heap index, maintained by container/heap
	canceled bool
}

// entryHeap is a container/heap.Interface over entries ordered by deadline.
// Deletion is not supported directly; a canceled entry is tombstoned and
// skipped when popped rather than removed from the heap directly.
type entryHeap []*entry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h entryHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index, h[j].index = i, j
}
func (h *entryHeap) Push(x any) {
	e := x.(*entry)
	e.index = len(*h)
	*h = append(*h, e)
}
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// Handle identifies a previously armed timer, for cancellation.
type Handle struct {
	e *entry
}

// Cancel tombstones the timer. A canceled timer is removed lazily the next
// time the wheel pops entries; it never invokes its callback.
func (h Handle) Cancel() {
	if h.e != nil {
		h.e.canceled = true
	}
}

// Wheel is a min-heap of pending timers. It is not safe for concurrent use;
// like every other per-CPU structure it is owned and driven exclusively by
// the CPU's loop goroutine.
type Wheel struct {
	h entryHeap
}

// New returns an empty timer wheel.
func New() *Wheel {
	return &Wheel{}
}

// Arm schedules cb to run at deadline. Re-arming inserts a new entry; it
// never mutates or replaces an earlier one.
func (w *Wheel) Arm(deadline time.Time, cb Callback) Handle {
	e := &entry{deadline: deadline, cb: cb}
	heap.Push(&w.h, e)
	return Handle{e: e}
}

// Len returns the number of still-armed (including canceled-but-not-yet-
// popped) entries.
func (w *Wheel) Len() int { return w.h.Len() }

// NextDeadline returns the deadline of the earliest live entry and true, or
// the zero time and false if the wheel is empty.
func (w *Wheel) NextDeadline() (time.Time, bool) {
	w.dropCanceled()
	if w.h.Len() == 0 {
		return time.Time{}, false
	}
	return w.h[0].deadline, true
}

// Expire pops and returns the callbacks of every entry whose deadline is
// at-or-before now, in deadline order. Canceled entries are discarded
// silently.
func (w *Wheel) Expire(now time.Time) []Callback {
	var due []Callback
	for w.h.Len() > 0 && !w.h[0].deadline.After(now) {
		e := heap.Pop(&w.h).(*entry)
		if !e.canceled {
			due = append(due, e.cb)
		}
	}
	return due
}

// dropCanceled removes canceled entries sitting at the root so
// NextDeadline reports the next real deadline rather than a tombstone's.
func (w *Wheel) dropCanceled() {
	for w.h.Len() > 0 && w.h[0].canceled {
		heap.Pop(&w.h)
	}
}
