package corerun

import "sync"

// FakeOwner is a synchronous future.Owner for unit tests that need a
// Future without running a full CPU event loop: Schedule runs fn inline
// instead of queuing it, and AssertAffinity always succeeds. It also
// tracks call counts so tests can assert on scheduling behavior.
type FakeOwner struct {
	id int

	mu            sync.Mutex
	scheduleCalls int
}

// NewFakeOwner creates a FakeOwner reporting the given CPU id.
func NewFakeOwner(id int) *FakeOwner {
	return &FakeOwner{id: id}
}

// ID implements future.Owner.
func (f *FakeOwner) ID() int { return f.id }

// AssertAffinity implements future.Owner and never fails: a FakeOwner has
// no real owning thread to check against.
func (f *FakeOwner) AssertAffinity(string) error { return nil }

// Schedule implements future.Owner by running fn immediately on the
// calling goroutine.
func (f *FakeOwner) Schedule(fn func()) {
	f.mu.Lock()
	f.scheduleCalls++
	f.mu.Unlock()
	fn()
}

// ScheduleCalls returns how many times Schedule has been invoked.
func (f *FakeOwner) ScheduleCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.scheduleCalls
}

// RecordingObserver is an Observer that records every call for assertion
// in tests instead of forwarding into a Metrics.
type RecordingObserver struct {
	mu sync.Mutex

	reads       int
	writes      int
	tasks       int
	timersFired int
}

// NewRecordingObserver creates an empty RecordingObserver.
func NewRecordingObserver() *RecordingObserver {
	return &RecordingObserver{}
}

func (r *RecordingObserver) ObserveRead(uint64, uint64, bool) {
	r.mu.Lock()
	r.reads++
	r.mu.Unlock()
}

func (r *RecordingObserver) ObserveWrite(uint64, uint64, bool) {
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
}

func (r *RecordingObserver) ObserveTask() {
	r.mu.Lock()
	r.tasks++
	r.mu.Unlock()
}

func (r *RecordingObserver) ObserveTimerFired() {
	r.mu.Lock()
	r.timersFired++
	r.mu.Unlock()
}

// Counts returns the number of times each Observe* method has been called.
func (r *RecordingObserver) Counts() map[string]int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return map[string]int{
		"reads":       r.reads,
		"writes":      r.writes,
		"tasks":       r.tasks,
		"timersFired": r.timersFired,
	}
}

var (
	_ Observer = (*RecordingObserver)(nil)
)
