// Package future implements the single-consumer, single-producer
// continuation cell described by the runtime's execution model: a Future
// is bound to one owning CPU for its entire life, every state transition
// and continuation runs on that CPU, and no lock guards it.
package future

import (
	"github.com/corelace/corerun/internal/rterrors"
)

// Cancelable is implemented by every Future regardless of its value type,
// so an owner can fail whichever ones are still outstanding without
// needing to import the concrete T. CPU.Halt uses this to fail every
// future still pending when the event loop stops.
type Cancelable interface {
	// CancelPending fails the future with err if it is still Pending,
	// and reports whether it did so. A future that already reached a
	// terminal state is left untouched.
	CancelPending(err error) bool
}

// Owner is the minimal surface a Future needs from the CPU that owns it:
// an identity for diagnostics, a thread-affinity check so installing a
// continuation off the owning thread is caught rather than silently
// racing, and a way to schedule a continuation onto this CPU's task queue
// (used both for "continuation installed after resolution" and for
// cross-CPU delivery in FlatMap).
type Owner interface {
	ID() int
	AssertAffinity(op string) error
	Schedule(fn func())
}

type state int32

const (
	statePending state = iota
	stateValue
	stateFailure
)

// Future is a single-use cell carrying a value or a failure, bound to the
// CPU that created it. All fields below this comment are mutated only by
// that CPU's loop goroutine.
type Future[T any] struct {
	owner Owner
	st    state
	value T
	err   error

	onSuccess func(T)
	onFailure func(error)
}

// New returns a Pending future owned by owner, to be resolved later by a
// task running on owner's loop.
func New[T any](owner Owner) *Future[T] {
	return &Future[T]{owner: owner}
}

// Resolved returns a Future that is already in the Value state. Because no
// continuation can have been installed yet, this bypasses the affinity
// check: it is the "constant future" constructor applications use to seed
// a CPU.Sequence call with an already-known value.
func Resolved[T any](owner Owner, v T) *Future[T] {
	return &Future[T]{owner: owner, st: stateValue, value: v}
}

// Failed returns a Future that is already in the Failure state.
func Failed[T any](owner Owner, err error) *Future[T] {
	return &Future[T]{owner: owner, st: stateFailure, err: err}
}

// Owner returns the CPU this future is bound to.
func (f *Future[T]) Owner() Owner { return f.owner }

// IsDone reports whether the future has reached a terminal state. Only
// meaningful when called from the owning CPU.
func (f *Future[T]) IsDone() bool { return f.st != statePending }

func (f *Future[T]) assert(op string) {
	if f.owner == nil {
		return
	}
	if err := f.owner.AssertAffinity(op); err != nil {
		panic(err)
	}
}

// SetValue transitions the future to the Value state. Must be called from
// the owning CPU's loop goroutine. Panics with an invariant-violation error
// if the future is already terminal, or if called off the owning thread.
func (f *Future[T]) SetValue(v T) {
	f.assert("Future.SetValue")
	if f.st != statePending {
		panic(rterrors.Invariant("Future.SetValue", "future is already resolved"))
	}
	f.st = stateValue
	f.value = v
	if f.onSuccess != nil {
		cb := f.onSuccess
		f.onSuccess, f.onFailure = nil, nil
		cb(v)
	}
}

// SetFailure transitions the future to the Failure state. Same affinity and
// monotonicity requirements as SetValue.
func (f *Future[T]) SetFailure(err error) {
	f.assert("Future.SetFailure")
	if f.st != statePending {
		panic(rterrors.Invariant("Future.SetFailure", "future is already resolved"))
	}
	f.st = stateFailure
	f.err = err
	if f.onFailure != nil {
		cb := f.onFailure
		f.onSuccess, f.onFailure = nil, nil
		cb(err)
	}
}

// CancelPending implements Cancelable.
func (f *Future[T]) CancelPending(err error) bool {
	if f.st != statePending {
		return false
	}
	f.SetFailure(err)
	return true
}

// OnSuccess installs a continuation invoked with the future's value. If the
// future is already resolved with a value, the continuation is scheduled
// on the owning CPU's task queue rather than invoked inline, preserving
// loop re-entrancy: a resolver is never re-entered by the continuations it
// triggers.
func (f *Future[T]) OnSuccess(k func(T)) {
	f.assert("Future.OnSuccess")
	switch f.st {
	case statePending:
		f.onSuccess = k
	case stateValue:
		v := f.value
		f.owner.Schedule(func() { k(v) })
	case stateFailure:
		// no-op: a failure never invokes the success continuation.
	}
}

// OnFailure installs a continuation invoked with the future's error.
func (f *Future[T]) OnFailure(k func(error)) {
	f.assert("Future.OnFailure")
	switch f.st {
	case statePending:
		f.onFailure = k
	case stateFailure:
		err := f.err
		f.owner.Schedule(func() { k(err) })
	case stateValue:
		// no-op
	}
}

// AndThen installs a success continuation and returns the same future, for
// chaining calls.
func (f *Future[T]) AndThen(k func(T)) *Future[T] {
	f.OnSuccess(k)
	return f
}

// Check installs a failure continuation and returns the same future.
func (f *Future[T]) Check(k func(error)) *Future[T] {
	f.OnFailure(k)
	return f
}

// Map returns a new Future[U] owned by the same CPU. On success, fn runs on
// the owning CPU and its result resolves the new future; on failure, the
// failure propagates without invoking fn.
func Map[T, U any](f *Future[T], fn func(T) U) *Future[U] {
	out := New[U](f.owner)
	f.OnSuccess(func(v T) {
		out.SetValue(fn(v))
	})
	f.OnFailure(func(err error) {
		out.SetFailure(err)
	})
	return out
}

// FlatMap returns a new Future[U] owned by the same CPU as f. On success,
// fn runs on f's owning CPU. If fn's returned future is owned by a
// different CPU, its value (or failure) is delivered back to f's owner via
// that owner's Schedule, so the result's affinity always matches f's.
func FlatMap[T, U any](f *Future[T], fn func(T) *Future[U]) *Future[U] {
	out := New[U](f.owner)
	f.OnSuccess(func(v T) {
		inner := fn(v)
		deliver := func() {
			inner.OnSuccess(func(iv U) {
				if inner.owner == f.owner {
					out.SetValue(iv)
				} else {
					f.owner.Schedule(func() { out.SetValue(iv) })
				}
			})
			inner.OnFailure(func(err error) {
				if inner.owner == f.owner {
					out.SetFailure(err)
				} else {
					f.owner.Schedule(func() { out.SetFailure(err) })
				}
			})
		}
		if inner.owner == f.owner {
			deliver()
		} else {
			inner.owner.Schedule(deliver)
		}
	})
	f.OnFailure(func(err error) {
		out.SetFailure(err)
	})
	return out
}
