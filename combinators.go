package corerun

import (
	"sync/atomic"

	"github.com/corelace/corerun/future"
)

// StepResult is what a Repeat step reports: whether the loop should
// continue, and, if it should stop, the value the aggregate future
// resolves with.
type StepResult[R any] struct {
	Continue bool
	Value    R
}

// Again reports that a Repeat loop should run another iteration.
func Again[R any]() StepResult[R] {
	return StepResult[R]{Continue: true}
}

// Stop reports that a Repeat loop is done, with the aggregate's final
// value.
func Stop[R any](v R) StepResult[R] {
	return StepResult[R]{Continue: false, Value: v}
}

// Repeat runs step repeatedly, re-scheduling the next iteration through
// the CPU's task queue rather than calling step recursively, so an
// unbounded repeat never grows the Go call stack and never starves other
// scheduled work for more than one task-queue slot per iteration. The
// returned future resolves with the value passed to Stop, or fails if any
// iteration's future fails.
func Repeat[R any](c *CPU, step func() *future.Future[StepResult[R]]) *future.Future[R] {
	out := future.New[R](c)
	var again func()
	again = func() {
		step().AndThen(func(r StepResult[R]) {
			if !r.Continue {
				out.SetValue(r.Value)
				return
			}
			c.Schedule(again)
		}).Check(func(err error) {
			out.SetFailure(err)
		})
	}
	c.Schedule(again)
	return out
}

// RepeatUntilStop is Repeat specialized to loops with no accumulated
// value, the common case for a read loop that runs until told to halt.
func RepeatUntilStop(c *CPU, step func() *future.Future[bool]) *future.Future[struct{}] {
	return Repeat(c, func() *future.Future[StepResult[struct{}]] {
		return future.Map(step(), func(stop bool) StepResult[struct{}] {
			if stop {
				return Stop(struct{}{})
			}
			return Again[struct{}]()
		})
	})
}

// Loop runs step over and over on success, handing any failure to
// onFailure and then stopping — the shape a Channel's read side uses to
// keep consuming frames until the peer closes or an error occurs.
func Loop(c *CPU, step func() *future.Future[struct{}], onFailure func(error)) {
	var again func()
	again = func() {
		step().AndThen(func(struct{}) {
			c.Schedule(again)
		}).Check(onFailure)
	}
	c.Schedule(again)
}

// Sequence waits for every future in fs to reach a terminal state and
// resolves, in the input order, to either the slice of all values or the
// first (by input index) failure. Futures may belong to any CPU;
// bookkeeping is delivered back onto c via Schedule so the aggregate
// future itself is only ever touched from c's own thread.
func Sequence[T any](c *CPU, fs []*future.Future[T]) *future.Future[[]T] {
	out := future.New[[]T](c)
	n := len(fs)
	if n == 0 {
		out.SetValue(nil)
		return out
	}

	values := make([]T, n)
	errs := make([]error, n)
	var remaining int32 = int32(n)

	finish := func() {
		for _, err := range errs {
			if err != nil {
				out.SetFailure(err)
				return
			}
		}
		out.SetValue(values)
	}

	for i, f := range fs {
		i, f := i, f
		register := func() {
			f.OnSuccess(func(v T) {
				values[i] = v
				if atomic.AddInt32(&remaining, -1) == 0 {
					c.Schedule(finish)
				}
			})
			f.OnFailure(func(err error) {
				errs[i] = err
				if atomic.AddInt32(&remaining, -1) == 0 {
					c.Schedule(finish)
				}
			})
		}
		// f.OnSuccess/OnFailure assert affinity against f's own owner, not
		// c's, so a future belonging to another CPU must have its
		// continuations installed from that CPU's thread.
		if f.Owner() == future.Owner(c) {
			register()
		} else {
			f.Owner().Schedule(register)
		}
	}
	return out
}
