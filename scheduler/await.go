package scheduler

import (
	"time"

	"github.com/joeycumines/attacha-rt/value"
)

// Sleep suspends the calling task for d, returning early (without error)
// only via cancellation, which is reported by panicking with
// *errs.Cancellation per CheckCancellation's contract.
func Sleep(t *Task, d time.Duration) {
	sleepUntil(t, time.Now().Add(d))
}

// SleepUntil suspends the calling task until deadline.
func SleepUntil(t *Task, deadline time.Time) {
	sleepUntil(t, deadline)
}

// Yield appends v to the calling task's Result and cooperatively gives up
// the worker, immediately re-queuing itself so the scheduler may run
// other ready work before resuming it.
func Yield(t *Task, v value.Item) {
	t.result.Yield(v)
	t.requeue()
	t.CheckCancellation()
}

// AwaitTask blocks the calling task until other has reached end-of-life,
// starting other first if it has not yet been started. Suspension is
// modeled by releasing the worker while a goroutine watches other's
// Done channel and wakes the caller; this keeps AwaitTask itself a
// scheduler suspension point.
func AwaitTask(caller *Task, other *Task) (value.Item, error) {
	if other.State() == StateCreated {
		other.Start()
	}

	done := make(chan struct{})
	go func() {
		<-other.Done()
		close(done)
		caller.pool.wake(caller)
	}()

	for {
		caller.suspend()
		caller.CheckCancellation()
		select {
		case <-done:
		default:
			continue // early resume: other has not ended yet, re-park
		}
		break
	}

	items := other.result.All()
	var last value.Item
	if len(items) > 0 {
		last = items[len(items)-1]
	}
	return last, other.result.Err()
}

// GetResult retrieves the i-th value yielded by other, blocking the
// caller (as a scheduler suspension, see AwaitTask) until it is produced
// or other reaches end-of-life without producing it.
func GetResult(caller *Task, other *Task, i int) (value.Item, bool) {
	if other.result.Len() > i || other.result.EndOfLife() {
		return other.result.At(i)
	}

	done := make(chan struct{})
	go func() {
		other.result.At(i) // blocks internally on the result's condvar
		close(done)
		caller.pool.wake(caller)
	}()

	for {
		caller.suspend()
		caller.CheckCancellation()
		select {
		case <-done:
		default:
			continue // early resume: the i-th yield is not ready, re-park
		}
		break
	}

	return other.result.At(i)
}

// YieldIterate advances across other's yields one at a time, invoking fn
// for each until other reaches end-of-life. fn returning false stops
// iteration early.
func YieldIterate(caller *Task, other *Task, fn func(value.Item) bool) {
	for i := 0; ; i++ {
		v, ok := GetResult(caller, other, i)
		if !ok {
			return
		}
		if !fn(v) {
			return
		}
	}
}

// AwaitMultiple blocks the caller until every task in others has reached
// end-of-life.
func AwaitMultiple(caller *Task, others []*Task) {
	for _, o := range others {
		_, _ = AwaitTask(caller, o)
	}
}
