package scheduler

import (
	"sync"

	"github.com/joeycumines/attacha-rt/value"
)

// Result is a Task's queue of yielded values plus an end-of-life flag,
// guarded by a condition variable: readers block until either a new
// yield is appended or end-of-life becomes true. It is created with its
// Task and stays alive until both the task has ended and every awaiter
// has released its reference, i.e. until it is no longer reachable.
type Result struct {
	mu       sync.Mutex
	cond     *sync.Cond
	yields   []value.Item
	endOfLife bool
	err      error // non-nil if the task ended via an unhandled error/cancellation
}

// NewResult constructs an empty, live Result.
func NewResult() *Result {
	r := &Result{}
	r.cond = sync.NewCond(&r.mu)
	return r
}

// Yield appends a value produced mid-task and wakes any waiters.
func (r *Result) Yield(v value.Item) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endOfLife {
		return
	}
	r.yields = append(r.yields, v)
	r.cond.Broadcast()
}

// Final appends the task's last value (if any is meaningful — callers
// pass value.None when there is none), sets end-of-life, and wakes every
// waiter permanently.
func (r *Result) Final(v value.Item, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.endOfLife {
		return
	}
	if !v.IsNone() {
		r.yields = append(r.yields, v)
	}
	r.err = err
	r.endOfLife = true
	r.cond.Broadcast()
}

// EndOfLife reports whether the task has finished (successfully,
// cancelled, or errored).
func (r *Result) EndOfLife() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.endOfLife
}

// Err returns the error the task ended with, if any.
func (r *Result) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Len returns the number of yields recorded so far.
func (r *Result) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.yields)
}

// At blocks until the i-th yield is available or the task reaches
// end-of-life without producing it, returning (value, ok).
func (r *Result) At(i int) (value.Item, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i >= len(r.yields) && !r.endOfLife {
		r.cond.Wait()
	}
	if i >= len(r.yields) {
		return value.None, false
	}
	return r.yields[i], true
}

// AwaitEnd blocks until end-of-life becomes true, then returns the final
// error (nil on success/cancellation-acknowledged-cleanly).
func (r *Result) AwaitEnd() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for !r.endOfLife {
		r.cond.Wait()
	}
	return r.err
}

// All returns a snapshot copy of every yield recorded so far.
func (r *Result) All() []value.Item {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]value.Item, len(r.yields))
	copy(out, r.yields)
	return out
}
