// Package tasksync implements the scheduler-aware synchronization
// primitives: MutexUnify (as Unify), TaskMutex, TaskRecursiveMutex,
// ConditionVariable, Semaphore, and Limiter. These suspend a fiber via
// scheduler.Park rather than blocking an OS thread, so waiting never
// stalls the worker that was running the caller. The plain
// RecursiveMutex and TimedMutex that Unify can also wrap never park a
// fiber; they block the calling goroutine.
package tasksync

import "github.com/joeycumines/attacha-rt/scheduler"

// waiter is a (task, awake generation) wait-list record: a wake
// carrying a stale generation must never resume the task it names.
type waiter struct {
	task *scheduler.Task
	gen  uint64
}

// waiterPresent reports whether a waiter entry naming t is still queued.
// A wait loop uses this to classify a resume: the entry gone means
// whoever removed it (a notify, a grant, a timeout) caused the wake; the
// entry still queued means the resume was early and the task re-parks.
func waiterPresent(ws []waiter, t *scheduler.Task) bool {
	for _, w := range ws {
		if w.task == t {
			return true
		}
	}
	return false
}

// removeWaiter deletes the first waiter entry naming t, if present.
func removeWaiter(ws []waiter, t *scheduler.Task) []waiter {
	ws, _ = removeWaiterIfPresent(ws, t)
	return ws
}

// removeWaiterIfPresent deletes the first waiter entry naming t and
// reports whether one was found. A timeout path uses the bool to decide
// whether it "won the race" against a concurrent grant/notify for the
// same waiter: if the entry was already gone, whoever removed it has
// already (or is about to) wake the task, so the timeout path must not
// wake it a second time.
func removeWaiterIfPresent(ws []waiter, t *scheduler.Task) ([]waiter, bool) {
	for i, w := range ws {
		if w.task == t {
			return append(ws[:i:i], ws[i+1:]...), true
		}
	}
	return ws, false
}
