package tasksync

import (
	"sync"
	"time"

	"github.com/joeycumines/attacha-rt/scheduler"
)

// ConditionVariable is a wait list of (task, awake generation) records,
// the fiber analogue of a condition variable: Wait atomically releases
// lock (via its RelockRelease hook) and parks the caller, reacquiring
// lock before returning once woken. NotifyOne/NotifyAll wake waiters
// without touching the lock.
type ConditionVariable struct {
	mu      sync.Mutex
	waiters []waiter
}

func NewConditionVariable() *ConditionVariable {
	return &ConditionVariable{}
}

func (c *ConditionVariable) enqueue(caller *scheduler.Task) {
	c.mu.Lock()
	c.waiters = append(c.waiters, waiter{caller, caller.AwakeCheck()})
	c.mu.Unlock()
}

func (c *ConditionVariable) dequeue(caller *scheduler.Task) {
	c.mu.Lock()
	c.waiters = removeWaiter(c.waiters, caller)
	c.mu.Unlock()
}

// Wait releases lock, parks caller until notified, then reacquires
// lock. lock is anything implementing scheduler.Relocker, typically a
// *Unify wrapping whichever mutex kind guards the condition.
func (c *ConditionVariable) Wait(caller *scheduler.Task, lock scheduler.Relocker) {
	c.enqueue(caller)
	reacquire := lock.RelockRelease()
	defer func() {
		c.dequeue(caller)
		reacquire()
	}()
	for {
		scheduler.Park(caller)
		c.mu.Lock()
		present := waiterPresent(c.waiters, caller)
		c.mu.Unlock()
		if !present {
			return // a notify consumed the waiter record
		}
	}
}

// WaitFor/WaitUntil behave like Wait but additionally return false if
// the deadline elapses before a notification arrives.
func (c *ConditionVariable) WaitFor(caller *scheduler.Task, lock scheduler.Relocker, d time.Duration) bool {
	return c.WaitUntil(caller, lock, time.Now().Add(d))
}

func (c *ConditionVariable) WaitUntil(caller *scheduler.Task, lock scheduler.Relocker, deadline time.Time) bool {
	c.enqueue(caller)
	reacquire := lock.RelockRelease()
	defer reacquire()
	// Whichever of Notify*/the timeout goroutine actually removes
	// caller's waiter entry first is the one that wakes it; the other
	// is a no-op, so caller is never woken twice for one wait.
	defer func() {
		c.mu.Lock()
		c.waiters = removeWaiter(c.waiters, caller)
		c.mu.Unlock()
	}()

	raceDone := make(chan struct{})
	var raceDoneOnce sync.Once
	stopRace := func() { raceDoneOnce.Do(func() { close(raceDone) }) }
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			c.mu.Lock()
			var won bool
			c.waiters, won = removeWaiterIfPresent(c.waiters, caller)
			c.mu.Unlock()
			if won {
				close(timedOut)
				caller.Pool().Wake(caller)
			}
		case <-raceDone:
		}
	}()
	defer stopRace()

	for {
		scheduler.Park(caller)
		select {
		case <-timedOut:
			return false
		default:
		}
		c.mu.Lock()
		present := waiterPresent(c.waiters, caller)
		c.mu.Unlock()
		if !present {
			return true // a notify consumed the waiter record
		}
	}
}

// NotifyOne wakes the longest-waiting fiber, if any.
func (c *ConditionVariable) NotifyOne() {
	c.mu.Lock()
	if len(c.waiters) == 0 {
		c.mu.Unlock()
		return
	}
	next := c.waiters[0]
	c.waiters = c.waiters[1:]
	c.mu.Unlock()
	next.task.Pool().Wake(next.task)
}

// NotifyAll wakes every currently-queued fiber.
func (c *ConditionVariable) NotifyAll() {
	c.mu.Lock()
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()
	for _, w := range ws {
		w.task.Pool().Wake(w.task)
	}
}

// EnqueueExternal registers t as a waiter without parking it, for
// callers that suspend via their own mechanism (e.g. a generator
// bridge) but still want to participate in NotifyOne/NotifyAll
// fairness.
func (c *ConditionVariable) EnqueueExternal(t *scheduler.Task) {
	c.enqueue(t)
}

// DequeueExternal removes a waiter previously registered via
// EnqueueExternal, for callers that abandon their wait outside of Wait.
func (c *ConditionVariable) DequeueExternal(t *scheduler.Task) {
	c.dequeue(t)
}
