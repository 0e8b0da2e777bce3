package tasksync

import (
	"sync"
	"time"

	"github.com/joeycumines/attacha-rt/scheduler"
)

// Limiter is a semaphore that additionally remembers which fibers hold
// a slot: a fiber that already holds a slot may call Lock again at no
// cost, and Unlock releases its one slot regardless of how many nested
// Lock calls it made.
type Limiter struct {
	mu      sync.Mutex
	max     int
	holders map[*scheduler.Task]struct{}
	waiters []waiter
}

func NewLimiter(max int) *Limiter {
	return &Limiter{max: max, holders: make(map[*scheduler.Task]struct{})}
}

func (l *Limiter) SetMaxThreshold(n int) {
	l.mu.Lock()
	l.max = n
	l.mu.Unlock()
}

func (l *Limiter) Lock(caller *scheduler.Task) {
	l.mu.Lock()
	if _, ok := l.holders[caller]; ok {
		l.mu.Unlock()
		return
	}
	if len(l.holders) < l.max {
		l.holders[caller] = struct{}{}
		l.mu.Unlock()
		return
	}
	l.waiters = append(l.waiters, waiter{caller, caller.AwakeCheck()})
	l.mu.Unlock()

	acquired := false
	defer func() {
		// Unwinding via cancellation: drop the stale waiter entry, and
		// if a slot was granted during the unwind, release it onward
		// instead of leaking it on a holder that will never Unlock.
		l.mu.Lock()
		var inherit *scheduler.Task
		if !acquired {
			if _, ok := l.holders[caller]; ok {
				delete(l.holders, caller)
				inherit = l.transferSlotLocked()
			}
		}
		l.waiters = removeWaiter(l.waiters, caller)
		l.mu.Unlock()
		if inherit != nil {
			inherit.Pool().Wake(inherit)
		}
	}()

	for {
		scheduler.Park(caller)
		l.mu.Lock()
		_, granted := l.holders[caller]
		l.mu.Unlock()
		if granted {
			acquired = true
			return
		}
	}
}

func (l *Limiter) TryLock(caller *scheduler.Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.holders[caller]; ok {
		return true
	}
	if len(l.holders) < l.max {
		l.holders[caller] = struct{}{}
		return true
	}
	return false
}

func (l *Limiter) TryLockFor(caller *scheduler.Task, d time.Duration) bool {
	return l.TryLockUntil(caller, time.Now().Add(d))
}

func (l *Limiter) TryLockUntil(caller *scheduler.Task, deadline time.Time) bool {
	if l.TryLock(caller) {
		return true
	}
	l.mu.Lock()
	l.waiters = append(l.waiters, waiter{caller, caller.AwakeCheck()})
	l.mu.Unlock()

	raceDone := make(chan struct{})
	var raceDoneOnce sync.Once
	stopRace := func() { raceDoneOnce.Do(func() { close(raceDone) }) }
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			l.mu.Lock()
			var won bool
			l.waiters, won = removeWaiterIfPresent(l.waiters, caller)
			l.mu.Unlock()
			if won {
				close(timedOut)
				caller.Pool().Wake(caller)
			}
		case <-raceDone:
		}
	}()

	acquired := false
	defer func() {
		stopRace()
		// A grant racing the timeout/cancellation unwind is released
		// onward, same as Lock's unwind path.
		l.mu.Lock()
		var inherit *scheduler.Task
		if !acquired {
			if _, ok := l.holders[caller]; ok {
				delete(l.holders, caller)
				inherit = l.transferSlotLocked()
			}
		}
		l.waiters = removeWaiter(l.waiters, caller)
		l.mu.Unlock()
		if inherit != nil {
			inherit.Pool().Wake(inherit)
		}
	}()

	for {
		scheduler.Park(caller)
		l.mu.Lock()
		_, granted := l.holders[caller]
		l.mu.Unlock()
		if granted {
			acquired = true
			return true
		}
		select {
		case <-timedOut:
			return false
		default:
		}
	}
}

// transferSlotLocked hands a freed slot to the longest-waiting fiber, if
// any (returned, so the caller can wake it outside the lock). Callers
// must hold l.mu and have already removed the releasing holder.
func (l *Limiter) transferSlotLocked() *scheduler.Task {
	if len(l.waiters) == 0 {
		return nil
	}
	next := l.waiters[0]
	l.waiters = l.waiters[1:]
	l.holders[next.task] = struct{}{}
	return next.task
}

// Unlock releases caller's one slot (ignoring recursive Lock calls, per
// lock_check semantics) and grants it to the next waiter, if any.
func (l *Limiter) Unlock(caller *scheduler.Task) {
	l.mu.Lock()
	if _, ok := l.holders[caller]; !ok {
		l.mu.Unlock()
		return
	}
	delete(l.holders, caller)
	next := l.transferSlotLocked()
	l.mu.Unlock()
	if next != nil {
		next.Pool().Wake(next)
	}
}

func (l *Limiter) IsLocked() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.holders) >= l.max
}

func (l *Limiter) IsHolder(caller *scheduler.Task) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.holders[caller]
	return ok
}
