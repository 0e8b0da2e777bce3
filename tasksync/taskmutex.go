package tasksync

import (
	"sync"
	"time"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
)

// TaskMutex is a mutex whose waiters are fibers: a blocked Lock call
// parks the caller via scheduler.Park instead of blocking a worker
// thread, handing ownership directly to the next FIFO waiter on
// Unlock. Because ownership passes to the head waiter before it is
// woken, TryLock succeeds only when nobody waits and never jumps the
// queue.
type TaskMutex struct {
	mu      sync.Mutex
	owner   *scheduler.Task
	waiters []waiter
}

func NewTaskMutex() *TaskMutex {
	return &TaskMutex{}
}

func (m *TaskMutex) Lock(caller *scheduler.Task) {
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.mu.Unlock()
		return
	}
	m.waiters = append(m.waiters, waiter{caller, caller.AwakeCheck()})
	m.mu.Unlock()

	acquired := false
	defer func() {
		// If we unwound (panic from a cancelled CheckCancellation)
		// without ever becoming owner, drop the stale waiter entry so
		// a later Unlock doesn't hand ownership to a fiber that has
		// already left Lock. If ownership was handed to us during the
		// unwind, pass it on — a dead owner would deadlock the mutex.
		m.mu.Lock()
		var next *scheduler.Task
		if !acquired && m.owner == caller {
			next = m.passOwnershipLocked()
		}
		if m.owner != caller {
			m.waiters = removeWaiter(m.waiters, caller)
		}
		m.mu.Unlock()
		if next != nil {
			next.Pool().Wake(next)
		}
	}()

	for {
		scheduler.Park(caller)
		m.mu.Lock()
		owned := m.owner == caller
		m.mu.Unlock()
		if owned {
			acquired = true
			return
		}
	}
}

// TryLock never parks; it either acquires the free mutex immediately or
// reports failure.
func (m *TaskMutex) TryLock(caller *scheduler.Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.owner == nil {
		m.owner = caller
		return true
	}
	return false
}

func (m *TaskMutex) TryLockFor(caller *scheduler.Task, d time.Duration) bool {
	return m.TryLockUntil(caller, time.Now().Add(d))
}

func (m *TaskMutex) TryLockUntil(caller *scheduler.Task, deadline time.Time) bool {
	m.mu.Lock()
	if m.owner == nil {
		m.owner = caller
		m.mu.Unlock()
		return true
	}
	m.waiters = append(m.waiters, waiter{caller, caller.AwakeCheck()})
	m.mu.Unlock()

	raceDone := make(chan struct{})
	var raceDoneOnce sync.Once
	stopRace := func() { raceDoneOnce.Do(func() { close(raceDone) }) }
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			m.mu.Lock()
			var won bool
			m.waiters, won = removeWaiterIfPresent(m.waiters, caller)
			m.mu.Unlock()
			if won {
				close(timedOut)
				caller.Pool().Wake(caller)
			}
		case <-raceDone:
		}
	}()

	// If we unwind via a cancellation panic or time out, stop the
	// timeout race and drop any stale waiter entry; ownership handed
	// over concurrently with the unwind is passed on, not abandoned.
	acquired := false
	defer func() {
		stopRace()
		m.mu.Lock()
		var next *scheduler.Task
		if !acquired && m.owner == caller {
			next = m.passOwnershipLocked()
		}
		if m.owner != caller {
			m.waiters = removeWaiter(m.waiters, caller)
		}
		m.mu.Unlock()
		if next != nil {
			next.Pool().Wake(next)
		}
	}()

	for {
		scheduler.Park(caller)
		m.mu.Lock()
		owned := m.owner == caller
		m.mu.Unlock()
		if owned {
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

// passOwnershipLocked hands ownership to the next FIFO waiter (returned,
// so the caller can wake it outside the lock), or frees the mutex when
// no one waits. Callers must hold m.mu.
func (m *TaskMutex) passOwnershipLocked() *scheduler.Task {
	if len(m.waiters) == 0 {
		m.owner = nil
		return nil
	}
	next := m.waiters[0]
	m.waiters = m.waiters[1:]
	m.owner = next.task
	return next.task
}

// Unlock hands ownership directly to the next FIFO waiter, if any, or
// else frees the mutex. Returns an invalid-unlock error (errs.KindInvalidUnlock)
// if caller does not currently own it.
func (m *TaskMutex) Unlock(caller *scheduler.Task) error {
	m.mu.Lock()
	if m.owner != caller {
		m.mu.Unlock()
		return errs.New(errs.KindInvalidUnlock, "unlock of TaskMutex by non-owner")
	}
	next := m.passOwnershipLocked()
	m.mu.Unlock()
	if next != nil {
		next.Pool().Wake(next)
	}
	return nil
}

func (m *TaskMutex) IsLocked() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner != nil
}

func (m *TaskMutex) IsOwn(caller *scheduler.Task) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.owner == caller
}

// LifecycleLock holds the mutex on caller's behalf for the entire
// lifetime of child, releasing it the instant child reaches end-of-life:
// a way to serialize against a task's whole run rather than a single
// critical section.
func (m *TaskMutex) LifecycleLock(caller, child *scheduler.Task) {
	m.Lock(caller)
	go func() {
		<-child.Done()
		_ = m.Unlock(caller)
	}()
}

// SequenceLock holds the mutex across each of child's yields in turn,
// releasing and immediately re-acquiring it between successive results
// so other waiters can interleave one step at a time.
func (m *TaskMutex) SequenceLock(caller, child *scheduler.Task) {
	m.Lock(caller)
	go func() {
		for i := 0; ; i++ {
			_, ok := scheduler.GetResult(caller, child, i)
			_ = m.Unlock(caller)
			if !ok {
				return
			}
			m.Lock(caller)
		}
	}()
}
