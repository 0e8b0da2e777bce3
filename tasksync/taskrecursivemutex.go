package tasksync

import (
	"sync"
	"time"

	"github.com/joeycumines/attacha-rt/scheduler"
)

// TaskRecursiveMutex wraps a TaskMutex with a recursion depth counter:
// a fiber that already owns the lock may call Lock again without
// parking, and must call Unlock the same number of times to release it.
type TaskRecursiveMutex struct {
	base  *TaskMutex
	mu    sync.Mutex
	depth uint32
}

func NewTaskRecursiveMutex() *TaskRecursiveMutex {
	return &TaskRecursiveMutex{base: NewTaskMutex()}
}

func (m *TaskRecursiveMutex) Lock(caller *scheduler.Task) {
	m.mu.Lock()
	if m.base.IsOwn(caller) && m.depth > 0 {
		m.depth++
		m.mu.Unlock()
		return
	}
	m.mu.Unlock()

	m.base.Lock(caller)

	m.mu.Lock()
	m.depth = 1
	m.mu.Unlock()
}

func (m *TaskRecursiveMutex) TryLock(caller *scheduler.Task) bool {
	m.mu.Lock()
	if m.base.IsOwn(caller) && m.depth > 0 {
		m.depth++
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	if !m.base.TryLock(caller) {
		return false
	}
	m.mu.Lock()
	m.depth = 1
	m.mu.Unlock()
	return true
}

func (m *TaskRecursiveMutex) TryLockFor(caller *scheduler.Task, d time.Duration) bool {
	return m.TryLockUntil(caller, time.Now().Add(d))
}

func (m *TaskRecursiveMutex) TryLockUntil(caller *scheduler.Task, deadline time.Time) bool {
	m.mu.Lock()
	if m.base.IsOwn(caller) && m.depth > 0 {
		m.depth++
		m.mu.Unlock()
		return true
	}
	m.mu.Unlock()

	if !m.base.TryLockUntil(caller, deadline) {
		return false
	}
	m.mu.Lock()
	m.depth = 1
	m.mu.Unlock()
	return true
}

func (m *TaskRecursiveMutex) Unlock(caller *scheduler.Task) error {
	m.mu.Lock()
	if !m.base.IsOwn(caller) || m.depth == 0 {
		m.mu.Unlock()
		return m.base.Unlock(caller) // surfaces the invalid-unlock error
	}
	m.depth--
	d := m.depth
	m.mu.Unlock()
	if d == 0 {
		return m.base.Unlock(caller)
	}
	return nil
}

func (m *TaskRecursiveMutex) IsLocked() bool { return m.base.IsLocked() }

func (m *TaskRecursiveMutex) IsOwn(caller *scheduler.Task) bool { return m.base.IsOwn(caller) }

func (m *TaskRecursiveMutex) Depth() uint32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.depth
}

// unlockAll/relockAll give Unify a relock hook that preserves recursion
// depth across a suspension point, the way unlockAll/relockAll do for
// the plain RecursiveMutex.
func (m *TaskRecursiveMutex) unlockAll(caller *scheduler.Task) int {
	m.mu.Lock()
	d := int(m.depth)
	m.depth = 0
	m.mu.Unlock()
	if d > 0 {
		_ = m.base.Unlock(caller)
	}
	return d
}

func (m *TaskRecursiveMutex) relockAll(caller *scheduler.Task, depth int) {
	if depth == 0 {
		return
	}
	m.base.Lock(caller)
	m.mu.Lock()
	m.depth = uint32(depth)
	m.mu.Unlock()
}
