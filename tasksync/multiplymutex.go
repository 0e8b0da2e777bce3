package tasksync

import "github.com/joeycumines/attacha-rt/scheduler"

// MultiplyMutex locks a fixed, ordered set of Unify references together,
// always in the same order, and unlocks them in reverse: the Go
// analogue of locking several mutexes consistently to avoid deadlock
// between independent MultiplyMutex holders.
type MultiplyMutex struct {
	locks []*Unify
}

func NewMultiplyMutex(locks ...*Unify) *MultiplyMutex {
	return &MultiplyMutex{locks: locks}
}

func (m *MultiplyMutex) Lock(caller *scheduler.Task) {
	for _, u := range m.locks {
		u.Lock()
	}
}

func (m *MultiplyMutex) TryLock(caller *scheduler.Task) bool {
	for i, u := range m.locks {
		if !u.TryLock() {
			for j := i - 1; j >= 0; j-- {
				m.locks[j].Unlock()
			}
			return false
		}
	}
	return true
}

func (m *MultiplyMutex) Unlock(caller *scheduler.Task) {
	for i := len(m.locks) - 1; i >= 0; i-- {
		m.locks[i].Unlock()
	}
}

// RelockRelease releases every wrapped lock in reverse order and
// returns a closure that reacquires them all in original order.
func (m *MultiplyMutex) RelockRelease() (reacquire func()) {
	reacquires := make([]func(), len(m.locks))
	for i := len(m.locks) - 1; i >= 0; i-- {
		reacquires[i] = m.locks[i].RelockRelease()
	}
	return func() {
		for _, r := range reacquires {
			r()
		}
	}
}
