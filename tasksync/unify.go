package tasksync

import "github.com/joeycumines/attacha-rt/scheduler"

// Kind discriminates which concrete lock a Unify wraps.
type Kind uint8

const (
	KindPlain Kind = iota
	KindTimed
	KindRecursive
	KindTask
	KindTaskRecursive
	KindMultiple
)

// Unify is a tagged reference over any of {plain sync.Mutex, TimedMutex,
// RecursiveMutex, TaskMutex, TaskRecursiveMutex, MultiplyMutex},
// presenting one lock/unlock interface regardless of which concrete
// kind backs it. It implements scheduler.Relocker so any of these lock
// kinds can be installed into a Task's relock slots and transparently
// released/reacquired around a suspension point (the relock_start/
// relock_end bracketing used by ConditionVariable.Wait and by
// Task.ReleaseRelocks).
type Unify struct {
	kind   Kind
	caller *scheduler.Task

	plain     Locker
	timed     *TimedMutex
	recursive *RecursiveMutex
	task      *TaskMutex
	taskRec   *TaskRecursiveMutex
	multiple  *MultiplyMutex
}

// Locker is the minimal interface a plain OS-thread mutex must satisfy
// to back a Unify (sync.Mutex and sync.RWMutex both already do).
type Locker interface {
	Lock()
	Unlock()
}

func NewUnifyPlain(m Locker) *Unify { return &Unify{kind: KindPlain, plain: m} }

func NewUnifyTimed(m *TimedMutex) *Unify { return &Unify{kind: KindTimed, timed: m} }

func NewUnifyRecursive(owner any, m *RecursiveMutex) *Unify {
	return &Unify{kind: KindRecursive, recursive: m, caller: ownerTaskOrNil(owner)}
}

// NewUnifyTask binds a TaskMutex to the specific Task that will be
// calling Lock/Unlock through this Unify; a Unify is only ever used
// from inside one fiber's context, so the owner is fixed at
// construction rather than threaded through every call.
func NewUnifyTask(caller *scheduler.Task, m *TaskMutex) *Unify {
	return &Unify{kind: KindTask, caller: caller, task: m}
}

func NewUnifyTaskRecursive(caller *scheduler.Task, m *TaskRecursiveMutex) *Unify {
	return &Unify{kind: KindTaskRecursive, caller: caller, taskRec: m}
}

func NewUnifyMultiple(caller *scheduler.Task, m *MultiplyMutex) *Unify {
	return &Unify{kind: KindMultiple, caller: caller, multiple: m}
}

func ownerTaskOrNil(owner any) *scheduler.Task {
	t, _ := owner.(*scheduler.Task)
	return t
}

func (u *Unify) Lock() {
	switch u.kind {
	case KindPlain:
		u.plain.Lock()
	case KindTimed:
		u.timed.Lock()
	case KindRecursive:
		u.recursive.Lock(u.caller)
	case KindTask:
		u.task.Lock(u.caller)
	case KindTaskRecursive:
		u.taskRec.Lock(u.caller)
	case KindMultiple:
		u.multiple.Lock(u.caller)
	}
}

func (u *Unify) Unlock() {
	switch u.kind {
	case KindPlain:
		u.plain.Unlock()
	case KindTimed:
		u.timed.Unlock()
	case KindRecursive:
		u.recursive.Unlock(u.caller)
	case KindTask:
		_ = u.task.Unlock(u.caller)
	case KindTaskRecursive:
		_ = u.taskRec.Unlock(u.caller)
	case KindMultiple:
		u.multiple.Unlock(u.caller)
	}
}

func (u *Unify) TryLock() bool {
	switch u.kind {
	case KindPlain:
		if tl, ok := u.plain.(interface{ TryLock() bool }); ok {
			return tl.TryLock()
		}
		return false
	case KindTimed:
		return u.timed.TryLock()
	case KindRecursive:
		// RecursiveMutex has no non-blocking entry point; re-entrant
		// acquisition by the current owner is still free.
		if u.recursive.owner == u.caller && u.recursive.Depth() > 0 {
			u.recursive.Lock(u.caller)
			return true
		}
		return false
	case KindTask:
		return u.task.TryLock(u.caller)
	case KindTaskRecursive:
		return u.taskRec.TryLock(u.caller)
	case KindMultiple:
		return u.multiple.TryLock(u.caller)
	}
	return false
}

// RelockRelease implements scheduler.Relocker: it releases whichever
// concrete lock this Unify wraps and returns a closure that reacquires
// it exactly as it was held, including recursion depth for the
// recursive kinds.
func (u *Unify) RelockRelease() (reacquire func()) {
	switch u.kind {
	case KindPlain:
		u.plain.Unlock()
		return func() { u.plain.Lock() }
	case KindTimed:
		u.timed.Unlock()
		return func() { u.timed.Lock() }
	case KindRecursive:
		depth := u.recursive.unlockAll()
		owner := u.caller
		return func() { u.recursive.relockAll(owner, depth) }
	case KindTask:
		_ = u.task.Unlock(u.caller)
		return func() { u.task.Lock(u.caller) }
	case KindTaskRecursive:
		depth := u.taskRec.unlockAll(u.caller)
		return func() { u.taskRec.relockAll(u.caller, depth) }
	case KindMultiple:
		return u.multiple.RelockRelease()
	}
	return func() {}
}
