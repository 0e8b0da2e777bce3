package scheduler

// Relocker is the scheduler-facing view of a user-held lock that must be
// released across a context switch and reacquired before the fiber
// resumes. tasksync.Unify implements this so a Task's three relock slots
// can hold references to whichever lock kinds (plain/timed/recursive/
// task/multiple mutex) the caller is holding, without this package
// importing tasksync — tasksync depends on scheduler for the Task type,
// not the other way around.
type Relocker interface {
	// RelockRelease releases the lock, returning a function that
	// reacquires it. The returned function blocks the calling goroutine
	// until the lock is held again, exactly like a fresh Lock call.
	RelockRelease() (reacquire func())
}

// relockSlots holds up to three Relockers released around a context
// switch, matching the "caller lock + primitive lock + optional outer
// lock" shape described for ctxSwapRelock.
type relockSlots [3]Relocker

// release calls RelockRelease on every non-nil slot, in slot order, and
// returns a composite reacquire function that reacquires them in reverse.
func (s *relockSlots) release() func() {
	reacquires := make([]func(), 0, len(s))
	for _, r := range s {
		if r == nil {
			continue
		}
		reacquires = append(reacquires, r.RelockRelease())
	}
	return func() {
		for i := len(reacquires) - 1; i >= 0; i-- {
			reacquires[i]()
		}
	}
}
