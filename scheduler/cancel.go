package scheduler

// NotifyCancel requests cooperative cancellation of t: it sets the
// make_cancel flag and bumps awake_check, invalidating any pending
// timer/wait record for t so a stale wake cannot resume it with a
// mismatched generation, then wakes t unconditionally. If t is parked
// it is resumed immediately; if it is still running toward a park, the
// wake latches and the park consumes it instead of blocking — either
// way CheckCancellation observes the request at the next suspension
// point.
func (t *Task) NotifyCancel() {
	setFlag(&t.flags, flagMakeCancel)
	t.awakeCheck.Add(1)
	t.pool.wake(t)
}

// Cancelled reports whether NotifyCancel has been called for t.
func (t *Task) Cancelled() bool {
	return t.flags.Load()&flagMakeCancel != 0
}
