package errs

// Cancellation is the error a fiber observes when it has been asked to
// unwind via cancellation (the scheduler's notify_cancel). It is not a
// Kind-classified *Error: cancellation is control flow, not a failure
// category, so it gets its own type and its own Is/As identity.
//
// A fiber boundary (the point where the scheduler resumes a suspended
// task and it runs to completion or back to the next suspension point)
// must acknowledge a Cancellation that reaches it: either by returning
// it as the task's final error, or by calling Acknowledge. A
// Cancellation that escapes a fiber boundary unacknowledged is a fatal
// usage error, not a recoverable one.
type Cancellation struct {
	// Reason is an optional caller-supplied explanation, surfaced by Error().
	Reason string

	acknowledged bool
}

// NewCancellation constructs a Cancellation with the given reason.
func NewCancellation(reason string) *Cancellation {
	return &Cancellation{Reason: reason}
}

func (c *Cancellation) Error() string {
	if c == nil || c.Reason == "" {
		return "task cancelled"
	}
	return "task cancelled: " + c.Reason
}

// Acknowledge marks the cancellation as having been observed and handled
// by a fiber boundary, suppressing the "unacknowledged cancellation"
// fatal check for this instance.
func (c *Cancellation) Acknowledge() {
	if c != nil {
		c.acknowledged = true
	}
}

// Acknowledged reports whether Acknowledge has been called.
func (c *Cancellation) Acknowledged() bool {
	return c != nil && c.acknowledged
}

// IsCancellation reports whether err is a *Cancellation.
func IsCancellation(err error) bool {
	_, ok := err.(*Cancellation)
	return ok
}
