package scheduler

import "sync/atomic"

// TaskState is a Task's position in its lifecycle: created → started →
// (running ⇆ suspended)* → ended. Transitions out of suspended happen
// only via a scheduler wake (timer, primitive, I/O, cancel); ended is
// terminal and no further resume may occur once reached.
type TaskState uint64

const (
	StateCreated TaskState = iota
	StateStarted
	StateRunning
	StateSuspended
	StateEnded
)

func (s TaskState) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateStarted:
		return "started"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// fastState is a lock-free CAS state machine with cache-line padding,
// carrying a Task through its lifecycle without a mutex on the hot path.
type fastState struct { // betteralign:ignore
	_ [64]byte
	v atomic.Uint64
	_ [56]byte
}

func newFastState() *fastState {
	s := &fastState{}
	s.v.Store(uint64(StateCreated))
	return s
}

func (s *fastState) Load() TaskState {
	return TaskState(s.v.Load())
}

func (s *fastState) Store(state TaskState) {
	s.v.Store(uint64(state))
}

// TryTransition attempts an atomic from→to transition, returning whether
// it succeeded.
func (s *fastState) TryTransition(from, to TaskState) bool {
	return s.v.CompareAndSwap(uint64(from), uint64(to))
}

// TransitionAny attempts a transition from any of validFrom to to.
func (s *fastState) TransitionAny(validFrom []TaskState, to TaskState) bool {
	for _, from := range validFrom {
		if s.v.CompareAndSwap(uint64(from), uint64(to)) {
			return true
		}
	}
	return false
}

func (s *fastState) IsEnded() bool {
	return s.Load() == StateEnded
}
