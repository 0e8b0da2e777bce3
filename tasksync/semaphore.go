package tasksync

import (
	"sync"
	"time"

	"github.com/joeycumines/attacha-rt/scheduler"
)

// Semaphore is a counting semaphore whose waiters park as fibers. Unlike
// TaskMutex, a released slot need not go to any particular caller: when
// waiters are queued, Release hands the freed slot to the head waiter
// (tracked in grants) rather than simply decrementing the count.
type Semaphore struct {
	mu      sync.Mutex
	max     int
	cur     int
	waiters []waiter
	grants  map[*scheduler.Task]struct{}
}

func NewSemaphore(max int) *Semaphore {
	return &Semaphore{max: max}
}

func (s *Semaphore) SetMaxThreshold(n int) {
	s.mu.Lock()
	s.max = n
	s.mu.Unlock()
}

func (s *Semaphore) Lock(caller *scheduler.Task) {
	s.mu.Lock()
	if s.cur < s.max {
		s.cur++
		s.mu.Unlock()
		return
	}
	s.waiters = append(s.waiters, waiter{caller, caller.AwakeCheck()})
	s.mu.Unlock()

	defer func() {
		// Harmless no-op on the normal return path, where the grant
		// (and waiters entry) is already consumed. If we instead
		// unwound via cancellation, drop the stale waiters entry —
		// and if a grant raced in before the unwind, the inherited
		// slot must be released onward, not silently leaked.
		s.mu.Lock()
		var inherit *scheduler.Task
		if s.consumeGrantLocked(caller) {
			inherit = s.transferSlotLocked()
		}
		s.waiters = removeWaiter(s.waiters, caller)
		s.mu.Unlock()
		if inherit != nil {
			inherit.Pool().Wake(inherit)
		}
	}()

	for {
		scheduler.Park(caller)
		s.mu.Lock()
		granted := s.consumeGrantLocked(caller)
		s.mu.Unlock()
		if granted {
			return
		}
	}
}

func (s *Semaphore) consumeGrantLocked(caller *scheduler.Task) bool {
	if s.grants == nil {
		return false
	}
	if _, ok := s.grants[caller]; ok {
		delete(s.grants, caller)
		return true
	}
	return false
}

func (s *Semaphore) TryLock() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur < s.max {
		s.cur++
		return true
	}
	return false
}

func (s *Semaphore) TryLockFor(caller *scheduler.Task, d time.Duration) bool {
	return s.TryLockUntil(caller, time.Now().Add(d))
}

func (s *Semaphore) TryLockUntil(caller *scheduler.Task, deadline time.Time) bool {
	if s.TryLock() {
		return true
	}
	s.mu.Lock()
	s.waiters = append(s.waiters, waiter{caller, caller.AwakeCheck()})
	s.mu.Unlock()

	raceDone := make(chan struct{})
	var raceDoneOnce sync.Once
	stopRace := func() { raceDoneOnce.Do(func() { close(raceDone) }) }
	timedOut := make(chan struct{})
	go func() {
		select {
		case <-time.After(time.Until(deadline)):
			s.mu.Lock()
			var won bool
			s.waiters, won = removeWaiterIfPresent(s.waiters, caller)
			s.mu.Unlock()
			if won {
				close(timedOut)
				caller.Pool().Wake(caller)
			}
		case <-raceDone:
		}
	}()

	defer func() {
		stopRace()
		// On the timeout/cancellation unwind a grant may have raced in
		// after the last loop check; consuming it is not enough — the
		// inherited slot must be released onward or capacity leaks.
		s.mu.Lock()
		var inherit *scheduler.Task
		if s.consumeGrantLocked(caller) {
			inherit = s.transferSlotLocked()
		}
		s.waiters = removeWaiter(s.waiters, caller)
		s.mu.Unlock()
		if inherit != nil {
			inherit.Pool().Wake(inherit)
		}
	}()

	for {
		scheduler.Park(caller)
		s.mu.Lock()
		granted := s.consumeGrantLocked(caller)
		s.mu.Unlock()
		if granted {
			return true
		}
		select {
		case <-timedOut:
			return false
		default:
		}
	}
}

// transferSlotLocked frees one held slot while s.mu is held: the slot
// transfers to the longest-waiting fiber (returned, so the caller can
// wake it outside the lock), or cur is decremented when no one waits.
func (s *Semaphore) transferSlotLocked() *scheduler.Task {
	if len(s.waiters) == 0 {
		if s.cur > 0 {
			s.cur--
		}
		return nil
	}
	next := s.waiters[0]
	s.waiters = s.waiters[1:]
	if s.grants == nil {
		s.grants = make(map[*scheduler.Task]struct{})
	}
	s.grants[next.task] = struct{}{}
	return next.task
}

// Release frees one slot, handing it to the longest-waiting fiber if
// any are queued.
func (s *Semaphore) Release() {
	s.mu.Lock()
	next := s.transferSlotLocked()
	s.mu.Unlock()
	if next != nil {
		next.Pool().Wake(next)
	}
}

// ReleaseAll frees every currently-held slot at once, waking as many
// queued waiters as slots permit.
func (s *Semaphore) ReleaseAll() {
	s.mu.Lock()
	n := s.cur
	s.cur = 0
	var towake []waiter
	for n > 0 && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters = s.waiters[1:]
		if s.grants == nil {
			s.grants = make(map[*scheduler.Task]struct{})
		}
		s.grants[w.task] = struct{}{}
		towake = append(towake, w)
		s.cur++
		n--
	}
	s.mu.Unlock()
	for _, w := range towake {
		w.task.Pool().Wake(w.task)
	}
}

func (s *Semaphore) IsLocked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur >= s.max
}
