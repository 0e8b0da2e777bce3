package scheduler

import (
	"container/heap"
	"sync"
	"time"
)

// timerEntry is one pending (deadline, task, awake generation) record.
// If task.AwakeCheck() no longer equals generation when the entry comes
// due, it is a stale timer — superseded by a cancel or another wake —
// and is discarded rather than resuming the task.
type timerEntry struct {
	deadline   time.Time
	task       *Task
	generation uint64
	index      int
}

type timerHeap []*timerEntry

func (h timerHeap) Len() int            { return len(h) }
func (h timerHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timerHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index = i; h[j].index = j }
func (h *timerHeap) Push(x any)         { e := x.(*timerEntry); e.index = len(*h); *h = append(*h, e) }
func (h *timerHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// timerWheel drains the global timer heap. It is started lazily by the
// first timed wait (ExplicitStartTimer may also start it eagerly).
type timerWheel struct {
	pool *Pool

	mu      sync.Mutex
	heap    timerHeap
	wake    chan struct{}
	started bool
	stopped bool
	done    chan struct{}
}

func newTimerWheel(pool *Pool) *timerWheel {
	return &timerWheel{
		pool: pool,
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// ExplicitStartTimer starts the timer goroutine immediately; otherwise it
// is started lazily by the first call to schedule.
func (p *Pool) ExplicitStartTimer() {
	p.timer.start()
}

func (tw *timerWheel) start() {
	tw.mu.Lock()
	if tw.started {
		tw.mu.Unlock()
		return
	}
	tw.started = true
	tw.mu.Unlock()
	go tw.run()
}

func (tw *timerWheel) stop() {
	tw.mu.Lock()
	if tw.stopped {
		tw.mu.Unlock()
		return
	}
	tw.stopped = true
	tw.mu.Unlock()
	close(tw.done)
}

// schedule enqueues (deadline, task, generation), starting the timer
// goroutine on first use.
func (tw *timerWheel) schedule(deadline time.Time, task *Task, generation uint64) {
	tw.start()
	tw.mu.Lock()
	heap.Push(&tw.heap, &timerEntry{deadline: deadline, task: task, generation: generation})
	tw.mu.Unlock()
	select {
	case tw.wake <- struct{}{}:
	default:
	}
}

func (tw *timerWheel) run() {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		tw.mu.Lock()
		var nextDelay time.Duration
		if len(tw.heap) == 0 {
			nextDelay = time.Hour
		} else {
			nextDelay = time.Until(tw.heap[0].deadline)
			if nextDelay < 0 {
				nextDelay = 0
			}
		}
		tw.mu.Unlock()

		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(nextDelay)

		select {
		case <-tw.done:
			return
		case <-tw.wake:
			continue
		case <-timer.C:
			tw.fireDue()
		}
	}
}

func (tw *timerWheel) fireDue() {
	now := time.Now()
	var due []*timerEntry

	tw.mu.Lock()
	for len(tw.heap) > 0 && !tw.heap[0].deadline.After(now) {
		due = append(due, heap.Pop(&tw.heap).(*timerEntry))
	}
	tw.mu.Unlock()

	for _, e := range due {
		if e.task.awakeCheck.Load() != e.generation {
			continue // stale: superseded by a cancel or another wake
		}
		setFlag(&e.task.flags, flagTimeEnd)
		tw.pool.wake(e.task)
	}
}

// sleepUntil suspends the calling task until deadline or a superseding
// wake (cancellation), mirroring sleep_until(t). It panics with
// *errs.Cancellation if the wake was caused by NotifyCancel rather than
// the deadline firing.
func sleepUntil(t *Task, deadline time.Time) {
	gen := t.awakeCheck.Load()
	clearFlag(&t.flags, flagTimeEnd)
	t.pool.timer.schedule(deadline, t, gen)
	for {
		t.suspend()
		t.CheckCancellation()
		// An early resume (a wake latched before the park took effect)
		// does not end the sleep; only the timer firing does.
		if t.flags.Load()&flagTimeEnd != 0 || !time.Now().Before(deadline) {
			return
		}
	}
}
