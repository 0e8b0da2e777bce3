package scheduler

import (
	"sync"
	"sync/atomic"
)

// worker is one cooperative dispatch loop: either a regular worker,
// which drains its own bound queue first and otherwise steals from the
// pool's global ready queue by priority, or a bind-only worker, created
// via CreateBindOnlyExecutor, which only ever runs tasks pinned to it.
type worker struct {
	id       int32
	bindOnly bool
	pool     *Pool

	bound []*Task // FIFO, tasks with BindWorkerID()==id

	consecutiveHigh int // aging counter, reset whenever a lower band is served
}

// Pool is the executor pool: a set of workers sharing a global,
// priority-ordered ready queue plus per-worker bound queues, and a timer
// thread draining the shared timer heap (see timer.go).
type Pool struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ready  [numPriorities][]*Task
	byID   map[int32]*worker
	nextID atomic.Int32
	closed bool

	timer *timerWheel
}

// Option configures a Pool at construction.
type Option interface {
	apply(*poolConfig)
}

type poolConfig struct {
	workers int
}

type optionFunc func(*poolConfig)

func (f optionFunc) apply(c *poolConfig) { f(c) }

// WithWorkers sets the number of regular (non-bind-only) workers started
// immediately by New. Defaults to 1 if unset or non-positive.
func WithWorkers(n int) Option {
	return optionFunc(func(c *poolConfig) { c.workers = n })
}

// New constructs a Pool and starts its regular workers plus the lazily-
// startable timer thread (see ExplicitStartTimer).
func New(opts ...Option) *Pool {
	cfg := poolConfig{workers: 1}
	for _, o := range opts {
		o.apply(&cfg)
	}
	if cfg.workers <= 0 {
		cfg.workers = 1
	}

	p := &Pool{
		byID: make(map[int32]*worker),
	}
	p.cond = sync.NewCond(&p.mu)
	p.timer = newTimerWheel(p)

	p.CreateExecutor(cfg.workers)
	return p
}

// CreateExecutor adds n regular workers, each assigned a fresh id,
// immediately running their dispatch loops.
func (p *Pool) CreateExecutor(n int) []int32 {
	ids := make([]int32, 0, n)
	for i := 0; i < n; i++ {
		id := p.nextID.Add(1) - 1
		w := &worker{id: id, pool: p}
		p.mu.Lock()
		p.byID[id] = w
		p.mu.Unlock()
		ids = append(ids, id)
		go w.loop()
	}
	return ids
}

// CreateBindOnlyExecutor creates one bind-only worker per id in ids: a
// worker that only ever runs tasks explicitly bound to its id via
// Task.BindToWorker. allowImplicitStart is accepted for interface
// stability but the dispatch loop always starts immediately: goroutines
// are cheap enough that a lazily-started bind-only worker has no
// measurable benefit.
func (p *Pool) CreateBindOnlyExecutor(ids []int32, allowImplicitStart bool) {
	_ = allowImplicitStart
	p.mu.Lock()
	for _, id := range ids {
		w := &worker{id: id, pool: p, bindOnly: true}
		p.byID[id] = w
	}
	p.mu.Unlock()
	for _, id := range ids {
		w := p.byID[id]
		go w.loop()
	}
}

// ReduceExecutor removes a worker by id. Any task already dispatched to
// it completes; any bound queue entries are migrated to the global
// ready queue if the worker wasn't bind-only, otherwise dropped back to
// wait for a replacement worker with the same id.
func (p *Pool) ReduceExecutor(id int32) {
	p.mu.Lock()
	w, ok := p.byID[id]
	if !ok {
		p.mu.Unlock()
		return
	}
	delete(p.byID, id)
	leftover := w.bound
	w.bound = nil
	if !w.bindOnly {
		for _, t := range leftover {
			p.submitLocked(t)
		}
	}
	p.mu.Unlock()
	p.cond.Broadcast()
}

// TotalExecutors returns the current worker count.
func (p *Pool) TotalExecutors() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}

// Shutdown stops accepting new dispatch and wakes every idle worker loop
// so they exit.
func (p *Pool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.cond.Broadcast()
	p.timer.stop()
}

func (p *Pool) submit(t *Task) {
	p.mu.Lock()
	p.submitLocked(t)
	p.mu.Unlock()
	p.cond.Broadcast()
}

func (p *Pool) submitLocked(t *Task) {
	if t.bindWorkerID != BindAny {
		if w, ok := p.byID[t.bindWorkerID]; ok {
			w.bound = append(w.bound, t)
			return
		}
	}
	p.ready[t.priority] = append(p.ready[t.priority], t)
}

// wake re-admits a task so it resumes at (or before reaching) its next
// park. It is the mechanism every timeout/notify/cancel/IO-completion
// path uses to hand a task back to the scheduler. The wake permit is
// latched: if the task is parked the waker claims it and submits it to a
// ready queue; if it is still running, the latch alone is enough — the
// task's next suspend consumes it and self-resumes. Concurrent wakes
// coalesce into one permit, so a task is never submitted twice for one
// park.
func (p *Pool) wake(t *Task) {
	if t.state.IsEnded() {
		return
	}
	if !t.wakePending.CompareAndSwap(false, true) {
		return
	}
	if t.parked.CompareAndSwap(true, false) {
		p.submit(t)
	}
}

func (w *worker) loop() {
	for {
		t := w.next()
		if t == nil {
			return
		}
		t.resume()
		<-t.parkedCh
	}
}

// next blocks until a task is available for w, or the pool is shut down
// or w has been removed by ReduceExecutor (returning nil).
func (w *worker) next() *Task {
	p := w.pool
	p.mu.Lock()
	defer p.mu.Unlock()
	for {
		if p.byID[w.id] != w {
			return nil
		}
		if len(w.bound) > 0 {
			t := w.bound[0]
			w.bound = w.bound[1:]
			return t
		}
		if !w.bindOnly {
			if t := p.popGlobalLocked(w); t != nil {
				return t
			}
		}
		if p.closed {
			return nil
		}
		p.cond.Wait()
	}
}

// popGlobalLocked selects the next task from the global ready queue
// using strict priority order with aging: after maxConsecutiveHighPriority
// consecutive dispatches drawn from a band other than the lowest
// non-empty one, the next dispatch is forced from the lowest non-empty
// band to avoid starving it. Callers must hold p.mu.
func (p *Pool) popGlobalLocked(w *worker) *Task {
	lowestNonEmpty := -1
	for i := len(priorityOrder) - 1; i >= 0; i-- {
		if len(p.ready[priorityOrder[i]]) > 0 {
			lowestNonEmpty = i
			break
		}
	}
	if lowestNonEmpty < 0 {
		return nil
	}

	idx := 0
	if w.consecutiveHigh >= maxConsecutiveHighPriority && lowestNonEmpty > 0 {
		idx = lowestNonEmpty
	} else {
		for i, pr := range priorityOrder {
			if len(p.ready[pr]) > 0 {
				idx = i
				break
			}
		}
	}

	pr := priorityOrder[idx]
	q := p.ready[pr]
	t := q[0]
	p.ready[pr] = q[1:]

	if idx == lowestNonEmpty {
		w.consecutiveHigh = 0
	} else {
		w.consecutiveHigh++
	}
	return t
}
