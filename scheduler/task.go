package scheduler

import (
	"sync/atomic"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/value"
)

// BindAny is the bind_to_worker_id sentinel meaning "any worker".
const BindAny int32 = -1

const (
	flagTimeEnd    uint32 = 1 << iota // wake was caused by a timeout firing
	flagAwaked                        // a wake has been scheduled for this task
	flagYieldMode                     // task runs in generator-like yield mode
	flagMakeCancel                    // cancellation has been requested
)

// Func is a Task's body. It receives the owning Task (for suspension
// calls: Yield, CheckCancellation, relock access) and its argument,
// returning a final value or error.
type Func func(t *Task, arg value.Item) (value.Item, error)

// ExceptionHandler optionally intercepts an error raised inside a Task's
// body, returning a replacement value to use as the final result instead
// of propagating the error. ok=false re-raises err unchanged.
type ExceptionHandler func(t *Task, err error) (value.Item, bool)

// Task is a cooperatively-scheduled unit of work: a function reference,
// an argument, an optional exception handler, a Result, and the
// scheduling metadata (priority, binding, timeout, cancellation
// generation, state) described in the data model.
type Task struct {
	id     uint64
	fn     Func
	arg    value.Item
	onErr  ExceptionHandler
	result *Result

	relock relockSlots

	priority       Priority
	bindWorkerID   int32
	autoBindWorker bool

	timeoutNanos atomic.Int64 // unix-nano deadline; 0 = none
	awakeCheck   atomic.Uint64
	flags        atomic.Uint32
	state        *fastState

	// parked is true while the task's goroutine is (or is committed to
	// becoming) blocked in the suspend handshake. A waker that CASes it
	// true->false has claimed the task and must submit it to a ready
	// queue; see Pool.wake.
	parked atomic.Bool
	// wakePending is the latched wake permit: set by Pool.wake, consumed
	// exactly once per resume. A wake arriving while the task is still
	// running latches here and is honored by the next suspend, which
	// closes the window where a cancellation (or any other wake) lands
	// between a caller deciding to park and the park taking effect.
	wakePending atomic.Bool

	local atomic.Pointer[any]

	// raisedCancel is the Cancellation most recently raised by
	// CheckCancellation, accessed only from the task's own goroutine. It
	// lets the fiber boundary detect a cancellation that user code
	// recovered and then dropped without acknowledging.
	raisedCancel *errs.Cancellation

	pool *Pool

	// resumeCh is sent on by a worker to let the task's goroutine proceed
	// past Start or a suspend point. parkedCh is sent on by the task's
	// goroutine to hand the worker back once it suspends or ends — at
	// most one worker is ever "inside" a task between a resumeCh send and
	// the matching parkedCh send, which is what enforces "at most one
	// fiber running" without a separate admission semaphore.
	resumeCh chan struct{}
	parkedCh chan struct{}
	doneCh   chan struct{}
}

var taskIDs atomic.Uint64

// NewTask constructs a Task bound to pool, not yet started. fn is run on
// Start. priority defaults to PriorityNormal and binding to BindAny if
// left zero-valued by the caller; use SetPriority, BindToWorker and
// SetExceptionHandler to override before Start.
func NewTask(pool *Pool, fn Func, arg value.Item) *Task {
	t := &Task{
		id:             taskIDs.Add(1),
		fn:             fn,
		arg:            arg,
		result:         NewResult(),
		priority:       PriorityNormal,
		bindWorkerID:   BindAny,
		autoBindWorker: true,
		state:          newFastState(),
		pool:           pool,
		resumeCh:       make(chan struct{}),
		parkedCh:       make(chan struct{}),
		doneCh:         make(chan struct{}),
	}
	return t
}

func (t *Task) ID() uint64        { return t.id }
func (t *Task) Priority() Priority { return t.priority }
func (t *Task) BindWorkerID() int32 { return t.bindWorkerID }
func (t *Task) AutoBindWorker() bool { return t.autoBindWorker }
func (t *Task) State() TaskState    { return t.state.Load() }
func (t *Task) Result() *Result     { return t.result }
func (t *Task) AwakeCheck() uint64  { return t.awakeCheck.Load() }

// SetPriority must be called before Start.
func (t *Task) SetPriority(p Priority) *Task {
	t.priority = p
	return t
}

// BindToWorker pins the task to a specific worker id. auto=false forbids
// later re-binding (auto_bind_worker=false ∧ bind_to_worker_id≠ANY).
func (t *Task) BindToWorker(workerID int32, auto bool) *Task {
	t.bindWorkerID = workerID
	t.autoBindWorker = auto
	return t
}

// SetExceptionHandler installs a handler invoked if fn returns an error.
func (t *Task) SetExceptionHandler(h ExceptionHandler) *Task {
	t.onErr = h
	return t
}

// TaskLocal returns the task-local environment pointer, or nil if unset.
func (t *Task) TaskLocal() any {
	p := t.local.Load()
	if p == nil {
		return nil
	}
	return *p
}

// SetTaskLocal installs a task-local environment pointer.
func (t *Task) SetTaskLocal(v any) {
	t.local.Store(&v)
}

// Start transitions created→started, handing the task to the pool's
// admission/dispatch machinery. Start may be called only once.
func (t *Task) Start() {
	if !t.state.TryTransition(StateCreated, StateStarted) {
		return
	}
	t.pool.submit(t)
	go t.run()
}

func (t *Task) run() {
	<-t.resumeCh // wait for a worker to grant this task its first turn
	t.state.Store(StateRunning)

	defer close(t.doneCh)

	v, err := t.invoke()

	t.state.Store(StateEnded)
	t.result.Final(v, err)
	t.parkedCh <- struct{}{} // hand the worker back, permanently
}

func (t *Task) invoke() (v value.Item, err error) {
	defer func() {
		if r := recover(); r != nil {
			if c, ok := r.(*errs.Cancellation); ok {
				// The fiber boundary is the catch of last resort: recording
				// the cancellation as the task's final error lands it.
				c.Acknowledge()
				err = c
				return
			}
			panic(r)
		}
	}()

	v, err = t.fn(t, t.arg)
	if c := t.raisedCancel; c != nil && !c.Acknowledged() && !errs.IsCancellation(err) {
		// fn recovered the cancellation itself, returned normally, and
		// never called Acknowledge: the cancellation was silently
		// swallowed, which must not go unobserved.
		panic(c)
	}
	if err != nil && t.onErr != nil {
		if replacement, ok := t.onErr(t, err); ok {
			return replacement, nil
		}
	}
	return v, err
}

// suspend hands the current worker back to the pool and blocks the
// calling goroutine until some wake path (pool.wake, a timer, a sync
// primitive, notify_cancel) re-admits the task and a worker resumes it.
// It is the single mechanism every public suspension point (Yield,
// AwaitTask, lock/wait, sleep, async I/O) funnels through.
//
// A wake that arrived while the task was still running is latched in
// wakePending; suspend consumes it and returns immediately on the same
// worker turn instead of parking, so a wake can never be lost between a
// caller deciding to park and the park taking effect. Consequently a
// resume may be "early" relative to the event its caller is waiting
// for; every caller re-checks its own condition in a loop.
func (t *Task) suspend() {
	t.state.Store(StateSuspended)
	t.parked.Store(true)
	if t.wakePending.Load() && t.parked.CompareAndSwap(true, false) {
		t.wakePending.Store(false)
		t.state.Store(StateRunning)
		return
	}
	t.parkedCh <- struct{}{}
	<-t.resumeCh
	t.wakePending.Store(false)
	t.state.Store(StateRunning)
}

// requeue parks the task and immediately re-submits it to the ready
// queue, so other ready work gets a turn before it resumes. Used by
// Yield; a plain suspend+wake pair would self-resume via the wake latch
// without ever releasing the worker.
func (t *Task) requeue() {
	t.state.Store(StateSuspended)
	t.parked.Store(true)
	if t.parked.CompareAndSwap(true, false) {
		t.pool.submit(t)
	}
	t.parkedCh <- struct{}{}
	<-t.resumeCh
	t.wakePending.Store(false)
	t.state.Store(StateRunning)
}

// resume grants the task a fresh turn. Only a worker's dispatch loop,
// after pulling this task from a ready queue, should call this.
func (t *Task) resume() {
	t.resumeCh <- struct{}{}
}

// Done returns a channel closed when the task has fully exited.
func (t *Task) Done() <-chan struct{} {
	return t.doneCh
}

// setFlag and clearFlag atomically OR/AND-NOT a bit into a flags word via
// a CAS loop, avoiding a dependency on atomic bitwise helpers that vary
// across Go versions.
func setFlag(flags *atomic.Uint32, mask uint32) {
	for {
		old := flags.Load()
		if old&mask != 0 {
			return
		}
		if flags.CompareAndSwap(old, old|mask) {
			return
		}
	}
}

func clearFlag(flags *atomic.Uint32, mask uint32) {
	for {
		old := flags.Load()
		if old&mask == 0 {
			return
		}
		if flags.CompareAndSwap(old, old&^mask) {
			return
		}
	}
}

// CheckCancellation panics with *errs.Cancellation if cancellation has
// been requested. Callers at a suspension point should call this and
// let it propagate; it is caught via recover in Task.invoke and
// observed by awaiters via Result.Err.
func (t *Task) CheckCancellation() {
	if t.flags.Load()&flagMakeCancel != 0 {
		c := errs.NewCancellation("notify_cancel")
		t.raisedCancel = c
		panic(c)
	}
}
