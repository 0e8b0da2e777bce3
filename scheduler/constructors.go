package scheduler

import "github.com/joeycumines/attacha-rt/value"

// Completed constructs a Task already at end-of-life with v as its sole
// result: useful where an API expects a Task but the value is already
// known synchronously.
func Completed(pool *Pool, v value.Item) *Task {
	t := NewTask(pool, func(_ *Task, arg value.Item) (value.Item, error) {
		return arg, nil
	}, v)
	t.state.Store(StateEnded)
	close(t.doneCh)
	t.result.Final(v, nil)
	return t
}

// CompletedErr constructs a Task already at end-of-life carrying err as
// its terminal error.
func CompletedErr(pool *Pool, err error) *Task {
	t := NewTask(pool, func(_ *Task, _ value.Item) (value.Item, error) {
		return value.None, err
	}, value.None)
	t.state.Store(StateEnded)
	close(t.doneCh)
	t.result.Final(value.None, err)
	return t
}

// NativeBridge bridges a caller not itself running on the scheduler (a
// plain goroutine, or a callback fired from outside) into the wake
// machinery: fn is invoked synchronously on a fresh goroutine and the
// returned Task completes once fn returns, letting non-fiber code
// produce a value the scheduler's await/get_result surface can consume
// uniformly.
func NativeBridge(pool *Pool, fn func() (value.Item, error)) *Task {
	t := NewTask(pool, func(_ *Task, _ value.Item) (value.Item, error) {
		return fn()
	}, value.None)
	t.state.Store(StateStarted)
	go func() {
		defer close(t.doneCh)
		t.state.Store(StateRunning)
		v, err := fn()
		t.state.Store(StateEnded)
		t.result.Final(v, err)
	}()
	return t
}
