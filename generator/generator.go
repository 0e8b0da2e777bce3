// Package generator implements a stackful, synchronous coroutine used to
// produce an ordered sequence of value.Item results. Unlike scheduler.Task,
// a Generator is not scheduled by an executor pool, and is not task-safe:
// it runs on a dedicated goroutine handed off one at a time to whichever
// goroutine calls Next, mirroring a single stack of control that
// alternates between producer and consumer — the same handoff idiom
// scheduler.Task uses between a worker and the task's own goroutine (see
// scheduler/task.go's resumeCh/parkedCh pair), but independent of any
// Pool and intended for single-thread iterator use.
package generator

import (
	"fmt"

	"github.com/joeycumines/attacha-rt/value"
)

// Func is the body of a Generator. It receives the Generator itself (so
// it can call Yield) and the argument passed to New, and returns the
// final value passed to an implicit return_.
type Func func(g *Generator, arg value.Item) (value.Item, error)

// Generator is a single-producer, single-consumer coroutine: callers
// drive it via Next, the body drives it via Yield. Not safe for
// concurrent use by multiple consumer goroutines.
type Generator struct {
	fn       Func
	arg      value.Item
	resumeCh chan struct{}
	yieldCh  chan yieldMsg
	started  bool
	done     bool
}

type yieldMsg struct {
	v    value.Item
	done bool
	err  error
}

// New constructs a Generator that will run fn(g, arg) on first Next call.
func New(fn Func, arg value.Item) *Generator {
	if fn == nil {
		panic("generator: nil Func")
	}
	return &Generator{
		fn:       fn,
		arg:      arg,
		resumeCh: make(chan struct{}),
		yieldCh:  make(chan yieldMsg),
	}
}

// Yield suspends the generator body, handing v to the waiting Next call
// as the next element of the sequence, and blocks until the next Next
// call resumes it. Must only be called from within the Func running on
// this Generator's own goroutine.
func (g *Generator) Yield(v value.Item) {
	g.yieldCh <- yieldMsg{v: v}
	<-g.resumeCh
}

// Next resumes the generator (starting it, on the first call) and blocks
// until it yields again or returns (return_). ok is false once the
// generator has run to completion; in that case v is the value passed to
// return_, and err is the error the body returned, if any. A panic raised
// inside the body carrying an error is recovered and surfaced as err on
// the terminating Next call (the "back_unwind" propagation); a panic
// carrying a non-error value is wrapped via fmt.Errorf. Generator
// iteration is total: calling Next again after completion returns a zero
// value.Item, ok=false, err=nil — the "no more values" steady state — so
// any error is surfaced exactly once, on the terminating call.
func (g *Generator) Next() (v value.Item, ok bool, err error) {
	if g.done {
		return value.Item{}, false, nil
	}
	if !g.started {
		g.started = true
		go g.run()
	} else {
		g.resumeCh <- struct{}{}
	}
	msg := <-g.yieldCh
	if msg.done {
		g.done = true
		return msg.v, false, msg.err
	}
	return msg.v, true, nil
}

// Done reports whether the generator has run to completion.
func (g *Generator) Done() bool { return g.done }

func (g *Generator) run() {
	defer func() {
		if r := recover(); r != nil {
			err, ok := r.(error)
			if !ok {
				err = fmt.Errorf("generator: panic: %v", r)
			}
			g.yieldCh <- yieldMsg{done: true, err: err}
		}
	}()
	v, err := g.fn(g, g.arg)
	g.yieldCh <- yieldMsg{v: v, done: true, err: err}
}

// Collect drains the generator to completion, returning every yielded
// value in order, the return_ value, and the terminal error, if any.
func Collect(g *Generator) (yielded []value.Item, last value.Item, err error) {
	for {
		v, ok, e := g.Next()
		if e != nil {
			return yielded, value.Item{}, e
		}
		if !ok {
			return yielded, v, nil
		}
		yielded = append(yielded, v)
	}
}

// Iterate drains the generator, calling fn with each yielded value until
// fn returns false or the generator completes. Returns the terminal
// error, if any.
func Iterate(g *Generator, fn func(v value.Item) bool) error {
	for {
		v, ok, err := g.Next()
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		if !fn(v) {
			return nil
		}
	}
}
