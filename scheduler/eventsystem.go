package scheduler

import (
	"sync"

	"github.com/joeycumines/attacha-rt/value"
)

// Handler is a function reference subscribed to an EventSystem.
type Handler func(v value.Item) value.Item

// EventSystem is a priority-banded publish/subscribe registry of
// function references, delivering synchronously (Notify), blocking until
// one handler returns a non-none value (AwaitNotify), or fire-and-forget
// asynchronously, backed by a Task per handler (AsyncNotify).
type EventSystem struct {
	pool *Pool

	mu        sync.RWMutex
	handlers  [numPriorities][]Handler
}

// NewEventSystem constructs an empty EventSystem. pool backs AsyncNotify.
func NewEventSystem(pool *Pool) *EventSystem {
	return &EventSystem{pool: pool}
}

// Join subscribes h at the given priority.
func (e *EventSystem) Join(p Priority, h Handler) {
	e.mu.Lock()
	e.handlers[p] = append(e.handlers[p], h)
	e.mu.Unlock()
}

// Leave removes the handler at position idx of priority p's band,
// counting in Join order; later handlers in that band shift down by one.
// Removal is by index because func values are not comparable, so handler
// identity cannot be established after the fact.
func (e *EventSystem) Leave(p Priority, idx int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	hs := e.handlers[p]
	if idx < 0 || idx >= len(hs) {
		return
	}
	e.handlers[p] = append(hs[:idx], hs[idx+1:]...)
}

// Notify walks priority high→low, invoking every handler synchronously
// with v, returning the last handler's return value (or value.None if
// there were no handlers).
func (e *EventSystem) Notify(v value.Item) value.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()

	result := value.None
	for _, p := range priorityOrder {
		for _, h := range e.handlers[p] {
			result = h(v)
		}
	}
	return result
}

// AwaitNotify walks priority high→low, stopping at (and returning) the
// first handler whose return value is not none.
func (e *EventSystem) AwaitNotify(v value.Item) value.Item {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range priorityOrder {
		for _, h := range e.handlers[p] {
			if result := h(v); !result.IsNone() {
				return result
			}
		}
	}
	return value.None
}

// AsyncNotify fires every handler, high→low, each as its own Task, not
// waiting for any of them to complete.
func (e *EventSystem) AsyncNotify(v value.Item) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, p := range priorityOrder {
		for _, h := range e.handlers[p] {
			h := h
			t := NewTask(e.pool, func(_ *Task, arg value.Item) (value.Item, error) {
				return h(arg), nil
			}, v)
			t.Start()
		}
	}
}

// Clear removes every handler at every priority.
func (e *EventSystem) Clear() {
	e.mu.Lock()
	for i := range e.handlers {
		e.handlers[i] = nil
	}
	e.mu.Unlock()
}
