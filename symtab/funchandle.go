package symtab

import (
	"sync"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/value"
)

// FuncHandle is a named, hot-swappable indirection to an InnerHandle: the
// stable object other code (symbol tables, cached call sites) holds onto,
// while the Registry atomically swaps which InnerHandle it currently
// resolves to.
type FuncHandle struct {
	Symbol string

	mu      sync.RWMutex
	current *InnerHandle
}

func newFuncHandle(symbol string) *FuncHandle {
	return &FuncHandle{Symbol: symbol}
}

// Call invokes the currently-resolved InnerHandle, if any. The handle is
// acquired (refcount) for the duration of the call so a concurrent
// Registry.Unload/fastHotPatch cannot invalidate it mid-invocation.
func (f *FuncHandle) Call(args ...value.Item) (value.Item, error) {
	f.mu.RLock()
	h := f.current
	if h != nil {
		h.acquire()
	}
	f.mu.RUnlock()

	if h == nil {
		return value.Item{}, errs.New(errs.KindLibraryFunctionNotFound, "unresolved symbol: "+f.Symbol)
	}
	defer h.release()
	return h.Invoke(args...)
}

// Resolved reports whether the symbol currently resolves to a definition.
func (f *FuncHandle) Resolved() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current != nil
}

// swap installs h as the current InnerHandle, returning whichever
// InnerHandle it displaced (nil if none).
func (f *FuncHandle) swap(h *InnerHandle) *InnerHandle {
	f.mu.Lock()
	old := f.current
	f.current = h
	f.mu.Unlock()
	return old
}
