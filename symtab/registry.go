// Package symtab implements the runtime's symbol registry: a map from
// exported symbol name to a refcounted, hot-swappable FuncHandle, plus
// the PatchList staging type and precompiled bytecode decoder used to
// drive it from the watch package's folder-watch pipeline.
package symtab

import (
	"sync"

	"github.com/joeycumines/attacha-rt/value"
)

// Registry is the symbol table: name -> FuncHandle. Readers (Lookup,
// Call) take a read lock; PatchList.Apply takes a write lock per symbol
// operation. A symbol is bound to at most one
// InnerHandle at any moment; readers observe either the pre- or the
// post-patch binding, never a torn state, because FuncHandle.swap itself
// holds its own lock independent of the Registry's.
type Registry struct {
	mu      sync.RWMutex
	symbols map[string]*FuncHandle
}

// NewRegistry constructs an empty symbol registry.
func NewRegistry() *Registry {
	return &Registry{symbols: make(map[string]*FuncHandle)}
}

// Lookup returns the FuncHandle for name, creating an unresolved one if
// this is the first time name has been mentioned (by a patch or a
// lookup): referencing an as-yet-undefined symbol is not itself an
// error; calling through an unresolved handle is.
func (r *Registry) Lookup(name string) *FuncHandle {
	r.mu.RLock()
	h, ok := r.symbols[name]
	r.mu.RUnlock()
	if ok {
		return h
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if h, ok = r.symbols[name]; ok {
		return h
	}
	h = newFuncHandle(name)
	r.symbols[name] = h
	return h
}

// Resolved reports whether name currently resolves to a definition,
// without creating an entry as a side effect.
func (r *Registry) Resolved(name string) bool {
	r.mu.RLock()
	h, ok := r.symbols[name]
	r.mu.RUnlock()
	return ok && h.Resolved()
}

// Call resolves name and invokes it, returning
// errs.KindLibraryFunctionNotFound if unresolved.
func (r *Registry) Call(name string, args ...value.Item) (value.Item, error) {
	return r.Lookup(name).Call(args...)
}

// fastHotPatch atomically swaps name's bound InnerHandle for h, returning
// whichever InnerHandle it displaced so the caller can release it once
// in-flight callers have finished with it.
func (r *Registry) fastHotPatch(name string, h *InnerHandle) *InnerHandle {
	return r.Lookup(name).swap(h)
}

// Unload removes name's binding entirely: future Call/Lookup.Call
// attempts fail with KindLibraryFunctionNotFound until something patches
// it again. The returned InnerHandle (if any) is the one displaced.
func (r *Registry) Unload(name string) *InnerHandle {
	return r.Lookup(name).swap(nil)
}
