package symtab

import (
	"fmt"
	"sync"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/watch"
)

// PatchList is a staged symbol-name -> InnerHandle-or-nil mapping applied
// atomically against a Registry. It implements watch.Patch, so a
// language handler (see PrecompiledHandler) can hand one back from every
// watch.Handler method.
type PatchList struct {
	registry *Registry

	mu     sync.Mutex
	staged map[string]*InnerHandle // nil value = staged unload
	order  []string                // preserves first-staged order so Apply is deterministic
}

// NewPatchList constructs an empty PatchList bound to registry.
func NewPatchList(registry *Registry) *PatchList {
	return &PatchList{registry: registry, staged: make(map[string]*InnerHandle)}
}

// AddPatch stages name to resolve to h once applied. Staging the same
// name with a second non-nil handle fails: a compilation unit may define
// a symbol only once, and PatchList enforces that defensively for
// callers that aggregate patches from multiple files into one round.
func (p *PatchList) AddPatch(name string, h *InnerHandle) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.staged[name]; ok && existing != nil && h != nil {
		return errs.New(errs.KindSymbol, fmt.Sprintf("symbol must be defined once: %s", name))
	}
	if _, ok := p.staged[name]; !ok {
		p.order = append(p.order, name)
	}
	p.staged[name] = h
	return nil
}

// Remove unstages name, as though it had never been added to this
// PatchList.
func (p *PatchList) Remove(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.staged[name]; !ok {
		return
	}
	delete(p.staged, name)
	for i, n := range p.order {
		if n == name {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Discard clears every staged entry without applying them, releasing
// each staged InnerHandle.
func (p *PatchList) Discard() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, h := range p.staged {
		if h != nil {
			h.release()
		}
	}
	p.staged = make(map[string]*InnerHandle)
	p.order = nil
}

// Len reports how many entries are currently staged.
func (p *PatchList) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.staged)
}

// Apply iterates every staged entry and either hot-patches or unloads
// the corresponding Registry symbol, then clears the staged set. Each
// individual symbol's swap is atomic (FuncHandle.swap takes its own
// lock), so concurrent readers never observe a torn binding for any one
// symbol.
func (p *PatchList) Apply() error {
	p.mu.Lock()
	order := p.order
	staged := p.staged
	p.staged = make(map[string]*InnerHandle)
	p.order = nil
	p.mu.Unlock()

	for _, name := range order {
		h := staged[name]
		if h != nil {
			old := p.registry.fastHotPatch(name, h)
			if old != nil {
				old.release()
			}
		} else {
			old := p.registry.Unload(name)
			if old != nil {
				old.release()
			}
		}
	}
	return nil
}

// Merge folds other's staged entries into p. other must itself be a
// *PatchList (the watch.Patch contract's "homogeneous patches"
// requirement) sharing the same Registry.
func (p *PatchList) Merge(other watch.Patch) {
	o, ok := other.(*PatchList)
	if !ok {
		panic(fmt.Sprintf("symtab: PatchList.Merge given incompatible Patch %T", other))
	}

	o.mu.Lock()
	entries := make([]string, len(o.order))
	copy(entries, o.order)
	staged := make(map[string]*InnerHandle, len(o.staged))
	for k, v := range o.staged {
		staged[k] = v
	}
	o.mu.Unlock()

	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range entries {
		if _, ok := p.staged[name]; !ok {
			p.order = append(p.order, name)
		}
		p.staged[name] = staged[name]
	}
}

var _ watch.Patch = (*PatchList)(nil)
