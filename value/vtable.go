package value

import (
	"sort"
	"sync"

	"github.com/joeycumines/attacha-rt/errs"
)

// Method is one dynamically-dispatched operation on a struct handle:
// self is the handle's opaque pointer, args are the call arguments.
type Method func(self any, args ...Item) (Item, error)

// VTable describes the operations available on a struct handle's opaque
// pointer. A table is either static (its method set is baked at
// construction and immutable, NewStaticVTable) or dynamic (methods may
// be added and removed at any time, NewDynamicVTable). Mutating a static
// table fails with KindInvalidOperation.
//
// The zero value, and a composite literal setting only TypeName/Destroy,
// is a static table with no methods.
type VTable struct {
	// TypeName names the struct type, for diagnostics and invalid_cast messages.
	TypeName string
	// Destroy releases any resources owned by ptr. Item.Release calls it
	// on each Release of an owned struct handle; clones are not counted.
	// May be nil.
	Destroy func(ptr any)

	dynamic bool
	mu      sync.RWMutex
	methods map[string]Method
}

// NewStaticVTable constructs an immutable VTable with the given method
// set. The map is copied; later changes by the caller are not observed.
func NewStaticVTable(typeName string, methods map[string]Method, destroy func(ptr any)) *VTable {
	vt := &VTable{TypeName: typeName, Destroy: destroy}
	if len(methods) > 0 {
		vt.methods = make(map[string]Method, len(methods))
		for name, m := range methods {
			vt.methods[name] = m
		}
	}
	return vt
}

// NewDynamicVTable constructs a mutable VTable with an initially empty
// method set.
func NewDynamicVTable(typeName string, destroy func(ptr any)) *VTable {
	return &VTable{
		TypeName: typeName,
		Destroy:  destroy,
		dynamic:  true,
		methods:  make(map[string]Method),
	}
}

// Dynamic reports whether the table's method set may be mutated.
func (vt *VTable) Dynamic() bool { return vt.dynamic }

// Method returns the named method, if bound.
func (vt *VTable) Method(name string) (Method, bool) {
	if vt.dynamic {
		vt.mu.RLock()
		defer vt.mu.RUnlock()
	}
	m, ok := vt.methods[name]
	return m, ok
}

// Methods returns the bound method names, sorted.
func (vt *VTable) Methods() []string {
	if vt.dynamic {
		vt.mu.RLock()
		defer vt.mu.RUnlock()
	}
	names := make([]string, 0, len(vt.methods))
	for name := range vt.methods {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// AddMethod binds name to m, replacing any prior binding. Fails with
// KindInvalidOperation on a static table.
func (vt *VTable) AddMethod(name string, m Method) error {
	if !vt.dynamic {
		return errs.New(errs.KindInvalidOperation, "value: vtable for "+vt.TypeName+" is static")
	}
	vt.mu.Lock()
	vt.methods[name] = m
	vt.mu.Unlock()
	return nil
}

// RemoveMethod unbinds name. Fails with KindInvalidOperation on a static
// table; removing a name that was never bound is a no-op.
func (vt *VTable) RemoveMethod(name string) error {
	if !vt.dynamic {
		return errs.New(errs.KindInvalidOperation, "value: vtable for "+vt.TypeName+" is static")
	}
	vt.mu.Lock()
	delete(vt.methods, name)
	vt.mu.Unlock()
	return nil
}

// StructHandle is an opaque pointer paired with its dynamic-dispatch table.
type StructHandle struct {
	VTable *VTable
	Ptr    any
}

// CallMethod dispatches the named method against the Item's struct
// handle. Non-struct Items fail with an invalid cast; a struct handle
// with no table, or no such method, fails with KindInvalidOperation.
func (it Item) CallMethod(name string, args ...Item) (Item, error) {
	if it.kind != KindStruct {
		return Item{}, castError(it.kind, KindStruct)
	}
	vt := it.structVal.VTable
	if vt == nil {
		return Item{}, errs.New(errs.KindInvalidOperation, "value: struct handle has no vtable")
	}
	m, ok := vt.Method(name)
	if !ok {
		return Item{}, errs.New(errs.KindInvalidOperation, "value: type "+vt.TypeName+" has no method "+name)
	}
	return m(it.structVal.Ptr, args...)
}

// TypeRegistry maps type names to their VTables, so struct handles can be
// constructed by name and so hot-patched code observes one table per
// type. Lookups take a read lock; Attach/Detach take the write lock.
type TypeRegistry struct {
	mu    sync.RWMutex
	types map[string]*VTable
}

// NewTypeRegistry constructs an empty TypeRegistry.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{types: make(map[string]*VTable)}
}

// Attach registers vt under its TypeName. Registering a name twice fails
// with KindBadClassDeclaration; Detach first to replace a table.
func (r *TypeRegistry) Attach(vt *VTable) error {
	if vt == nil || vt.TypeName == "" {
		return errs.New(errs.KindBadClassDeclaration, "value: vtable must carry a type name")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.types[vt.TypeName]; ok {
		return errs.New(errs.KindBadClassDeclaration, "value: type already declared: "+vt.TypeName)
	}
	r.types[vt.TypeName] = vt
	return nil
}

// Lookup returns the VTable registered under name, if any.
func (r *TypeRegistry) Lookup(name string) (*VTable, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	vt, ok := r.types[name]
	return vt, ok
}

// Detach removes the VTable registered under name. Outstanding struct
// handles keep their table; only name-based construction is affected.
func (r *TypeRegistry) Detach(name string) {
	r.mu.Lock()
	delete(r.types, name)
	r.mu.Unlock()
}
