// Package value implements Item, the runtime's tagged polymorphic value:
// the type every fiber argument, yield, and return flows through.
package value

import (
	"fmt"
	"math"
	"strconv"

	"github.com/joeycumines/attacha-rt/errs"
)

// Kind identifies which variant an Item currently holds.
type Kind uint8

const (
	KindNone Kind = iota
	KindBool
	KindInt8
	KindInt16
	KindInt32
	KindInt64
	KindUint8
	KindUint16
	KindUint32
	KindUint64
	KindFloat32
	KindFloat64
	KindString
	KindBytes
	KindStruct
	KindFunc
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindBool:
		return "bool"
	case KindInt8:
		return "int8"
	case KindInt16:
		return "int16"
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindUint8:
		return "uint8"
	case KindUint16:
		return "uint16"
	case KindUint32:
		return "uint32"
	case KindUint64:
		return "uint64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindString:
		return "string"
	case KindBytes:
		return "bytes"
	case KindStruct:
		return "struct"
	case KindFunc:
		return "func"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// FuncRef is a reference to a callable symbol, resolved indirectly through
// a name so that hot-patching can retarget it without invalidating copies
// of the Item that holds it.
type FuncRef struct {
	Symbol string
}

// Item is a tagged union: exactly one of the typed fields is meaningful,
// selected by Kind. Borrowed variants (bytes/struct) carry Owned=false and
// must not be freed or mutated in place by the holder.
type Item struct {
	kind Kind

	boolVal   bool
	intVal    int64
	uintVal   uint64
	floatVal  float64
	stringVal string
	bytesVal  []byte
	structVal StructHandle
	funcVal   FuncRef
	arrayVal  []Item

	// owned is meaningful only for KindBytes and KindStruct: false means
	// this Item does not own the underlying storage (a "borrowed" variant).
	// Clone copies borrowed bytes rather than aliasing them; a struct
	// handle's pointee is never copied.
	owned bool
}

// None is the zero-value, empty Item.
var None = Item{kind: KindNone}

func Bool(v bool) Item { return Item{kind: KindBool, boolVal: v} }

func Int8(v int8) Item   { return Item{kind: KindInt8, intVal: int64(v)} }
func Int16(v int16) Item { return Item{kind: KindInt16, intVal: int64(v)} }
func Int32(v int32) Item { return Item{kind: KindInt32, intVal: int64(v)} }
func Int64(v int64) Item { return Item{kind: KindInt64, intVal: v} }

func Uint8(v uint8) Item   { return Item{kind: KindUint8, uintVal: uint64(v)} }
func Uint16(v uint16) Item { return Item{kind: KindUint16, uintVal: uint64(v)} }
func Uint32(v uint32) Item { return Item{kind: KindUint32, uintVal: uint64(v)} }
func Uint64(v uint64) Item { return Item{kind: KindUint64, uintVal: v} }

func Float32(v float32) Item { return Item{kind: KindFloat32, floatVal: float64(v)} }
func Float64(v float64) Item { return Item{kind: KindFloat64, floatVal: v} }

func String(v string) Item { return Item{kind: KindString, stringVal: v} }

// Bytes constructs an owned byte-array Item: b is copied, so the caller
// retains ownership of the original slice.
func Bytes(b []byte) Item {
	cp := make([]byte, len(b))
	copy(cp, b)
	return Item{kind: KindBytes, bytesVal: cp, owned: true}
}

// BorrowedBytes constructs a byte-array Item that aliases b without
// copying. The caller is responsible for keeping b alive and unmodified
// for the Item's lifetime; Clone will copy out of the borrow.
func BorrowedBytes(b []byte) Item {
	return Item{kind: KindBytes, bytesVal: b, owned: false}
}

// Struct constructs an owned struct-handle Item.
func Struct(vt *VTable, ptr any) Item {
	return Item{kind: KindStruct, structVal: StructHandle{VTable: vt, Ptr: ptr}, owned: true}
}

// BorrowedStruct constructs a struct-handle Item that does not own ptr:
// Destroy will never be invoked through this Item.
func BorrowedStruct(vt *VTable, ptr any) Item {
	return Item{kind: KindStruct, structVal: StructHandle{VTable: vt, Ptr: ptr}, owned: false}
}

func Func(symbol string) Item { return Item{kind: KindFunc, funcVal: FuncRef{Symbol: symbol}} }

// Array constructs a heterogeneous array Item, cloning each element so the
// array owns independent copies.
func Array(items ...Item) Item {
	out := make([]Item, len(items))
	for i, it := range items {
		out[i] = it.Clone()
	}
	return Item{kind: KindArray, arrayVal: out}
}

func (it Item) Kind() Kind { return it.kind }

func (it Item) IsNone() bool { return it.kind == KindNone }

// Owned reports whether this Item owns its underlying storage, for the
// variants where that distinction applies (bytes, struct). Always true
// for value variants (bool, ints, floats, string).
func (it Item) Owned() bool {
	switch it.kind {
	case KindBytes, KindStruct:
		return it.owned
	default:
		return true
	}
}

// Bool returns the bool value, or an invalid-cast error if Kind != KindBool.
func (it Item) Bool() (bool, error) {
	if it.kind != KindBool {
		return false, castError(it.kind, KindBool)
	}
	return it.boolVal, nil
}

// Int returns the item's integer value widened to int64, valid for any
// signed or unsigned integer Kind.
func (it Item) Int() (int64, error) {
	switch it.kind {
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return it.intVal, nil
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return int64(it.uintVal), nil
	default:
		return 0, castError(it.kind, KindInt64)
	}
}

// Uint returns the item's integer value widened to uint64.
func (it Item) Uint() (uint64, error) {
	switch it.kind {
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return it.uintVal, nil
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return uint64(it.intVal), nil
	default:
		return 0, castError(it.kind, KindUint64)
	}
}

// Float returns the item's floating-point value, valid for KindFloat32/64.
func (it Item) Float() (float64, error) {
	switch it.kind {
	case KindFloat32, KindFloat64:
		return it.floatVal, nil
	default:
		return 0, castError(it.kind, KindFloat64)
	}
}

func (it Item) String() (string, error) {
	if it.kind != KindString {
		return "", castError(it.kind, KindString)
	}
	return it.stringVal, nil
}

// Bytes returns the underlying byte slice. If this Item is borrowed, the
// returned slice aliases external storage and must not be retained past
// the lifetime the borrow was made under; use Clone first to be safe.
func (it Item) Bytes() ([]byte, error) {
	if it.kind != KindBytes {
		return nil, castError(it.kind, KindBytes)
	}
	return it.bytesVal, nil
}

func (it Item) StructHandle() (StructHandle, error) {
	if it.kind != KindStruct {
		return StructHandle{}, castError(it.kind, KindStruct)
	}
	return it.structVal, nil
}

func (it Item) FuncRef() (FuncRef, error) {
	if it.kind != KindFunc {
		return FuncRef{}, castError(it.kind, KindFunc)
	}
	return it.funcVal, nil
}

func (it Item) Array() ([]Item, error) {
	if it.kind != KindArray {
		return nil, castError(it.kind, KindArray)
	}
	return it.arrayVal, nil
}

// Clone returns a fully-owned copy: bytes are copied, arrays are
// recursively cloned, and a struct handle copies its reference (the same
// Ptr, not the pointee) and is marked owned. Value variants are returned as-is
// since Item's non-reference fields are already copy semantics in Go.
func (it Item) Clone() Item {
	switch it.kind {
	case KindBytes:
		cp := make([]byte, len(it.bytesVal))
		copy(cp, it.bytesVal)
		return Item{kind: KindBytes, bytesVal: cp, owned: true}
	case KindStruct:
		// struct handles clone the reference, not the pointee; ownership
		// of the underlying resource is established by whichever clone's
		// Destroy runs last being a no-op for the others is the caller's
		// responsibility via the vtable, mirroring a refcounted handle.
		return Item{kind: KindStruct, structVal: it.structVal, owned: true}
	case KindArray:
		out := make([]Item, len(it.arrayVal))
		for i, child := range it.arrayVal {
			out[i] = child.Clone()
		}
		return Item{kind: KindArray, arrayVal: out}
	default:
		return it
	}
}

// Release invokes the struct handle's Destroy hook, if this Item owns a
// struct handle with one set. It is a no-op for every other variant,
// including borrowed struct handles.
func (it Item) Release() {
	if it.kind == KindStruct && it.owned && it.structVal.VTable != nil && it.structVal.VTable.Destroy != nil {
		it.structVal.VTable.Destroy(it.structVal.Ptr)
	}
}

// GoString renders the Item for debugging/logging.
func (it Item) GoString() string {
	switch it.kind {
	case KindNone:
		return "none"
	case KindBool:
		return strconv.FormatBool(it.boolVal)
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return strconv.FormatInt(it.intVal, 10)
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return strconv.FormatUint(it.uintVal, 10)
	case KindFloat32, KindFloat64:
		return strconv.FormatFloat(it.floatVal, 'g', -1, 64)
	case KindString:
		return strconv.Quote(it.stringVal)
	case KindBytes:
		return fmt.Sprintf("bytes[%d]", len(it.bytesVal))
	case KindStruct:
		name := "?"
		if it.structVal.VTable != nil {
			name = it.structVal.VTable.TypeName
		}
		return fmt.Sprintf("struct<%s>", name)
	case KindFunc:
		return fmt.Sprintf("func(%s)", it.funcVal.Symbol)
	case KindArray:
		return fmt.Sprintf("array[%d]", len(it.arrayVal))
	default:
		return "invalid"
	}
}

func castError(have, want Kind) error {
	return errs.Wrap(errs.KindInvalidCast, "", &CastError{Have: have, Want: want})
}

// CastError reports a failed typed accessor call on an Item holding the
// wrong Kind. It is always wrapped in an errs.KindInvalidCast error, so
// callers may classify via errs.Is or dig out the observed/requested
// Kinds via errors.As.
type CastError struct {
	Have, Want Kind
}

func (e *CastError) Error() string {
	return fmt.Sprintf("value: invalid cast: have %s, want %s", e.Have, e.Want)
}

// Equal reports structural equality between two Items of the same Kind.
// Items of differing Kind are never equal, even across numeric variants.
// Struct handles compare equal only if they share the same Ptr identity.
func Equal(a, b Item) bool {
	if a.kind != b.kind {
		return false
	}
	switch a.kind {
	case KindNone:
		return true
	case KindBool:
		return a.boolVal == b.boolVal
	case KindInt8, KindInt16, KindInt32, KindInt64:
		return a.intVal == b.intVal
	case KindUint8, KindUint16, KindUint32, KindUint64:
		return a.uintVal == b.uintVal
	case KindFloat32, KindFloat64:
		if math.IsNaN(a.floatVal) || math.IsNaN(b.floatVal) {
			return false
		}
		return a.floatVal == b.floatVal
	case KindString:
		return a.stringVal == b.stringVal
	case KindBytes:
		if len(a.bytesVal) != len(b.bytesVal) {
			return false
		}
		for i := range a.bytesVal {
			if a.bytesVal[i] != b.bytesVal[i] {
				return false
			}
		}
		return true
	case KindStruct:
		return a.structVal.Ptr == b.structVal.Ptr
	case KindFunc:
		return a.funcVal.Symbol == b.funcVal.Symbol
	case KindArray:
		if len(a.arrayVal) != len(b.arrayVal) {
			return false
		}
		for i := range a.arrayVal {
			if !Equal(a.arrayVal[i], b.arrayVal[i]) {
				return false
			}
		}
		return true
	default:
		return false
	}
}
