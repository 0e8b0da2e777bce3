// Package symtab implements the runtime's symbol registry: a map from
// exported symbol name to a refcounted, hot-swappable FuncHandle, plus
// the PatchList staging type and precompiled bytecode decoder used to
// drive it from the watch package's folder-watch pipeline.
//
// The managed language an InnerHandle wraps is github.com/dop251/goja:
// a symbol's bytecode is treated as ECMAScript source, compiled once
// into a goja.Program, and invoked by binding a fresh goja.Runtime per
// call (goja.Runtime is not safe for concurrent use).
package symtab

import (
	"fmt"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/value"
)

// InnerHandle is the compiled form of one symbol's definition: a
// goja.Program plus its bookkeeping (cross-compiler version, the
// is_cheap hint, and a reference count shared with every
// PatchList/FuncHandle currently holding it).
type InnerHandle struct {
	Symbol               string
	CrossCompilerVersion string
	IsCheap              bool

	refcount int32 // atomic; starts at 1, owned by whoever compiled it
	program  *goja.Program
}

// CompileInnerHandle compiles source (treated as ECMAScript) into a new
// InnerHandle with a refcount of 1.
func CompileInnerHandle(symbol string, source []byte, crossCompilerVersion string, isCheap bool) (*InnerHandle, error) {
	prog, err := goja.Compile(symbol, string(source), true)
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidIL, "compile symbol "+symbol, err)
	}
	return &InnerHandle{
		Symbol:               symbol,
		CrossCompilerVersion: crossCompilerVersion,
		IsCheap:              isCheap,
		refcount:             1,
		program:              prog,
	}, nil
}

func (h *InnerHandle) acquire() { atomic.AddInt32(&h.refcount, 1) }

// release decrements the refcount. There is no native resource to free once it reaches zero -- the
// compiled goja.Program is reclaimed by the garbage collector once
// unreferenced -- but the count is kept so FuncHandle.Call and PatchList
// staging never invoke a handle concurrently with its own teardown.
func (h *InnerHandle) release() { atomic.AddInt32(&h.refcount, -1) }

// Invoke runs the compiled program on a fresh goja.Runtime (goja.Runtime
// values are not safe for concurrent reuse across calls) and invokes the
// symbol itself as a callable: either the program's own result value, if
// it evaluates directly to a function (an arrow/function expression body),
// or a global of the same name the program defines. A program evaluating
// to a plain value acts as a constant symbol, returned as-is on a
// zero-argument call.
func (h *InnerHandle) Invoke(args ...value.Item) (value.Item, error) {
	rt := goja.New()
	result, err := rt.RunProgram(h.program)
	if err != nil {
		return value.Item{}, errs.Wrap(errs.KindInvalidFunction, "run symbol "+h.Symbol, err)
	}

	fn, ok := goja.AssertFunction(result)
	if !ok {
		fn, ok = goja.AssertFunction(rt.Get(h.Symbol))
	}
	if !ok {
		// A program evaluating directly to a plain value is a constant
		// symbol: the evaluation result is the call result, as long as
		// the caller passed no arguments to apply.
		if len(args) == 0 {
			return jsToItem(result)
		}
		return value.Item{}, errs.New(errs.KindInvalidFunction, "symbol is not callable: "+h.Symbol)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = itemToJS(rt, a)
	}

	ret, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return value.Item{}, errs.Wrap(errs.KindInvalidOperation, "invoke symbol "+h.Symbol, err)
	}
	return jsToItem(ret)
}

func itemToJS(rt *goja.Runtime, it value.Item) goja.Value {
	switch it.Kind() {
	case value.KindNone:
		return goja.Undefined()
	case value.KindBool:
		v, _ := it.Bool()
		return rt.ToValue(v)
	case value.KindInt8, value.KindInt16, value.KindInt32, value.KindInt64:
		v, _ := it.Int()
		return rt.ToValue(v)
	case value.KindUint8, value.KindUint16, value.KindUint32, value.KindUint64:
		v, _ := it.Uint()
		return rt.ToValue(v)
	case value.KindFloat32, value.KindFloat64:
		v, _ := it.Float()
		return rt.ToValue(v)
	case value.KindString:
		v, _ := it.String()
		return rt.ToValue(v)
	case value.KindBytes:
		v, _ := it.Bytes()
		return rt.ToValue(rt.NewArrayBuffer(v))
	case value.KindArray:
		elems, _ := it.Array()
		out := make([]any, len(elems))
		for i, e := range elems {
			out[i] = itemToJS(rt, e).Export()
		}
		return rt.ToValue(out)
	default:
		// Struct/Func items carry host-side identity that has no
		// faithful JS representation; expose the debug string so a
		// script can at least observe it was passed something.
		return rt.ToValue(it.GoString())
	}
}

func jsToItem(v goja.Value) (value.Item, error) {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return value.Item{}, nil
	}
	return exportToItem(v.Export())
}

func exportToItem(x any) (value.Item, error) {
	switch x := x.(type) {
	case bool:
		return value.Bool(x), nil
	case int64:
		return value.Int64(x), nil
	case float64:
		return value.Float64(x), nil
	case string:
		return value.String(x), nil
	case []byte:
		return value.Bytes(x), nil
	case []any:
		items := make([]value.Item, 0, len(x))
		for _, e := range x {
			ji, err := exportToItem(e)
			if err != nil {
				return value.Item{}, err
			}
			items = append(items, ji)
		}
		return value.Array(items...), nil
	default:
		return value.String(fmt.Sprint(x)), nil
	}
}
