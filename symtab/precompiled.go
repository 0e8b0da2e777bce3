package symtab

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/watch"
)

// PrecompiledFunction is one decoded entry from the precompiled bytecode
// container: a symbol name, the cross-compiler
// version string that produced its bytecode, the bytecode itself, and
// the is_cheap hint.
type PrecompiledFunction struct {
	Symbol               string
	CrossCompilerVersion string
	Bytecode             []byte
	IsCheap              bool
}

// isInitializer reports whether a symbol is an initializer: a symbol
// whose first byte is 0x02 is executed immediately rather than
// registered.
func (f PrecompiledFunction) isInitializer() bool {
	return len(f.Symbol) > 0 && f.Symbol[0] == 0x02
}

// DecodePrecompiled parses the little-endian precompiled container:
//
//	u64 function_count
//	repeated function_count times:
//	  u64 len_symbol,  u8[len_symbol]  symbol
//	  u64 len_version, u8[len_version] cross_compiler_version
//	  u64 len_code,    u8[len_code]    bytecode
//	  u8  is_cheap (0|1)
func DecodePrecompiled(r io.Reader) ([]PrecompiledFunction, error) {
	var count uint64
	if err := binary.Read(r, binary.LittleEndian, &count); err != nil {
		return nil, errs.Wrap(errs.KindInvalidInput, "read function_count", err)
	}

	funcs := make([]PrecompiledFunction, 0, count)
	for i := uint64(0); i < count; i++ {
		symbol, err := readLenPrefixed(r)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("read symbol %d", i), err)
		}
		version, err := readLenPrefixed(r)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("read version %d", i), err)
		}
		code, err := readLenPrefixed(r)
		if err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("read code %d", i), err)
		}
		var isCheap uint8
		if err := binary.Read(r, binary.LittleEndian, &isCheap); err != nil {
			return nil, errs.Wrap(errs.KindInvalidInput, fmt.Sprintf("read is_cheap %d", i), err)
		}
		funcs = append(funcs, PrecompiledFunction{
			Symbol:               string(symbol),
			CrossCompilerVersion: string(version),
			Bytecode:             code,
			IsCheap:              isCheap != 0,
		})
	}
	return funcs, nil
}

func readLenPrefixed(r io.Reader) ([]byte, error) {
	var n uint64
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// EncodePrecompiled writes funcs in the format DecodePrecompiled reads,
// primarily for tests constructing fixtures in-process.
func EncodePrecompiled(w io.Writer, funcs []PrecompiledFunction) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(funcs))); err != nil {
		return err
	}
	for _, f := range funcs {
		for _, b := range [][]byte{[]byte(f.Symbol), []byte(f.CrossCompilerVersion), f.Bytecode} {
			if err := binary.Write(w, binary.LittleEndian, uint64(len(b))); err != nil {
				return err
			}
			if _, err := w.Write(b); err != nil {
				return err
			}
		}
		var isCheap uint8
		if f.IsCheap {
			isCheap = 1
		}
		if err := binary.Write(w, binary.LittleEndian, isCheap); err != nil {
			return err
		}
	}
	return nil
}

// Initializer is invoked synchronously for every initializer symbol
// (first byte 0x02) decoded from a precompiled file. The default used
// by NewPrecompiledHandler compiles and runs the bytecode as an inner
// handle whose result is discarded.
type Initializer func(f PrecompiledFunction) error

// PrecompiledHandler implements watch.Handler for files in the
// precompiled bytecode format, driving Registry via staged PatchLists.
// Per source file it keeps symbol -> content-hash, so re-reading an
// unchanged file produces an empty patch list.
type PrecompiledHandler struct {
	registry    *Registry
	initializer Initializer

	mu       sync.Mutex
	fileSyms map[string]map[string][32]byte // path -> symbol -> sha256(bytecode)
}

// NewPrecompiledHandler constructs a PrecompiledHandler bound to
// registry. If init is nil, initializer symbols are compiled and
// invoked via InnerHandle.Invoke with no arguments, discarding the
// result.
func NewPrecompiledHandler(registry *Registry, init Initializer) *PrecompiledHandler {
	h := &PrecompiledHandler{
		registry: registry,
		fileSyms: make(map[string]map[string][32]byte),
	}
	if init != nil {
		h.initializer = init
	} else {
		h.initializer = h.defaultInitializer
	}
	return h
}

func (h *PrecompiledHandler) defaultInitializer(f PrecompiledFunction) error {
	ih, err := CompileInnerHandle(f.Symbol, f.Bytecode, f.CrossCompilerVersion, f.IsCheap)
	if err != nil {
		return err
	}
	_, err = ih.Invoke()
	return err
}

func (h *PrecompiledHandler) decodeFile(path string) ([]PrecompiledFunction, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Wrap(errs.KindLibraryNotFound, "read "+path, err)
	}
	return DecodePrecompiled(bytes.NewReader(b))
}

// dispatch decodes path and stages a PatchList: initializer symbols are
// executed immediately (not registered or staged), non-initializer
// symbols whose bytecode hash changed since the last dispatch for this
// path are (re)compiled and staged, unchanged ones are skipped, and
// symbols previously seen for this path but now absent are staged as
// unloads.
func (h *PrecompiledHandler) dispatch(path string) (watch.Patch, error) {
	funcs, err := h.decodeFile(path)
	if err != nil {
		return nil, err
	}

	h.mu.Lock()
	prev := h.fileSyms[path]
	next := make(map[string][32]byte, len(funcs))
	h.mu.Unlock()

	pl := NewPatchList(h.registry)
	for _, f := range funcs {
		if f.isInitializer() {
			if err := h.initializer(f); err != nil {
				return nil, err
			}
			continue
		}

		sum := sha256.Sum256(f.Bytecode)
		next[f.Symbol] = sum
		if prevSum, ok := prev[f.Symbol]; ok && prevSum == sum {
			continue // unchanged: no patch
		}

		ih, err := CompileInnerHandle(f.Symbol, f.Bytecode, f.CrossCompilerVersion, f.IsCheap)
		if err != nil {
			return nil, err
		}
		if err := pl.AddPatch(f.Symbol, ih); err != nil {
			return nil, err
		}
	}

	for sym := range prev {
		if _, ok := next[sym]; !ok {
			if err := pl.AddPatch(sym, nil); err != nil {
				return nil, err
			}
		}
	}

	h.mu.Lock()
	h.fileSyms[path] = next
	h.mu.Unlock()

	if pl.Len() == 0 {
		return nil, nil
	}
	return pl, nil
}

// HandleInit implements watch.Handler.
func (h *PrecompiledHandler) HandleInit(path string) (watch.Patch, error) { return h.dispatch(path) }

// HandleInitComplete implements watch.Handler. The precompiled format has
// no cross-file linking step, so nothing further is staged.
func (h *PrecompiledHandler) HandleInitComplete() (watch.Patch, error) { return nil, nil }

// HandleCreate implements watch.Handler.
func (h *PrecompiledHandler) HandleCreate(path string) (watch.Patch, error) { return h.dispatch(path) }

// HandleRenamed implements watch.Handler: the symbols tracked under
// oldPath are unloaded and newPath is dispatched fresh.
func (h *PrecompiledHandler) HandleRenamed(oldPath, newPath string) (watch.Patch, error) {
	removed, err := h.HandleRemoved(oldPath)
	if err != nil {
		return nil, err
	}
	created, err := h.dispatch(newPath)
	if err != nil {
		return nil, err
	}
	if removed == nil {
		return created, nil
	}
	if created != nil {
		removed.(*PatchList).Merge(created)
	}
	return removed, nil
}

// HandleChanged implements watch.Handler.
func (h *PrecompiledHandler) HandleChanged(path string) (watch.Patch, error) { return h.dispatch(path) }

// HandleRemoved implements watch.Handler: every symbol previously tracked
// for path is staged as an unload.
func (h *PrecompiledHandler) HandleRemoved(path string) (watch.Patch, error) {
	h.mu.Lock()
	prev := h.fileSyms[path]
	delete(h.fileSyms, path)
	h.mu.Unlock()

	if len(prev) == 0 {
		return nil, nil
	}
	pl := NewPatchList(h.registry)
	for sym := range prev {
		if err := pl.AddPatch(sym, nil); err != nil {
			return nil, err
		}
	}
	return pl, nil
}

var _ watch.Handler = (*PrecompiledHandler)(nil)
