package symtab_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/joeycumines/attacha-rt/symtab"
	"github.com/stretchr/testify/require"
)

func TestRegistryUnresolvedCallFails(t *testing.T) {
	r := symtab.NewRegistry()
	require.False(t, r.Resolved("f"))
	_, err := r.Call("f")
	require.Error(t, err)
}

func TestPatchListApplyHotSwap(t *testing.T) {
	r := symtab.NewRegistry()

	h1, err := symtab.CompileInnerHandle("f", []byte("(function(){ return 1 })"), "v1", false)
	require.NoError(t, err)

	pl := symtab.NewPatchList(r)
	require.NoError(t, pl.AddPatch("f", h1))
	require.NoError(t, pl.Apply())

	require.True(t, r.Resolved("f"))
	v, err := r.Call("f")
	require.NoError(t, err)
	n, err := v.Int()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	h2, err := symtab.CompileInnerHandle("f", []byte("(function(){ return 2 })"), "v1", false)
	require.NoError(t, err)
	pl2 := symtab.NewPatchList(r)
	require.NoError(t, pl2.AddPatch("f", h2))
	require.NoError(t, pl2.Apply())

	v, err = r.Call("f")
	require.NoError(t, err)
	n, err = v.Int()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestPatchListUnload(t *testing.T) {
	r := symtab.NewRegistry()
	h1, err := symtab.CompileInnerHandle("f", []byte("(function(){ return 1 })"), "v1", false)
	require.NoError(t, err)
	pl := symtab.NewPatchList(r)
	require.NoError(t, pl.AddPatch("f", h1))
	require.NoError(t, pl.Apply())
	require.True(t, r.Resolved("f"))

	pl2 := symtab.NewPatchList(r)
	require.NoError(t, pl2.AddPatch("f", nil))
	require.NoError(t, pl2.Apply())
	require.False(t, r.Resolved("f"))
	_, err = r.Call("f")
	require.Error(t, err)
}

func TestPatchListRejectsDoubleDefine(t *testing.T) {
	r := symtab.NewRegistry()
	h1, _ := symtab.CompileInnerHandle("f", []byte("(function(){ return 1 })"), "v1", false)
	h2, _ := symtab.CompileInnerHandle("f", []byte("(function(){ return 2 })"), "v1", false)
	pl := symtab.NewPatchList(r)
	require.NoError(t, pl.AddPatch("f", h1))
	require.Error(t, pl.AddPatch("f", h2))
}

func TestPrecompiledRoundTripRerereadUnchangedIsNoop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bc")

	funcs := []symtab.PrecompiledFunction{
		{Symbol: "f", CrossCompilerVersion: "v1", Bytecode: []byte("(function(){ return 1 })")},
	}
	var buf bytes.Buffer
	require.NoError(t, symtab.EncodePrecompiled(&buf, funcs))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r := symtab.NewRegistry()
	h := symtab.NewPrecompiledHandler(r, nil)

	patch, err := h.HandleInit(path)
	require.NoError(t, err)
	require.NotNil(t, patch)
	require.NoError(t, patch.Apply())
	require.True(t, r.Resolved("f"))

	// Re-read via "changed" with identical content: empty patch list.
	patch2, err := h.HandleChanged(path)
	require.NoError(t, err)
	if patch2 != nil {
		pl := patch2.(*symtab.PatchList)
		// Apply must be an observable no-op: nothing staged.
		require.NoError(t, pl.Apply())
	}

	v, err := r.Call("f")
	require.NoError(t, err)
	n, err := v.Int()
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	// Overwrite with different bytecode: a new patch is staged and applies.
	funcs2 := []symtab.PrecompiledFunction{
		{Symbol: "f", CrossCompilerVersion: "v1", Bytecode: []byte("(function(){ return 2 })")},
	}
	var buf2 bytes.Buffer
	require.NoError(t, symtab.EncodePrecompiled(&buf2, funcs2))
	require.NoError(t, os.WriteFile(path, buf2.Bytes(), 0o644))

	patch3, err := h.HandleChanged(path)
	require.NoError(t, err)
	require.NotNil(t, patch3)
	require.NoError(t, patch3.Apply())

	v, err = r.Call("f")
	require.NoError(t, err)
	n, err = v.Int()
	require.NoError(t, err)
	require.EqualValues(t, 2, n)
}

func TestPrecompiledInitializerSymbolNotRegistered(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "init.bc")

	ran := false
	funcs := []symtab.PrecompiledFunction{
		{Symbol: "\x02init", CrossCompilerVersion: "v1", Bytecode: []byte("(function(){ return 1 })")},
	}
	var buf bytes.Buffer
	require.NoError(t, symtab.EncodePrecompiled(&buf, funcs))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r := symtab.NewRegistry()
	h := symtab.NewPrecompiledHandler(r, func(f symtab.PrecompiledFunction) error {
		ran = true
		return nil
	})

	patch, err := h.HandleInit(path)
	require.NoError(t, err)
	require.Nil(t, patch)
	require.True(t, ran)
	require.False(t, r.Resolved("\x02init"))
}

func TestPrecompiledRemoveUnloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bc")
	funcs := []symtab.PrecompiledFunction{
		{Symbol: "f", CrossCompilerVersion: "v1", Bytecode: []byte("(function(){ return 1 })")},
	}
	var buf bytes.Buffer
	require.NoError(t, symtab.EncodePrecompiled(&buf, funcs))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))

	r := symtab.NewRegistry()
	h := symtab.NewPrecompiledHandler(r, nil)
	patch, err := h.HandleInit(path)
	require.NoError(t, err)
	require.NoError(t, patch.Apply())
	require.True(t, r.Resolved("f"))

	removed, err := h.HandleRemoved(path)
	require.NoError(t, err)
	require.NotNil(t, removed)
	require.NoError(t, removed.Apply())
	require.False(t, r.Resolved("f"))
}
