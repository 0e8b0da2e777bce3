package runtime_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/attacha-rt/runtime"
	"github.com/joeycumines/attacha-rt/symtab"
)

func writePrecompiled(t *testing.T, path string, funcs []symtab.PrecompiledFunction) {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, symtab.EncodePrecompiled(&buf, funcs))
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o644))
}

func TestRuntimeWatchRootLoadsAndHotPatches(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "plugin.bin")
	writePrecompiled(t, file, []symtab.PrecompiledFunction{
		{Symbol: "greet", CrossCompilerVersion: "v1", Bytecode: []byte(`"hi v1"`)},
	})

	rt, err := runtime.New(runtime.WithWatchRoot(dir))
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	defer rt.Shutdown()

	require.Eventually(t, func() bool {
		return rt.Registry.Resolved("greet")
	}, time.Second, 10*time.Millisecond)

	v, err := rt.Call("greet")
	require.NoError(t, err)
	s, err := v.String()
	require.NoError(t, err)
	require.Equal(t, "hi v1", s)

	writePrecompiled(t, file, []symtab.PrecompiledFunction{
		{Symbol: "greet", CrossCompilerVersion: "v2", Bytecode: []byte(`"hi v2"`)},
	})

	require.Eventually(t, func() bool {
		v, err := rt.Call("greet")
		if err != nil {
			return false
		}
		s, err := v.String()
		return err == nil && s == "hi v2"
	}, 2*time.Second, 20*time.Millisecond)
}

func TestRuntimeWithoutWatchRootCallFails(t *testing.T) {
	rt, err := runtime.New()
	require.NoError(t, err)
	defer rt.Shutdown()

	_, err = rt.Call("missing")
	require.Error(t, err)
}

func TestRuntimeDoubleStartErrors(t *testing.T) {
	rt, err := runtime.New()
	require.NoError(t, err)
	defer rt.Shutdown()

	require.NoError(t, rt.Start())
	require.Error(t, rt.Start())
}

func TestRuntimeShutdownIdempotent(t *testing.T) {
	rt, err := runtime.New(runtime.WithWorkers(2))
	require.NoError(t, err)
	require.NoError(t, rt.Start())
	require.NoError(t, rt.Shutdown())
	require.NoError(t, rt.Shutdown())
}
