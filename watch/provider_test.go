package watch_test

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/joeycumines/attacha-rt/watch"
)

// fakePatch counts calls, so tests can assert dispatch/merge/apply occurred
// without depending on symtab.
type fakePatch struct {
	mu      *sync.Mutex
	applied *int
	merges  *int
}

func newFakePatch() *fakePatch {
	return &fakePatch{mu: new(sync.Mutex), applied: new(int), merges: new(int)}
}

func (p *fakePatch) Merge(other watch.Patch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.merges++
}

func (p *fakePatch) Apply() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	*p.applied++
	return nil
}

type recordingHandler struct {
	mu      sync.Mutex
	inits   []string
	creates []string
	changes []string
	removes []string
	patch   *fakePatch
}

func (h *recordingHandler) HandleInit(path string) (watch.Patch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.inits = append(h.inits, path)
	return h.patch, nil
}

func (h *recordingHandler) HandleInitComplete() (watch.Patch, error) { return nil, nil }

func (h *recordingHandler) HandleCreate(path string) (watch.Patch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.creates = append(h.creates, path)
	return h.patch, nil
}

func (h *recordingHandler) HandleRenamed(oldPath, newPath string) (watch.Patch, error) {
	return h.patch, nil
}

func (h *recordingHandler) HandleChanged(path string) (watch.Patch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.changes = append(h.changes, path)
	return h.patch, nil
}

func (h *recordingHandler) HandleRemoved(path string) (watch.Patch, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removes = append(h.removes, path)
	return h.patch, nil
}

func TestProvider_RunOnce_InitScan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.js"), []byte("1"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.txt"), []byte("2"), 0o644))

	h := &recordingHandler{patch: newFakePatch()}
	p := watch.New(dir, watch.WithDebounce(time.Millisecond))
	p.RegisterLanguage(".js", h)

	require.NoError(t, p.RunOnce())

	h.mu.Lock()
	defer h.mu.Unlock()
	require.Equal(t, []string{filepath.Join(dir, "a.js")}, h.inits)
	require.Empty(t, h.creates)
	require.Equal(t, 1, *h.patch.applied)
}

func TestProvider_StartDetectsCreate(t *testing.T) {
	dir := t.TempDir()
	h := &recordingHandler{patch: newFakePatch()}
	p := watch.New(dir, watch.WithDebounce(10*time.Millisecond))
	p.RegisterLanguage(".js", h)

	require.NoError(t, p.Start())
	defer p.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "new.js"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		h.mu.Lock()
		defer h.mu.Unlock()
		return len(h.creates) == 1
	}, time.Second, 5*time.Millisecond)
}
