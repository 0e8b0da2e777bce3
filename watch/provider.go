package watch

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	catrate "github.com/joeycumines/go-catrate"

	"github.com/joeycumines/go-microbatch"
	"github.com/joeycumines/attacha-rt/rtlog"
)

// Option configures a Provider constructed by New, following the
// functional-options convention used throughout this repository.
type Option func(*options)

type options struct {
	recursive   bool
	debounce    time.Duration
	batchSize   int
	rateLimiter *catrate.Limiter
	logger      *rtlog.Logger
	extOf       func(path string) string
}

// WithRecursive controls whether sub-directories of the watched root are
// included. Defaults to true.
func WithRecursive(v bool) Option { return func(o *options) { o.recursive = v } }

// WithDebounce coalesces rapid-fire filesystem events for the same path,
// within window d, into a single dispatch using the most recent event
// (a microbatch.Batcher keyed by path instead of generic jobs). Defaults
// to 50ms, matching microbatch.BatcherConfig.FlushInterval's default.
func WithDebounce(d time.Duration) Option { return func(o *options) { o.debounce = d } }

// WithPatchRateLimit throttles how often Apply is invoked against the
// aggregated patch for a single dispatch round; every round draws on the
// limiter under one fixed category.
// When the limiter disallows a round, the round's patch is discarded
// silently on the wire (the handler itself is free to log) -- callers
// wanting guaranteed application should not rate-limit.
func WithPatchRateLimit(l *catrate.Limiter) Option {
	return func(o *options) { o.rateLimiter = l }
}

// WithLogger attaches the runtime's ambient logger.
func WithLogger(l *rtlog.Logger) Option { return func(o *options) { o.logger = l } }

// WithExtensionFunc overrides how a file path is mapped to the key used
// to look up a registered Handler (RegisterLanguage). Matching is always
// case-sensitive. Defaults to filepath.Ext (including the leading dot).
func WithExtensionFunc(fn func(path string) string) Option {
	return func(o *options) { o.extOf = fn }
}

// fsEventKind classifies a coalesced filesystem event.
type fsEventKind uint8

const (
	fsCreate fsEventKind = iota
	fsChanged
	fsRemoved
)

type fsEvent struct {
	path string
	kind fsEventKind
}

// Provider watches a directory tree and dispatches matching files to
// registered Handlers, aggregating and applying the resulting Patch
// values.
type Provider struct {
	root string
	opts options

	mu        sync.RWMutex
	languages map[string]Handler

	initMode bool

	watcher  *fsnotify.Watcher
	batcher  *microbatch.Batcher[fsEvent]
	stopOnce sync.Once
	stopCh   chan struct{}
	loopWG   sync.WaitGroup
}

// New constructs a Provider rooted at path. It does not touch the
// filesystem until RunOnce or Start is called.
func New(root string, opts ...Option) *Provider {
	o := options{
		recursive: true,
		debounce:  50 * time.Millisecond,
		batchSize: 64,
		extOf:     filepath.Ext,
	}
	for _, fn := range opts {
		fn(&o)
	}
	p := &Provider{
		root:      root,
		opts:      o,
		languages: make(map[string]Handler),
		initMode:  true,
		stopCh:    make(chan struct{}),
	}
	p.batcher = microbatch.NewBatcher(&microbatch.BatcherConfig{
		MaxSize:        o.batchSize,
		FlushInterval:  o.debounce,
		MaxConcurrency: 1,
	}, p.processBatch)
	return p
}

// RegisterLanguage associates ext (as produced by the configured
// extension function, e.g. ".js") with a Handler. Matching is
// case-sensitive.
func (p *Provider) RegisterLanguage(ext string, h Handler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.languages[ext] = h
}

// UnregisterLanguage removes a previously registered Handler.
func (p *Provider) UnregisterLanguage(ext string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.languages, ext)
}

func (p *Provider) handlerFor(path string) (Handler, bool) {
	ext := p.opts.extOf(path)
	p.mu.RLock()
	defer p.mu.RUnlock()
	h, ok := p.languages[ext]
	return h, ok
}

// RunOnce performs a synchronous directory scan: every matching file is
// dispatched to its Handler (HandleInit while still in the initial
// window, HandleCreate plus an immediate apply otherwise), then, the
// first time RunOnce completes,
// every registered Handler's HandleInitComplete is collected and applied
// as a single round, and the Provider leaves its initial window.
func (p *Provider) RunOnce() error {
	var agg patchAggregate
	err := filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !p.opts.recursive && path != p.root {
				return filepath.SkipDir
			}
			return nil
		}
		h, ok := p.handlerFor(path)
		if !ok {
			return nil
		}
		var (
			patch Patch
			hErr  error
		)
		if p.initMode {
			patch, hErr = h.HandleInit(path)
		} else {
			patch, hErr = h.HandleCreate(path)
		}
		if hErr != nil {
			p.logErr(hErr, path, "run_once dispatch")
			return nil
		}
		if p.initMode {
			agg.add(patch)
		} else if patch != nil {
			p.applyOne(patch)
		}
		return nil
	})
	if err != nil {
		return err
	}

	p.mu.Lock()
	initMode := p.initMode
	var handlers []Handler
	if initMode {
		for _, h := range p.languages {
			handlers = append(handlers, h)
		}
	}
	p.initMode = false
	p.mu.Unlock()

	if initMode {
		for _, h := range handlers {
			patch, err := h.HandleInitComplete()
			if err != nil {
				p.logErr(err, "", "handle_init_complete")
				continue
			}
			agg.add(patch)
		}
		agg.apply(p.rateAllow())
	}
	return nil
}

// Start calls RunOnce, then begins asynchronously watching the tree for
// changes, dispatching coalesced events to handlers as they arrive.
func (p *Provider) Start() error {
	if err := p.RunOnce(); err != nil {
		return err
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	p.watcher = w
	if err := p.addWatches(); err != nil {
		_ = w.Close()
		return err
	}
	p.loopWG.Add(1)
	go p.watchLoop()
	return nil
}

// Stop halts the asynchronous watch loop. RunOnce/RegisterLanguage
// remain usable afterward.
func (p *Provider) Stop() error {
	p.stopOnce.Do(func() { close(p.stopCh) })
	if p.watcher != nil {
		_ = p.watcher.Close()
	}
	p.loopWG.Wait()
	p.batcher.Close()
	return nil
}

func (p *Provider) addWatches() error {
	return filepath.WalkDir(p.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if !p.opts.recursive && path != p.root {
			return filepath.SkipDir
		}
		return p.watcher.Add(path)
	})
}

func (p *Provider) watchLoop() {
	defer p.loopWG.Done()
	for {
		select {
		case <-p.stopCh:
			return
		case ev, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.onFSEvent(ev)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logErr(err, "", "fsnotify")
		}
	}
}

func (p *Provider) onFSEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod != 0 && ev.Op == fsnotify.Chmod {
		return
	}
	var kind fsEventKind
	switch {
	case ev.Op&fsnotify.Remove != 0, ev.Op&fsnotify.Rename != 0:
		// fsnotify reports a bare Rename for the old path, with no
		// correlated new-path event guaranteed to follow on every
		// platform -- treated as removal, same as a genuine delete.
		kind = fsRemoved
	case ev.Op&fsnotify.Create != 0:
		kind = fsCreate
		if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() && p.opts.recursive {
			_ = p.watcher.Add(ev.Name)
		}
	case ev.Op&fsnotify.Write != 0:
		kind = fsChanged
	default:
		return
	}
	if _, ok := p.handlerFor(ev.Name); !ok {
		return
	}
	// Submitted from its own goroutine: microbatch.Batcher.Submit blocks
	// the caller until its job's batch has been processed, so a single
	// sequential producer could never observe coalescing. Concurrent
	// Submit calls let multiple rapid-fire events pile into one batch
	// within the configured debounce window, same as multiple producers
	// sharing one Batcher.
	go func(fe fsEvent) {
		if _, err := p.batcher.Submit(context.Background(), fe); err != nil {
			p.logErr(err, fe.path, "submit")
		}
	}(fsEvent{path: ev.Name, kind: kind})
}

// processBatch is the microbatch.BatchProcessor backing p.batcher: it
// de-duplicates repeated events for the same path (keeping the latest,
// except that a change after a create stays a create), in first-seen
// order, then dispatches each to its Handler and applies the aggregated
// patch for the round.
func (p *Provider) processBatch(_ context.Context, jobs []fsEvent) error {
	latest := make(map[string]fsEvent, len(jobs))
	order := make([]string, 0, len(jobs))
	for _, j := range jobs {
		prev, seen := latest[j.path]
		if !seen {
			order = append(order, j.path)
		} else if prev.kind == fsCreate && j.kind == fsChanged {
			continue // writing a just-created file still reports a new file
		}
		latest[j.path] = j
	}

	var agg patchAggregate
	for _, path := range order {
		ev := latest[path]
		h, ok := p.handlerFor(path)
		if !ok {
			continue
		}
		var (
			patch Patch
			err   error
		)
		switch ev.kind {
		case fsCreate:
			patch, err = h.HandleCreate(path)
		case fsChanged:
			patch, err = h.HandleChanged(path)
		case fsRemoved:
			patch, err = h.HandleRemoved(path)
		}
		if err != nil {
			p.logErr(err, path, "dispatch")
			continue
		}
		agg.add(patch)
	}
	agg.apply(p.rateAllow())
	return nil
}

func (p *Provider) applyOne(patch Patch) {
	if patch == nil {
		return
	}
	if !p.rateAllow() {
		return
	}
	if err := patch.Apply(); err != nil {
		p.logErr(err, "", "apply")
	}
}

func (p *Provider) rateAllow() bool {
	if p.opts.rateLimiter == nil {
		return true
	}
	_, ok := p.opts.rateLimiter.Allow("apply")
	return ok
}

func (p *Provider) logErr(err error, path, where string) {
	if p.opts.logger == nil || err == nil {
		return
	}
	b := p.opts.logger.Err().Err(err).Str("where", where)
	if path != "" {
		b = b.Str("path", path)
	}
	b.Log("watch: handler error")
}

// patchAggregate merges zero or more Patch values produced across a
// dispatch round, deferring Apply until the whole round has been
// collected.
type patchAggregate struct {
	patch Patch
}

func (a *patchAggregate) add(p Patch) {
	if p == nil {
		return
	}
	if a.patch == nil {
		a.patch = p
		return
	}
	a.patch.Merge(p)
}

func (a *patchAggregate) apply(allowed bool) {
	if a.patch == nil || !allowed {
		return
	}
	_ = a.patch.Apply()
	a.patch = nil
}

// ErrNotRunning reports that a Provider has not been started. No Provider
// method returns it.
var ErrNotRunning = errors.New("watch: provider not running")
