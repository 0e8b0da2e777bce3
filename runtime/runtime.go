// Package runtime assembles the managed-runtime components built across
// the scheduler, tasksync, aio, symtab, and watch packages into the
// single value a process constructs at startup: every sub-component is
// a field here, threaded explicitly rather than reached through
// package-level state.
package runtime

import (
	"sync"

	"github.com/joeycumines/attacha-rt/aio"
	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/rtlog"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/symtab"
	"github.com/joeycumines/attacha-rt/value"
	"github.com/joeycumines/attacha-rt/watch"
)

// Option configures a Runtime at construction, following the functional-
// options convention used throughout this repository.
type Option func(*config)

type config struct {
	workers      int
	logger       *rtlog.Logger
	watchRoot    string
	watchOptions []watch.Option
	initializer  symtab.Initializer
}

// WithWorkers sets the scheduler Pool's initial worker count. Defaults
// to scheduler's own default (see scheduler.New) when unset.
func WithWorkers(n int) Option {
	return func(c *config) { c.workers = n }
}

// WithLogger attaches the runtime's ambient structured logger, shared by
// every sub-component that logs (the watch Provider, the aio Server).
// Defaults to rtlog.Discard() when unset.
func WithLogger(l *rtlog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// WithWatchRoot enables the hot-patch filesystem watcher rooted at dir,
// applying opts to the underlying watch.Provider. Without this option,
// New constructs a Registry usable by direct Registry.Call/Lookup
// callers but does not start any filesystem watch.
func WithWatchRoot(dir string, opts ...watch.Option) Option {
	return func(c *config) {
		c.watchRoot = dir
		c.watchOptions = opts
	}
}

// WithInitializer supplies the callback invoked for each decoded
// initializer symbol (symtab.PrecompiledFunction whose symbol's first
// byte is 0x02); such symbols are executed immediately and never
// registered. Optional: when unset, symtab.NewPrecompiledHandler's
// default compiles and runs each initializer symbol, discarding its
// result.
func WithInitializer(fn symtab.Initializer) Option {
	return func(c *config) { c.initializer = fn }
}

// Runtime is the top-level composition of every managed-runtime
// component: a scheduler Pool driving cooperative fibers, a symtab
// Registry holding hot-patchable function symbols, and (optionally) a
// watch Provider feeding filesystem changes into that Registry via a
// symtab.PrecompiledHandler. Socket servers (aio.Server) are constructed
// separately by callers against the Runtime's Pool, since a runtime may
// host zero, one, or many listeners.
type Runtime struct {
	Pool     *scheduler.Pool
	Registry *symtab.Registry
	Types    *value.TypeRegistry
	Logger   *rtlog.Logger

	provider *watch.Provider
	handler  *symtab.PrecompiledHandler

	mu       sync.Mutex
	started  bool
	shutdown bool
}

// New constructs a Runtime: a scheduler Pool, a symtab Registry, and,
// when WithWatchRoot was supplied, a watch Provider wired to a
// symtab.PrecompiledHandler targeting that Registry. The watch Provider
// is not started until Start is called.
func New(opts ...Option) (*Runtime, error) {
	cfg := config{}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = rtlog.Discard()
	}

	var poolOpts []scheduler.Option
	if cfg.workers > 0 {
		poolOpts = append(poolOpts, scheduler.WithWorkers(cfg.workers))
	}
	pool := scheduler.New(poolOpts...)
	registry := symtab.NewRegistry()

	rt := &Runtime{
		Pool:     pool,
		Registry: registry,
		Types:    value.NewTypeRegistry(),
		Logger:   cfg.logger,
	}

	if cfg.watchRoot != "" {
		handler := symtab.NewPrecompiledHandler(registry, cfg.initializer)
		watchOpts := append([]watch.Option{watch.WithLogger(cfg.logger)}, cfg.watchOptions...)
		provider := watch.New(cfg.watchRoot, watchOpts...)
		provider.RegisterLanguage(".bin", handler)
		rt.provider = provider
		rt.handler = handler
	}

	return rt, nil
}

// NewServer constructs an aio.Server bound to this Runtime's Pool, a
// thin convenience wrapper so callers don't separately thread the Pool
// through; equivalent to calling aio.NewServer(rt.Pool, ...) directly.
func (rt *Runtime) NewServer(addr aio.Address, handler aio.HandlerFunc, opts ...aio.ServerOption) *aio.Server {
	opts = append([]aio.ServerOption{aio.WithServerLogger(rt.Logger)}, opts...)
	return aio.NewServer(rt.Pool, addr, handler, opts...)
}

// Start brings up the watch Provider (if configured): an initial full
// scan loads every matching file once (watch.Provider.RunOnce, invoked
// internally by Provider.Start) before the Provider begins watching for
// subsequent changes. Starting twice is an error.
func (rt *Runtime) Start() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.started {
		return errs.New(errs.KindInvalidOperation, "runtime: already started")
	}
	rt.started = true
	if rt.provider == nil {
		return nil
	}
	return rt.provider.Start()
}

// Call invokes the named symbol synchronously against the Runtime's
// Registry, a convenience wrapper around Registry.Call.
func (rt *Runtime) Call(name string, args ...value.Item) (value.Item, error) {
	return rt.Registry.Call(name, args...)
}

// Shutdown stops the watch Provider (if running) and the scheduler Pool,
// in that order so no in-flight patch application races a Pool already
// refusing new work. Safe to call once; a second call is a no-op.
func (rt *Runtime) Shutdown() error {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	if rt.shutdown {
		return nil
	}
	rt.shutdown = true

	var err error
	if rt.provider != nil {
		err = rt.provider.Stop()
	}
	rt.Pool.Shutdown()
	return err
}
