package aio

import (
	"context"
	"net"
	"sync"
	"sync/atomic"
	"time"

	catrate "github.com/joeycumines/go-catrate"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/rtlog"
	"github.com/joeycumines/attacha-rt/scheduler"
	"github.com/joeycumines/attacha-rt/value"
)

// ManageType selects how a Server's handler Task is scheduled relative
// to its connection's I/O.
type ManageType int

const (
	// ManageBlocking runs the handler Task with default priority/binding.
	ManageBlocking ManageType = iota
	// ManageWriteDelayed marks the handler's writes as queue-only by
	// default (callers must still invoke ForceWrite explicitly; this
	// setting only affects the default priority assigned to the
	// handler Task, lowering it so bulk writers do not starve latency-
	// sensitive connections).
	ManageWriteDelayed
)

// ServerState is the Server's lifecycle state.
type ServerState int32

const (
	ServerDisabled ServerState = iota
	ServerPaused
	ServerRunning
	ServerCorrupted
)

func (s ServerState) String() string {
	switch s {
	case ServerDisabled:
		return "disabled"
	case ServerPaused:
		return "paused"
	case ServerRunning:
		return "running"
	default:
		return "corrupted"
	}
}

// HandlerFunc is run as one Task per accepted connection, receiving the
// connection's stream handle plus its remote and local addresses.
type HandlerFunc func(t *scheduler.Task, h *Handle, remote, local Address)

// FilterFunc optionally rejects an accepted connection before it reaches
// HandlerFunc; returning false closes the socket and reposts the accept.
type FilterFunc func(remote, local Address) bool

// ServerOption configures a Server at construction.
type ServerOption func(*serverConfig)

type serverConfig struct {
	manage         ManageType
	acceptors      int
	recvTimeout    time.Duration
	bufSize        int
	filter         FilterFunc
	logger         *rtlog.Logger
	acceptLimiter  *catrate.Limiter
	priority       scheduler.Priority
}

func WithManageType(m ManageType) ServerOption { return func(c *serverConfig) { c.manage = m } }
func WithAcceptors(n int) ServerOption         { return func(c *serverConfig) { c.acceptors = n } }
func WithReceiveTimeout(d time.Duration) ServerOption {
	return func(c *serverConfig) { c.recvTimeout = d }
}
func WithBufferSize(n int) ServerOption  { return func(c *serverConfig) { c.bufSize = n } }
func WithFilter(f FilterFunc) ServerOption { return func(c *serverConfig) { c.filter = f } }
func WithServerLogger(l *rtlog.Logger) ServerOption {
	return func(c *serverConfig) { c.logger = l }
}

// WithAcceptRateLimit throttles the accept loop using a catrate.Limiter:
// when the limiter disallows admission, the just-accepted connection is
// closed immediately instead of reaching the filter/handler, the same
// "shed admission rather than queue unboundedly" idiom catrate's own
// Allow/Limiter callers use.
func WithAcceptRateLimit(l *catrate.Limiter) ServerOption {
	return func(c *serverConfig) { c.acceptLimiter = l }
}

// WithHandlerPriority sets the scheduler priority assigned to each
// accepted connection's handler Task.
func WithHandlerPriority(p scheduler.Priority) ServerOption {
	return func(c *serverConfig) { c.priority = p }
}

// Server is the socket server manager: it listens on a bound address,
// posts `acceptors` parallel accept operations, and dispatches
// each accepted connection to handler via the scheduler, subject to an
// optional filter and admission rate limit.
type Server struct {
	pool    *scheduler.Pool
	handler HandlerFunc
	cfg     serverConfig

	ln   net.Listener
	addr Address

	state atomic.Int32

	done     chan struct{}
	doneOnce sync.Once
}

// NewServer constructs a Server bound to addr (not yet listening);
// Start sets SO_REUSEADDR on the listening socket via setReuseAddr
// before bind. Go's net package does not expose a TCP_FASTOPEN listener
// knob; enabling it would need a raw pre-listen setsockopt per platform,
// and it is non-fatal to run without, so the Server does not attempt it.
func NewServer(pool *scheduler.Pool, addr Address, handler HandlerFunc, opts ...ServerOption) *Server {
	cfg := serverConfig{
		acceptors:   1,
		recvTimeout: 0,
		bufSize:     4096,
		priority:    scheduler.PriorityNormal,
	}
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.acceptors <= 0 {
		cfg.acceptors = 1
	}
	if cfg.manage == ManageWriteDelayed && cfg.priority == scheduler.PriorityNormal {
		cfg.priority = scheduler.PriorityLower
	}
	s := &Server{
		pool:    pool,
		handler: handler,
		cfg:     cfg,
		addr:    addr,
		done:    make(chan struct{}),
	}
	s.state.Store(int32(ServerDisabled))
	return s
}

// State returns the Server's current lifecycle state.
func (s *Server) State() ServerState { return ServerState(s.state.Load()) }

// Addr returns the listener's bound address, valid once Start has
// succeeded.
func (s *Server) Addr() Address { return s.addr }

// Start listens on the bound address and posts `acceptors` parallel
// accept loops, transitioning disabled -> running.
func (s *Server) Start() error {
	if !s.state.CompareAndSwap(int32(ServerDisabled), int32(ServerRunning)) {
		return errs.New(errs.KindInvalidOperation, "aio: server already started")
	}

	network := "tcp"
	switch s.addr.Type() {
	case AddrV4:
		network = "tcp4"
	case AddrV6:
		network = "tcp6"
	default:
		network = "tcp" // dual-stack
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), network, s.addr.ToString())
	if err != nil {
		s.state.Store(int32(ServerCorrupted))
		return errs.Wrap(errs.KindSystem, "aio: listen", err)
	}
	s.ln = ln
	if a, aErr := AddressFromNetAddr(ln.Addr()); aErr == nil {
		s.addr = a
	}

	for i := 0; i < s.cfg.acceptors; i++ {
		go s.acceptLoop()
	}
	return nil
}

func (s *Server) acceptLoop() {
	for {
		select {
		case <-s.done:
			return
		default:
		}

		conn, err := s.ln.Accept()
		if err != nil {
			select {
			case <-s.done:
				return
			default:
			}
			s.logErr(err, "accept")
			continue
		}

		if s.State() == ServerPaused {
			_ = conn.Close()
			continue
		}

		if s.cfg.acceptLimiter != nil {
			if _, ok := s.cfg.acceptLimiter.Allow("accept"); !ok {
				_ = conn.Close()
				continue
			}
		}

		remote, _ := AddressFromNetAddr(conn.RemoteAddr())
		local, _ := AddressFromNetAddr(conn.LocalAddr())

		if s.cfg.filter != nil && !s.cfg.filter(remote, local) {
			_ = conn.Close()
			continue
		}

		if s.cfg.recvTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.recvTimeout))
		}

		h := NewHandle(s.pool, conn, s.cfg.bufSize)
		task := scheduler.NewTask(s.pool, func(t *scheduler.Task, _ value.Item) (value.Item, error) {
			s.handler(t, h, remote, local)
			return value.Item{}, nil
		}, value.Item{})
		task.SetPriority(s.cfg.priority)
		task.Start()
	}
}

// Pause flips the accept-gate without tearing the listener down: new
// connections arriving while paused are closed right after accept.
func (s *Server) Pause() {
	s.state.CompareAndSwap(int32(ServerRunning), int32(ServerPaused))
}

// Resume un-pauses a previously-paused Server.
func (s *Server) Resume() {
	s.state.CompareAndSwap(int32(ServerPaused), int32(ServerRunning))
}

// Shutdown closes the listener and wakes any _await waiters.
func (s *Server) Shutdown() error {
	s.doneOnce.Do(func() { close(s.done) })
	s.state.Store(int32(ServerDisabled))
	if s.ln != nil {
		return s.ln.Close()
	}
	return nil
}

// Await blocks until the Server has terminated (Shutdown was called).
func (s *Server) Await() {
	<-s.done
}

func (s *Server) logErr(err error, where string) {
	if s.cfg.logger == nil || err == nil {
		return
	}
	s.cfg.logger.Err().Err(err).Str("where", where).Log("aio: server error")
}
