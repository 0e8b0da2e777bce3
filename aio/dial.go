package aio

import (
	"context"
	"net"
	"time"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
)

// DialOption configures Dial.
type DialOption func(*dialConfig)

type dialConfig struct {
	timeout     time.Duration
	initialSend []byte
	bufSize     int
}

// WithDialTimeout bounds how long Dial waits for the connection to
// establish.
func WithDialTimeout(d time.Duration) DialOption {
	return func(c *dialConfig) { c.timeout = d }
}

// WithInitialSend supplies a payload transmitted before anything else
// on the new connection. Go's net package does not expose a TCP Fast
// Open dial primitive, so the payload is sent as the first Write
// immediately after the handshake completes instead of folding it into
// the SYN: the payload still arrives first, without the TFO round-trip
// savings.
func WithInitialSend(payload []byte) DialOption {
	return func(c *dialConfig) { c.initialSend = payload }
}

// WithDialBufferSize sets the resulting Handle's fixed-buffer size.
func WithDialBufferSize(n int) DialOption {
	return func(c *dialConfig) { c.bufSize = n }
}

// Dial connects to addr as a TCP client, returning a ready Handle. The
// dial itself runs on a background goroutine with the calling fiber
// parked for its duration, like any other suspension point.
func Dial(t *scheduler.Task, pool *scheduler.Pool, addr Address, opts ...DialOption) (*Handle, error) {
	cfg := dialConfig{bufSize: 4096}
	for _, o := range opts {
		o(&cfg)
	}

	network := "tcp"
	switch addr.Type() {
	case AddrV4:
		network = "tcp4"
	case AddrV6:
		network = "tcp6"
	}

	ctx := context.Background()
	var cancel context.CancelFunc
	if cfg.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, cfg.timeout)
		defer cancel()
	}

	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	var d net.Dialer
	go func() {
		conn, err := d.DialContext(ctx, network, addr.ToString())
		ch <- result{conn, err}
	}()

	done := make(chan struct{})
	var res result
	go func() {
		res = <-ch
		close(done)
		pool.Wake(t)
	}()
	awaitDone(t, done)

	if res.err != nil {
		return nil, errs.Wrap(errs.KindSystem, "aio: dial", res.err)
	}

	h := NewHandle(pool, res.conn, cfg.bufSize)
	if len(cfg.initialSend) > 0 {
		if err := h.Write(cfg.initialSend); err != nil {
			return h, err
		}
		if err := h.ForceWrite(t); err != nil {
			return h, err
		}
	}
	return h, nil
}
