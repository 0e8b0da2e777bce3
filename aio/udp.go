package aio

import (
	"net"
	"time"

	"github.com/joeycumines/attacha-rt/errs"
	"github.com/joeycumines/attacha-rt/scheduler"
)

// UDPHandle is the connectionless datagram handle: constructed from an
// address + timeout, Recv/Send each submit one overlapped
// datagram op and park the caller, the same suspension-point contract
// as the stream Handle, without a read/write FIFO (datagrams are not
// queued -- a caller not actively receiving simply misses them, per the
// UDP delivery model).
type UDPHandle struct {
	conn    *net.UDPConn
	pool    *scheduler.Pool
	timeout time.Duration
}

// NewUDPHandle binds a UDP socket at addr with the given default
// per-op timeout (0 = none).
func NewUDPHandle(pool *scheduler.Pool, addr Address, timeout time.Duration) (*UDPHandle, error) {
	network := "udp"
	switch addr.Type() {
	case AddrV4:
		network = "udp4"
	case AddrV6:
		network = "udp6"
	}
	laddr, err := net.ResolveUDPAddr(network, addr.ToString())
	if err != nil {
		return nil, errs.Wrap(errs.KindInvalidArguments, "aio: resolve udp addr", err)
	}
	conn, err := net.ListenUDP(network, laddr)
	if err != nil {
		return nil, errs.Wrap(errs.KindSystem, "aio: listen udp", err)
	}
	return &UDPHandle{conn: conn, pool: pool, timeout: timeout}, nil
}

// Recv reads one datagram into buf, parking the caller until it
// arrives, returning the number of bytes read and the sender's Address.
func (u *UDPHandle) Recv(t *scheduler.Task, buf []byte) (int, Address, error) {
	if u.timeout > 0 {
		_ = u.conn.SetReadDeadline(time.Now().Add(u.timeout))
	}

	type result struct {
		n    int
		addr *net.UDPAddr
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		n, addr, err := u.conn.ReadFromUDP(buf)
		ch <- result{n, addr, err}
	}()

	done := make(chan struct{})
	var res result
	go func() {
		res = <-ch
		close(done)
		u.pool.Wake(t)
	}()
	awaitDone(t, done)

	if res.err != nil {
		return 0, Address{}, errs.Wrap(errs.KindSystem, "aio: udp recv", res.err)
	}
	addr, _ := AddressFromNetAddr(res.addr)
	return res.n, addr, nil
}

// Send writes buf as one datagram to to, parking the caller until the
// kernel accepts it, returning the number of bytes sent.
func (u *UDPHandle) Send(t *scheduler.Task, buf []byte, to Address) (int, error) {
	network := "udp"
	switch to.Type() {
	case AddrV4:
		network = "udp4"
	case AddrV6:
		network = "udp6"
	}
	raddr, err := net.ResolveUDPAddr(network, to.ToString())
	if err != nil {
		return 0, errs.Wrap(errs.KindInvalidArguments, "aio: resolve udp addr", err)
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := u.conn.WriteToUDP(buf, raddr)
		ch <- result{n, err}
	}()

	done := make(chan struct{})
	var res result
	go func() {
		res = <-ch
		close(done)
		u.pool.Wake(t)
	}()
	awaitDone(t, done)

	if res.err != nil {
		return res.n, errs.Wrap(errs.KindSystem, "aio: udp send", res.err)
	}
	return res.n, nil
}

// Close releases the underlying socket.
func (u *UDPHandle) Close() error { return u.conn.Close() }
