// Package aio implements the async socket layer: a connection-oriented
// stream Handle with read/write queueing bridged into the scheduler as
// a suspension point, a Server manager driving the accept loop, and UDP
// datagram support. Each Handle follows a proactor shape: one
// outstanding operation per connection, with the completion delivered
// as a fiber wake.
package aio

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
)

// AddrType classifies an Address: v4, v6, or undefined (e.g. a bare
// port with no resolved IP yet).
type AddrType int

const (
	AddrUndefined AddrType = iota
	AddrV4
	AddrV6
)

func (t AddrType) String() string {
	switch t {
	case AddrV4:
		return "v4"
	case AddrV6:
		return "v6"
	default:
		return "undefined"
	}
}

// Address is an endpoint address: one of {v4, v4-mapped-v6, v6, bare
// port}, exposing ToString/Type/ActualType/Port/FullAddress. It wraps
// netip.AddrPort, the standard library's immutable value type for this,
// rather than a bespoke union.
type Address struct {
	addrPort netip.AddrPort
	portOnly uint16 // used when no IP has been resolved yet
	hasAddr  bool
}

// ParseAddress accepts either "ip:port" or "[ipv6]:port" and returns
// the parsed Address.
func ParseAddress(s string) (Address, error) {
	ap, err := netip.ParseAddrPort(s)
	if err != nil {
		return Address{}, fmt.Errorf("aio: parse address %q: %w", s, err)
	}
	return Address{addrPort: ap, hasAddr: true}, nil
}

// AddressFromPort constructs a port-only Address (no resolved IP),
// used for "bind to any interface on this port".
func AddressFromPort(port uint16) Address {
	return Address{portOnly: port}
}

// AddressFromNetAddr converts a net.Addr (as returned by
// net.Listener.Addr/net.Conn.RemoteAddr) into an Address.
func AddressFromNetAddr(a net.Addr) (Address, error) {
	switch a := a.(type) {
	case *net.TCPAddr:
		ap := netip.AddrPortFrom(a.AddrPort().Addr().Unmap(), a.AddrPort().Port())
		return Address{addrPort: ap, hasAddr: true}, nil
	case *net.UDPAddr:
		ap := netip.AddrPortFrom(a.AddrPort().Addr().Unmap(), a.AddrPort().Port())
		return Address{addrPort: ap, hasAddr: true}, nil
	default:
		return ParseAddress(a.String())
	}
}

// ToString renders the address as "ip:port" or "[ipv6]:port".
func (a Address) ToString() string {
	if !a.hasAddr {
		return ":" + strconv.Itoa(int(a.portOnly))
	}
	return a.addrPort.String()
}

// Type reports whether the resolved IP is v4 or v6; v4-mapped-v6
// addresses report v4 (the wire-level family is exposed separately via
// ActualType).
func (a Address) Type() AddrType {
	if !a.hasAddr {
		return AddrUndefined
	}
	if a.addrPort.Addr().Is4() || a.addrPort.Addr().Is4In6() {
		return AddrV4
	}
	return AddrV6
}

// ActualType reports the wire-level family without unmapping a v4-in-v6
// address: if the address was stored in dual-stack v6 form, this
// reports v6 even though Type reports v4.
func (a Address) ActualType() AddrType {
	if !a.hasAddr {
		return AddrUndefined
	}
	if a.addrPort.Addr().Is4() {
		return AddrV4
	}
	return AddrV6
}

// Port returns the address's port.
func (a Address) Port() uint16 {
	if !a.hasAddr {
		return a.portOnly
	}
	return a.addrPort.Port()
}

// FullAddress returns the underlying netip.AddrPort, valid only if the
// address has a resolved IP (HasAddr).
func (a Address) FullAddress() netip.AddrPort { return a.addrPort }

// HasAddr reports whether this Address carries a resolved IP, as
// opposed to being a bare port.
func (a Address) HasAddr() bool { return a.hasAddr }
