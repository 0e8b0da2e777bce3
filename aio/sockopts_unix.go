//go:build !windows

package aio

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// setReuseAddr is installed as a net.ListenConfig.Control callback so the
// listening socket carries SO_REUSEADDR before bind, the same low-level
// fd-option-setting idiom eventloop's poller files use x/sys/unix for
// (there, epoll registration; here, a plain setsockopt). Go's net package
// does not set this itself, and a Server restarted quickly after Shutdown
// would otherwise fail to rebind a recently-used port.
func setReuseAddr(_, _ string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
