//go:build windows

package aio

import "syscall"

// setReuseAddr is a no-op on windows: SO_REUSEADDR has different (and
// generally undesirable) semantics there, so Server relies on the
// platform's default bind behavior instead.
func setReuseAddr(_, _ string, _ syscall.RawConn) error {
	return nil
}
