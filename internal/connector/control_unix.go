//go:build unix

package connector

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// bindControl marks an explicitly bound local endpoint reusable, so
// reconnecting from the same source port does not fail while an earlier
// connection lingers in TIME_WAIT.
func bindControl(network, address string, c syscall.RawConn) error {
	var serr error
	if err := c.Control(func(fd uintptr) {
		serr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	}); err != nil {
		return err
	}
	return serr
}
