//go:build !windows

package oddbox

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// reusePortControl sets SO_REUSEADDR on the listening socket, the same
// best-effort courtesy the teacher's listen_unix.go extends restarted
// listeners so a quick rebind after a crash doesn't fail with "address
// already in use".
func reusePortControl(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}
