//go:build windows

package oddbox

import "syscall"

// reusePortControl is a no-op on Windows, which does not share the
// SO_REUSEADDR "address already in use" grace that BSD sockets have.
func reusePortControl(network, address string, c syscall.RawConn) error {
	return nil
}
