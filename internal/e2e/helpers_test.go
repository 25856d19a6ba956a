// Package e2e drives the real listener accept loop (internal/e2e
// satisfies spec §8's "end-to-end scenarios" seed list) against
// loopback TCP and httptest servers, the same way caddytest/integration
// exercises the teacher's own HTTP server end to end rather than
// calling its handlers directly.
package e2e

import (
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// freePort asks the kernel for an unused loopback TCP port, the same
// "listen on :0, read the port, close it" trick the pack's own tests
// use (e.g. nabbar-golib/httpserver) to hand a concrete port to code
// that binds its own listener.
func freePort(t *testing.T) uint16 {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	return uint16(ln.Addr().(*net.TCPAddr).Port)
}

// writeConfig writes toml to a fresh odd-box.toml under a temp
// directory and returns its path.
func writeConfig(t *testing.T, toml string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "odd-box.toml")
	require.NoError(t, os.WriteFile(path, []byte(toml), 0o644))
	return path
}
