package e2e

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox"
	"github.com/oddbox-proxy/oddbox/internal/certs"
)

// TestTLSPassthrough implements spec §8 scenario 1: a client opens TLS
// to the proxy's TLS port with SNI sni.local; the only backend speaks
// HTTPS directly, so the proxy must never terminate the handshake and
// instead relay the exact ClientHello and everything after it.
func TestTLSPassthrough(t *testing.T) {
	resolver := certs.NewResolver(t.TempDir(), nil, nil)
	backendCert, err := resolver.GetCertificate(&tls.ClientHelloInfo{ServerName: "sni.local"})
	require.NoError(t, err)

	backendLn, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{*backendCert}})
	require.NoError(t, err)
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		conn.Write(buf[:n])
	}()

	backendPort := uint16(backendLn.Addr().(*net.TCPAddr).Port)
	httpPort, tlsPort := freePort(t), freePort(t)
	cfgPath := writeConfig(t, fmt.Sprintf(`
version = "V3"
http_port = %d
tls_port = %d

[[remote_target]]
host_name = "sni.local"
disable_tcp_tunnel_mode = false
backends = [{ address = "127.0.0.1", port = %d, https = true }]
`, httpPort, tlsPort, backendPort))

	app, err := oddbox.LoadApp(cfgPath)
	require.NoError(t, err)
	require.NoError(t, app.Listeners.Bind("127.0.0.1", httpPort, tlsPort))
	ctx, cancel := context.WithCancel(context.Background())
	app.Listeners.Serve(ctx)
	defer func() {
		cancel()
		app.Listeners.Close()
	}()

	conn, err := tls.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", tlsPort), &tls.Config{
		ServerName:         "sni.local",
		InsecureSkipVerify: true,
	})
	require.NoError(t, err)
	defer conn.Close()
	conn.SetDeadline(time.Now().Add(3 * time.Second))

	payload := []byte("ping-raw")
	_, err = conn.Write(payload)
	require.NoError(t, err)

	echoed := make([]byte, len(payload))
	_, err = io.ReadFull(conn, echoed)
	require.NoError(t, err)
	require.Equal(t, payload, echoed)
}
