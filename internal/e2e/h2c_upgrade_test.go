package e2e

import (
	"bufio"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/termproxy"
)

// TestTerminatedH2CUpgrade implements spec §8 scenario 2: a client
// sends an HTTP/1.1 GET with Upgrade: h2c to the cleartext listener;
// the proxy terminates the request, relays the upgrade to a backend
// hinting H2C, and tunnels whatever the backend answers with back to
// the client once the 101 handshake completes. Like the teacher's own
// upgrade tests (caddyhttp/proxy/proxy_test.go asserts the raw
// Switching-Protocols bytes rather than decoding a full protocol), this
// checks the tunneled bytes after the handshake rather than building a
// real HTTP/2 frame reader.
func TestTerminatedH2CUpgrade(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backendLn.Close()

	backendDone := make(chan struct{})
	go func() {
		defer close(backendDone)
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()

		reader := bufio.NewReader(conn)
		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}
		if req.Header.Get("Upgrade") != "h2c" {
			return
		}

		conn.Write([]byte("HTTP/1.1 101 Switching Protocols\r\nConnection: Upgrade\r\nUpgrade: h2c\r\n\r\n"))
		conn.Write([]byte("BACKEND-H2C-FRAME"))

		fromClient := make([]byte, len("CLIENT-H2C-FRAME"))
		if _, err := reader.Read(fromClient); err == nil {
			conn.Write([]byte("got:" + string(fromClient)))
		}
	}()

	backendPort := backendLn.Addr().(*net.TCPAddr).Port
	cfg := &config.Config{
		RemoteTargets: []config.RemoteSite{{
			HostName: "svc.local",
			Backends: []config.Backend{{
				Address: "127.0.0.1",
				Port:    uint16(backendPort),
				Hints:   []config.Hint{config.HintH2C},
			}},
		}},
	}
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	svc := termproxy.NewService(gs, nil)
	proxy := httptest.NewServer(svc)
	defer proxy.Close()

	proxyConn, err := net.Dial("tcp", proxy.Listener.Addr().String())
	require.NoError(t, err)
	defer proxyConn.Close()
	proxyConn.SetDeadline(time.Now().Add(3 * time.Second))

	req := "GET /chat HTTP/1.1\r\n" +
		"Host: svc.local\r\n" +
		"Connection: Upgrade\r\n" +
		"Upgrade: h2c\r\n" +
		"HTTP2-Settings: AAMAAABkAAQAAP__\r\n\r\n"
	_, err = proxyConn.Write([]byte(req))
	require.NoError(t, err)

	clientReader := bufio.NewReader(proxyConn)
	resp, err := http.ReadResponse(clientReader, nil)
	require.NoError(t, err)
	require.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	frame := make([]byte, len("BACKEND-H2C-FRAME"))
	_, err = clientReader.Read(frame)
	require.NoError(t, err)
	require.Equal(t, "BACKEND-H2C-FRAME", string(frame))

	_, err = proxyConn.Write([]byte("CLIENT-H2C-FRAME"))
	require.NoError(t, err)

	ack := make([]byte, len("got:CLIENT-H2C-FRAME"))
	_, err = clientReader.Read(ack)
	require.NoError(t, err)
	require.Equal(t, "got:CLIENT-H2C-FRAME", string(ack))

	<-backendDone
}
