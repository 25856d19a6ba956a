package e2e

import (
	"io"
	"net"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/websocket"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/termproxy"
)

// TestWebSocketEcho implements spec §8 scenario 3: a client upgrades
// ws://proxy/chat for host ws.local; the backend echoes frames
// verbatim, and a round trip of "ping-1" must return "ping-1".
func TestWebSocketEcho(t *testing.T) {
	backend := httptest.NewServer(websocket.Handler(func(ws *websocket.Conn) {
		io.Copy(ws, ws)
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	backendPort, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	cfg := &config.Config{
		RemoteTargets: []config.RemoteSite{{
			HostName: "ws.local",
			Backends: []config.Backend{{Address: "127.0.0.1", Port: uint16(backendPort)}},
		}},
	}
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	svc := termproxy.NewService(gs, nil)
	proxy := httptest.NewServer(svc)
	defer proxy.Close()

	// Dial the proxy's real loopback address, but run the WebSocket
	// handshake against the virtual ws.local host so the proxy's site
	// dispatch (by Host header) picks the right backend — the same
	// split real-socket/virtual-Host trick the h2c upgrade scenario
	// uses at the raw HTTP level.
	rawConn, err := net.Dial("tcp", proxy.Listener.Addr().String())
	require.NoError(t, err)
	defer rawConn.Close()
	rawConn.SetDeadline(time.Now().Add(3 * time.Second))

	wsConfig, err := websocket.NewConfig("ws://ws.local/chat", "http://ws.local")
	require.NoError(t, err)

	ws, err := websocket.NewClient(wsConfig, rawConn)
	require.NoError(t, err)
	defer ws.Close()

	require.NoError(t, websocket.Message.Send(ws, []byte("ping-1")))

	var reply []byte
	require.NoError(t, websocket.Message.Receive(ws, &reply))
	require.Equal(t, "ping-1", string(reply))
}
