package tunnel

import (
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
)

func TestRunPlaintext_RelaysBytesBothWays(t *testing.T) {
	backendLn, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer backendLn.Close()

	go func() {
		conn, err := backendLn.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 5)
		io.ReadFull(conn, buf)
		conn.Write([]byte("pong"))
	}()

	addr := backendLn.Addr().(*net.TCPAddr)
	backend := config.Backend{Address: "127.0.0.1", Port: uint16(addr.Port)}

	clientA, clientB := net.Pipe()
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	eng := New(gs, nil, nil)

	done := make(chan error, 1)
	go func() {
		done <- eng.RunPlaintext("svc.local", clientB, backend)
	}()

	clientA.Write([]byte("hello"))
	resp := make([]byte, 4)
	clientA.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(clientA, resp)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(resp))

	clientA.Close()
	<-done
}

func TestRunPlaintext_NoBackendReturnsSentinelError(t *testing.T) {
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	eng := New(gs, nil, nil)

	clientA, clientB := net.Pipe()
	defer clientA.Close()

	err := eng.RunPlaintext("svc.local", clientB, config.Backend{Address: "127.0.0.1", Port: 1})
	assert.ErrorIs(t, err, ErrNoUsableBackendFound)
}
