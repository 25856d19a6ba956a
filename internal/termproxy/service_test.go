package termproxy

import (
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
)

func TestServeHTTP_ProxiesToMatchingBackend(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "svc.local", r.Host)
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "backend-reply")
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	port, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	cfg := &config.Config{
		RemoteTargets: []config.RemoteSite{{
			HostName: "svc.local",
			Backends: []config.Backend{{Address: "127.0.0.1", Port: uint16(port)}},
		}},
	}
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	svc := NewService(gs, nil)

	req := httptest.NewRequest(http.MethodGet, "http://svc.local/hello", nil)
	req.Host = "svc.local"
	rw := httptest.NewRecorder()

	svc.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	assert.Equal(t, "backend-reply", rw.Body.String())
}

func TestServeHTTP_UnknownHostReturns500WithDiagnostic(t *testing.T) {
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	svc := NewService(gs, nil)

	req := httptest.NewRequest(http.MethodGet, "http://nope.local/", nil)
	req.Host = "nope.local"
	rw := httptest.NewRecorder()

	svc.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusInternalServerError, rw.Code)
	assert.Contains(t, rw.Body.String(), "error class")
}

func TestServeHTTP_ControlCommandOnLoopbackDoesNotDispatch(t *testing.T) {
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	svc := NewService(gs, nil)

	ch, unsub := gs.ProcControl().Subscribe()
	defer unsub()

	req := httptest.NewRequest(http.MethodGet, "http://localhost/STOP?proc=all", nil)
	req.Host = "localhost"
	rw := httptest.NewRecorder()

	svc.ServeHTTP(rw, req)

	assert.Equal(t, http.StatusOK, rw.Code)
	msg := <-ch
	assert.Equal(t, globalstate.ProcStopAll, msg.Kind)
}
