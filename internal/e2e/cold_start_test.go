package e2e

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/termproxy"
)

// TestColdStart implements spec §8 scenario 4: a GET against a stopped
// hosted site renders the "please wait" page and publishes a Start
// control message; once the site reaches Running, the next GET is
// proxied straight to the backend. The supervisor's own spawn/backoff
// mechanics are covered by internal/supervisor's tests; this exercises
// the dispatcher/termproxy half of the handshake.
func TestColdStart(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "hello from cold.local")
	}))
	defer backend.Close()

	backendURL, err := url.Parse(backend.URL)
	require.NoError(t, err)
	backendPort, err := strconv.Atoi(backendURL.Port())
	require.NoError(t, err)

	cfg := &config.Config{
		HostedProcesses: []config.HostedProcess{{
			HostName: "cold.local",
			Bin:      "./sleep-then-bind",
			Port:     portPtr(uint16(backendPort)),
		}},
	}
	gs := globalstate.New(nil, metrics.NewRegistry(nil), cfg)
	svc := termproxy.NewService(gs, nil)

	ctrl, unsub := gs.ProcControl().Subscribe()
	defer unsub()

	// Bound the wait ourselves (the site never transitions to Running
	// here), rather than letting ServeHTTP's internal 10s+5s timeout
	// run its full course.
	shortCtx, shortCancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer shortCancel()

	req := httptest.NewRequest(http.MethodGet, "http://cold.local/", nil)
	req = req.WithContext(shortCtx)
	req.Host = "cold.local"
	rw := httptest.NewRecorder()
	svc.ServeHTTP(rw, req)

	require.Equal(t, http.StatusOK, rw.Code)
	require.Contains(t, rw.Body.String(), "please wait")
	require.Contains(t, rw.Body.String(), `meta http-equiv="refresh" content="5"`)

	msg := <-ctrl
	require.Equal(t, globalstate.ProcStart, msg.Kind)
	require.Equal(t, "cold.local", msg.Host)

	gs.SetSiteState("cold.local", globalstate.SiteRunning)
	time.Sleep(10 * time.Millisecond)

	req2 := httptest.NewRequest(http.MethodGet, "http://cold.local/", nil)
	req2.Host = "cold.local"
	rw2 := httptest.NewRecorder()
	svc.ServeHTTP(rw2, req2)

	require.Equal(t, http.StatusOK, rw2.Code)
	require.Equal(t, "hello from cold.local", rw2.Body.String())
}

func portPtr(p uint16) *uint16 { return &p }
