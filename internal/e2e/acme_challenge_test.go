package e2e

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
	"github.com/oddbox-proxy/oddbox/internal/termproxy"
)

// TestACMEHTTP01ChallengeServed covers the proxy-owned half of spec §8
// scenario 6: the cleartext listener must answer a CA's HTTP-01
// validation fetch at /.well-known/acme-challenge/<token> with the key
// authorization the issuer registered, for any Host header, and 404
// once the challenge is gone. The acmez RFC 8555 order/authorization
// flow itself (internal/certs' issuer) is out of scope for an
// httptest-only harness and isn't re-verified here; see DESIGN.md for
// why it stays unexercised by this suite.
func TestACMEHTTP01ChallengeServed(t *testing.T) {
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	svc := termproxy.NewService(gs, nil)
	proxy := httptest.NewServer(svc)
	defer proxy.Close()

	gs.ChallengeMap.Put("acme.local", "tok123", "tok123.thumbprint")

	resp, err := http.Get(proxy.URL + "/.well-known/acme-challenge/tok123")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "tok123.thumbprint", string(body))

	gs.ChallengeMap.Remove("acme.local", "tok123")
	require.Equal(t, 0, gs.ChallengeMap.Len())

	resp2, err := http.Get(proxy.URL + "/.well-known/acme-challenge/tok123")
	require.NoError(t, err)
	defer resp2.Body.Close()
	require.Equal(t, http.StatusNotFound, resp2.StatusCode)
}
