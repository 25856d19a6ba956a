package termproxy

import (
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// isLocalControlHost reports whether host addresses this process
// itself rather than a configured site, per spec §4.3 step 2.
func isLocalControlHost(host string) bool {
	h := strings.ToLower(host)
	return h == "127.0.0.1" || h == "localhost"
}

// acmeChallengePrefix is the well-known path ACME HTTP-01 validators
// fetch, on the cleartext port, regardless of which host they ask for
// (spec §4.7/§6).
const acmeChallengePrefix = "/.well-known/acme-challenge/"

// handleControlCommand serves the /STOP and /START admin endpoints
// when the request targets the proxy itself on loopback, and the ACME
// HTTP-01 well-known path for any host. It returns true if it handled
// the request.
func handleControlCommand(w http.ResponseWriter, r *http.Request, gs *globalstate.GlobalState) bool {
	if strings.HasPrefix(r.URL.Path, acmeChallengePrefix) {
		return handleACMEChallenge(w, r, gs)
	}

	if !isLocalControlHost(r.Host) {
		return false
	}
	if r.Method != http.MethodGet && r.Method != http.MethodPut {
		return false
	}

	proc := r.URL.Query().Get("proc")

	switch r.URL.Path {
	case "/STOP":
		publishControl(gs, proc, globalstate.StopAll, globalstate.Stop)
		writeControlPage(w, "Stopping", proc)
		return true
	case "/START":
		publishControl(gs, proc, globalstate.StartAll, globalstate.Start)
		writeControlPage(w, "Starting", proc)
		return true
	default:
		return false
	}
}

// handleACMEChallenge answers a CA's HTTP-01 validation fetch by
// looking the token up in the shared challenge map the ACME issuer
// populated before placing the order (spec §4.7).
func handleACMEChallenge(w http.ResponseWriter, r *http.Request, gs *globalstate.GlobalState) bool {
	token := strings.TrimPrefix(r.URL.Path, acmeChallengePrefix)
	keyAuth, ok := gs.ChallengeMap.KeyAuthorization(token)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return true
	}
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, keyAuth)
	return true
}

func publishControl(gs *globalstate.GlobalState, proc string, all func() globalstate.ProcMessage, one func(string) globalstate.ProcMessage) {
	if proc == "" || strings.EqualFold(proc, "all") {
		gs.ProcControl().Publish(all())
		return
	}
	gs.ProcControl().Publish(one(proc))
}

func writeControlPage(w http.ResponseWriter, verb, proc string) {
	target := proc
	if target == "" {
		target = "all"
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, "<html><body><h1>%s %s</h1></body></html>", verb, target)
}
