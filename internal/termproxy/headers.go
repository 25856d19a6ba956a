package termproxy

import (
	"net/http"
	"strings"
)

// hopByHopHeaders lists headers meaningful only between adjacent
// connections, never forwarded end to end (spec §4.3 step 5).
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// StripHopByHopHeaders deletes the fixed hop-by-hop set, any headers
// the Connection header names, and Upgrade-Insecure-Requests, in
// place. It is a pure function over an http.Header so it can be
// exercised identically for both the outbound request and the inbound
// response, independent of any net/http plumbing.
func StripHopByHopHeaders(h http.Header) {
	if c := h.Get("Connection"); c != "" {
		for _, f := range strings.Split(c, ",") {
			if f = strings.TrimSpace(f); f != "" {
				h.Del(f)
			}
		}
	}
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
	h.Del("Upgrade-Insecure-Requests")
}

// ReinjectUpgradeHeaders restores Upgrade/Connection: Upgrade on an
// outbound request after StripHopByHopHeaders removed them, for the
// case where the request is itself an upgrade being forwarded (spec
// §4.3 step 5).
func ReinjectUpgradeHeaders(h http.Header, upgradeProtocol string) {
	h.Set("Upgrade", upgradeProtocol)
	h.Set("Connection", "Upgrade")
}
