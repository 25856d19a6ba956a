package dispatch

import (
	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/peek"
)

// Disposition is the dispatcher's top-level routing decision (spec
// §4.2).
type Disposition int

const (
	DispositionTerminate Disposition = iota
	DispositionTunnelPlaintext
	DispositionTunnelTLS
	// DispositionTunnelSchemeMismatch is spec §4.5's "incoming traffic
	// is TLS but the only matching backend is plaintext (or vice
	// versa)" case: the tunnel engine terminates the incoming leg
	// itself and opens the opposite-scheme onward leg, rather than
	// handing the connection to the full HTTP-terminating service.
	DispositionTunnelSchemeMismatch
)

// Decide applies the spec §4.2 table: ClearText+host off the TLS port
// with a plaintext-capable backend tunnels; TLS+host on the TLS port
// with an https-capable backend tunnels; a same-scheme tunnel site
// with only an opposite-scheme backend gets the scheme-mismatch
// tunnel (spec §4.5); everything else terminates.
func Decide(result peek.PeekResult, onTLSPort bool, site Site) Disposition {
	if site.DisableTCPTunnelMode {
		return DispositionTerminate
	}
	if result.Type == peek.TypeClearText && result.TargetHost != "" && !onTLSPort {
		if anyBackendHTTPS(site.Backends, false) {
			return DispositionTunnelPlaintext
		}
		if anyBackendHTTPS(site.Backends, true) {
			return DispositionTunnelSchemeMismatch
		}
	}
	if result.Type == peek.TypeTLS && result.TargetHost != "" && onTLSPort {
		if anyBackendHTTPS(site.Backends, true) {
			return DispositionTunnelTLS
		}
		if anyBackendHTTPS(site.Backends, false) {
			return DispositionTunnelSchemeMismatch
		}
	}
	return DispositionTerminate
}

func anyBackendHTTPS(backends []config.Backend, want bool) bool {
	for _, b := range backends {
		if b.HTTPS == want {
			return true
		}
	}
	return false
}
