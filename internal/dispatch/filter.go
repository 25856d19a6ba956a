package dispatch

import (
	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/peek"
)

// Filter is the protocol-aware backend filter from spec §4.6.
type Filter int

const (
	FilterHttp1 Filter = iota
	FilterHttp2
	FilterH2CPriorKnowledge
	FilterH2C
	FilterAnyTLS
	// FilterPlaintext matches only backends with https=false. It backs
	// the tunnel engine's scheme-mismatch path (spec §4.5): when the
	// incoming connection's scheme has no same-scheme backend, the
	// dispatcher selects among the opposite-scheme ones instead.
	FilterPlaintext
	FilterAny
)

// ComputeFilter derives the filter from (incoming_version,
// tls_terminated, is_h2c_upgrade) per the spec §4.3 step 4 table.
func ComputeFilter(version peek.HTTPVersion, tlsTerminated bool, isH2CUpgrade bool) Filter {
	switch {
	case version == peek.Version2 && !tlsTerminated && !isH2CUpgrade:
		return FilterH2CPriorKnowledge
	case (version == peek.Version11) && isH2CUpgrade:
		return FilterH2C
	case version == peek.Version2 && tlsTerminated:
		return FilterHttp2
	case (version == peek.Version10 || version == peek.Version11) && !isH2CUpgrade:
		return FilterHttp1
	case version == peek.VersionNone && tlsTerminated:
		return FilterAnyTLS
	default:
		return FilterAny
	}
}

// FilterBackends returns the subset of backends matching filter (spec
// §4.6's filter semantics).
func FilterBackends(backends []config.Backend, filter Filter) []config.Backend {
	var out []config.Backend
	for _, b := range backends {
		if backendMatches(b, filter) {
			out = append(out, b)
		}
	}
	return out
}

func backendMatches(b config.Backend, filter Filter) bool {
	switch filter {
	case FilterHttp1:
		return len(b.Hints) == 0 || b.SupportsHint(config.HintH1)
	case FilterHttp2:
		return b.SupportsHint(config.HintH2)
	case FilterH2CPriorKnowledge:
		return b.SupportsHint(config.HintH2CPK)
	case FilterH2C:
		return b.SupportsHint(config.HintH2C)
	case FilterAnyTLS:
		return b.HTTPS
	case FilterPlaintext:
		return !b.HTTPS
	case FilterAny:
		return true
	default:
		return true
	}
}

// SelectBackend applies the filter and picks among the surviving
// backends using the per-hostname round-robin cursor (spec §4.5/§4.6):
// the counter is incremented once per successful selection and used
// as the index modulo the filtered set's size.
func SelectBackend(gs *globalstate.GlobalState, hostname string, backends []config.Backend, filter Filter) (config.Backend, bool) {
	filtered := FilterBackends(backends, filter)
	switch len(filtered) {
	case 0:
		return config.Backend{}, false
	case 1:
		return filtered[0], true
	default:
		cursor := gs.IncrementHostnameCounter(hostname)
		return filtered[cursor%uint64(len(filtered))], true
	}
}
