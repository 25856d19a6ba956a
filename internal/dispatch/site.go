// Package dispatch implements the classifier/dispatcher described in
// spec §4.2: given a PeekResult and the active configuration, it
// finds the matching site, picks a disposition (tunnel vs terminate),
// and selects a protocol-appropriate backend.
package dispatch

import (
	"net"
	"strings"

	"github.com/oddbox-proxy/oddbox/internal/config"
)

// SiteKind distinguishes the three site variants the original config
// can describe; the dispatcher treats them uniformly once resolved to
// this common shape.
type SiteKind int

const (
	SiteRemote SiteKind = iota
	SiteHosted
	SiteDirServer
)

// Site is the dispatcher's normalized view over a configured site,
// regardless of whether it originated from remote_target,
// hosted_process, or dir_server.
type Site struct {
	Kind                 SiteKind
	HostName             string
	CaptureSubdomains    bool
	ForwardSubdomains    bool
	DisableTCPTunnelMode bool
	EnableLetsEncrypt    bool
	Backends             []config.Backend

	// HostedProcess is non-nil only when Kind == SiteHosted, giving
	// the supervisor-facing fields (ProcID, AutoStart, ...).
	HostedProcess *config.HostedProcess
}

// SitesFromConfig flattens a Config's three site collections into the
// dispatcher's unified Site list.
func SitesFromConfig(cfg *config.Config) []Site {
	var out []Site
	for i := range cfg.RemoteTargets {
		r := &cfg.RemoteTargets[i]
		out = append(out, Site{
			Kind:                 SiteRemote,
			HostName:             r.HostName,
			CaptureSubdomains:    boolVal(r.CaptureSubdomains),
			ForwardSubdomains:    boolVal(r.ForwardSubdomains),
			DisableTCPTunnelMode: boolVal(r.DisableTCPTunnelMode),
			EnableLetsEncrypt:    boolVal(r.EnableLetsEncrypt),
			Backends:             r.Backends,
		})
	}
	for i := range cfg.HostedProcesses {
		h := &cfg.HostedProcesses[i]
		out = append(out, Site{
			Kind:                 SiteHosted,
			HostName:             h.HostName,
			CaptureSubdomains:    boolVal(h.CaptureSubdomains),
			ForwardSubdomains:    boolVal(h.ForwardSubdomains),
			DisableTCPTunnelMode: boolVal(h.DisableTCPTunnelMode),
			EnableLetsEncrypt:    boolVal(h.EnableLetsEncrypt),
			Backends:             []config.Backend{h.Backend()},
			HostedProcess:        h,
		})
	}
	for i := range cfg.DirServers {
		d := &cfg.DirServers[i]
		out = append(out, Site{
			Kind:                 SiteDirServer,
			HostName:             d.HostName,
			CaptureSubdomains:    boolVal(d.CaptureSubdomains),
			EnableLetsEncrypt:    boolVal(d.EnableLetsEncrypt),
			DisableTCPTunnelMode: true,
		})
	}
	return out
}

// Match finds the site serving host, honoring exact matches first and
// falling back to a capture_subdomains wildcard. It returns the
// matched site, the captured subdomain label (empty on exact match),
// and whether a site was found at all.
func Match(sites []Site, host string) (Site, string, bool) {
	host = stripPort(host)

	for _, s := range sites {
		if strings.EqualFold(s.HostName, host) {
			return s, "", true
		}
	}
	for _, s := range sites {
		if !s.CaptureSubdomains {
			continue
		}
		suffix := "." + s.HostName
		if strings.HasSuffix(strings.ToLower(host), strings.ToLower(suffix)) {
			label := host[:len(host)-len(suffix)]
			if label != "" {
				return s, label, true
			}
		}
	}
	return Site{}, "", false
}

func boolVal(p *bool) bool { return p != nil && *p }

func stripPort(host string) string {
	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

// ResolveOutboundHost computes the onward host per spec §4.2's
// subdomain-forwarding rule: when the site forwards subdomains and a
// subdomain label was captured, the backend address is itself
// subdomained; otherwise the backend address is used unchanged.
func ResolveOutboundHost(site Site, capturedLabel string, backend config.Backend) string {
	if site.ForwardSubdomains && capturedLabel != "" {
		return capturedLabel + "." + backend.Address
	}
	return backend.Address
}
