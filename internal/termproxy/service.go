// Package termproxy implements the terminating HTTP service from spec
// §4.3: it serves requests whose connection has already been (or
// never needed to be) classified as "terminate", resolving a site,
// selecting a protocol-appropriate backend, and relaying the request
// and response with hop-by-hop headers stripped.
package termproxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/ddberr"
	"github.com/oddbox-proxy/oddbox/internal/dispatch"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/peek"
)

// Service is the http.Handler backing both the cleartext and
// TLS-terminated listeners.
type Service struct {
	GS      *globalstate.GlobalState
	Log     *zap.Logger
	clients *clientPool
}

func NewService(gs *globalstate.GlobalState, log *zap.Logger) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{GS: gs, Log: log, clients: newClientPool()}
}

func (s *Service) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if handleControlCommand(w, r, s.GS) {
		return
	}

	host := hostOnly(r)
	sites := dispatch.SitesFromConfig(s.GS.Snapshot().Cfg)
	site, capturedLabel, ok := dispatch.Match(sites, host)
	if !ok {
		writeDiagnostic(w, ddberr.New(ddberr.ClassOddBox, r.URL.String(), fmt.Errorf("no site matches host %q", host)))
		return
	}

	if dispatch.NeedsColdStart(s.GS, site) {
		ctx, cancel := context.WithTimeout(r.Context(), dispatch.ColdStartTimeout+5*time.Second)
		ready := dispatch.AwaitColdStart(ctx, s.GS, site.HostName)
		cancel()
		if !ready {
			if r.Method != http.MethodGet {
				// Spec §4.2 step 4: non-GET methods sleep and retry
				// the dispatch once rather than rendering the
				// GET-only "please wait" page.
				time.Sleep(3 * time.Second)
				if !dispatch.NeedsColdStart(s.GS, site) {
					s.dispatchToBackend(w, r, site, capturedLabel)
					return
				}
			}
			s.renderPleaseWait(w, r, site.HostName)
			return
		}
	}

	s.dispatchToBackend(w, r, site, capturedLabel)
}

func (s *Service) dispatchToBackend(w http.ResponseWriter, r *http.Request, site dispatch.Site, capturedLabel string) {
	incomingVersion := requestHTTPVersion(r)
	tlsTerminated := r.TLS != nil
	isH2CUpgrade := isH2CUpgradeRequest(r)
	filter := dispatch.ComputeFilter(incomingVersion, tlsTerminated, isH2CUpgrade)

	backend, ok := dispatch.SelectBackend(s.GS, site.HostName, site.Backends, filter)
	if !ok {
		writeDiagnostic(w, ddberr.New(ddberr.ClassOddBox, r.URL.String(), fmt.Errorf("no backend for site %q matches filter", site.HostName)))
		return
	}

	rec := s.GS.NewConnectionRecord(r.RemoteAddr)
	rec.TargetHost = site.HostName
	rec.TLSTerminated = tlsTerminated
	rec.HTTPTerminated = true

	if isWebSocketUpgrade(r) {
		forwardedLabel := ""
		if site.ForwardSubdomains {
			forwardedLabel = capturedLabel
		}
		s.ServeWebSocket(w, r, site.HostName, forwardedLabel, backend, rec)
		return
	}
	defer rec.Close()

	outboundHost := dispatch.ResolveOutboundHost(site, capturedLabel, backend)
	scheme := backendScheme(backend.HTTPS)
	outboundURL := buildOutboundURL(scheme, outboundHost, backend.Port, r.URL.RequestURI())
	rec.OutgoingScheme = scheme

	outreq, err := s.buildOutboundRequest(r, outboundURL, isH2CUpgrade)
	if err != nil {
		writeDiagnostic(w, ddberr.New(ddberr.ClassInvalidURI, outboundURL, err))
		return
	}

	if err := s.GS.OutboundSemaphore.Acquire(r.Context(), 1); err != nil {
		writeDiagnostic(w, ddberr.New(ddberr.ClassOddBox, outboundURL, err))
		return
	}
	defer s.GS.OutboundSemaphore.Release(1)

	client := s.clients.clientFor(filter, backend.HTTPS)
	s.publishObserverEvent(rec.Key, site.HostName, fmt.Sprintf("%s %s", r.Method, outboundURL))

	resp, err := client.Do(outreq)
	if err != nil {
		writeDiagnostic(w, ddberr.New(ddberr.ClassHyper, outboundURL, err))
		if s.GS.Metrics != nil {
			s.GS.Metrics.BackendErrorsTotal.WithLabelValues(string(ddberr.ClassHyper)).Inc()
		}
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusSwitchingProtocols {
		s.handleProtocolSwitch(w, r, resp)
		return
	}

	StripHopByHopHeaders(resp.Header)
	copyHeader(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	io.Copy(w, resp.Body)

	s.publishObserverEvent(rec.Key, site.HostName, fmt.Sprintf("%d %s", resp.StatusCode, outboundURL))
}

func (s *Service) buildOutboundRequest(r *http.Request, outboundURL string, isH2CUpgrade bool) (*http.Request, error) {
	outreq, err := http.NewRequestWithContext(r.Context(), r.Method, outboundURL, r.Body)
	if err != nil {
		return nil, err
	}
	outreq.Header = r.Header.Clone()
	outreq.Host = r.Host

	wasUpgrade := outreq.Header.Get("Upgrade")
	StripHopByHopHeaders(outreq.Header)
	if isH2CUpgrade && wasUpgrade != "" {
		ReinjectUpgradeHeaders(outreq.Header, wasUpgrade)
	}
	return outreq, nil
}

func (s *Service) handleProtocolSwitch(w http.ResponseWriter, r *http.Request, resp *http.Response) {
	backendConn, ok := resp.Body.(io.ReadWriteCloser)
	if !ok {
		writeDiagnostic(w, ddberr.New(ddberr.ClassUpgrade, r.URL.String(), errors.New("backend did not return a hijackable connection for 101")))
		return
	}
	runUpgrade(w, r, resp, backendConn)
}

func (s *Service) publishObserverEvent(key globalstate.ConnKey, host, summary string) {
	s.GS.Observer().Publish(globalstate.RawEvent{
		Kind:     globalstate.EventUpdate,
		ConnKey:  key,
		SiteHost: host,
		Bytes:    []byte(summary),
	})
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func hostOnly(r *http.Request) string {
	host := r.Host
	if host == "" {
		host = r.URL.Host
	}
	if idx := strings.LastIndexByte(host, ':'); idx >= 0 && !strings.Contains(host, "]") {
		return host[:idx]
	}
	return host
}

func requestHTTPVersion(r *http.Request) peek.HTTPVersion {
	switch {
	case r.ProtoMajor == 2:
		return peek.Version2
	case r.ProtoMajor == 1 && r.ProtoMinor == 1:
		return peek.Version11
	case r.ProtoMajor == 1 && r.ProtoMinor == 0:
		return peek.Version10
	default:
		return peek.VersionNone
	}
}

func isH2CUpgradeRequest(r *http.Request) bool {
	if !strings.EqualFold(r.Header.Get("Upgrade"), "h2c") {
		return false
	}
	hasConnUpgrade := false
	for _, tok := range strings.Split(r.Header.Get("Connection"), ",") {
		if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
			hasConnUpgrade = true
		}
	}
	return hasConnUpgrade && r.Header.Get("HTTP2-Settings") != ""
}

func writeDiagnostic(w http.ResponseWriter, derr *ddberr.Error) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusInternalServerError)
	io.WriteString(w, derr.DiagnosticBody())
}

// renderPleaseWait is reached for GET requests immediately, and for
// non-GET requests only once the sleep-and-retry in ServeHTTP has
// already been exhausted without the site coming up.
func (s *Service) renderPleaseWait(w http.ResponseWriter, r *http.Request, hostname string) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `<html><head><meta http-equiv="refresh" content="5"></head>`+
		`<body><h1>Starting %s, please wait...</h1></body></html>`, hostname)
}
