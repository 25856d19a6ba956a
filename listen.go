// Copyright 2015 Matthew Holt and The Caddy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// oddbox is the reverse proxy and local process supervisor described
// by the core engine under internal/. This file wires the two
// listening sockets (cleartext and TLS) to the peek/classify/dispatch
// pipeline: accept, peek without consuming, classify, then either
// tunnel the raw bytes to a backend or hand the connection to the
// terminating HTTP service.
package oddbox

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/certs"
	"github.com/oddbox-proxy/oddbox/internal/dispatch"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/peek"
	"github.com/oddbox-proxy/oddbox/internal/termproxy"
	"github.com/oddbox-proxy/oddbox/internal/tunnel"
)

// peekTimeout bounds how long a single Peek() call waits for more
// bytes before the listener gives up and routes what it has.
const peekTimeout = 2 * time.Second

// listeners owns the two bound sockets and the shared engine state
// they hand accepted connections to.
type listeners struct {
	gs       *globalstate.GlobalState
	resolver *certs.Resolver
	engine   *tunnel.Engine
	service  *termproxy.Service
	log      *zap.Logger

	cleartext net.Listener
	tlsPort   net.Listener
}

func newListeners(gs *globalstate.GlobalState, resolver *certs.Resolver, log *zap.Logger) *listeners {
	return &listeners{
		gs:       gs,
		resolver: resolver,
		engine:   tunnel.New(gs, resolver, log),
		service:  termproxy.NewService(gs, log),
		log:      log,
	}
}

// Bind opens both listening sockets on the configured IP/ports.
func (l *listeners) Bind(ip string, httpPort, tlsPort uint16) error {
	lc := net.ListenConfig{Control: reusePortControl}

	clear, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", httpPort)))
	if err != nil {
		return fmt.Errorf("binding cleartext listener: %w", err)
	}
	l.cleartext = clear

	tlsLn, err := lc.Listen(context.Background(), "tcp", net.JoinHostPort(ip, fmt.Sprintf("%d", tlsPort)))
	if err != nil {
		clear.Close()
		return fmt.Errorf("binding tls listener: %w", err)
	}
	l.tlsPort = tlsLn

	return nil
}

// Serve runs both accept loops until ctx is cancelled.
func (l *listeners) Serve(ctx context.Context) {
	go l.acceptLoop(ctx, l.cleartext, false)
	go l.acceptLoop(ctx, l.tlsPort, true)
}

func (l *listeners) Close() {
	if l.cleartext != nil {
		l.cleartext.Close()
	}
	if l.tlsPort != nil {
		l.tlsPort.Close()
	}
}

func (l *listeners) acceptLoop(ctx context.Context, ln net.Listener, onTLSPort bool) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if l.gs.Exiting() {
				return
			}
			select {
			case <-ctx.Done():
				return
			default:
			}
			l.log.Warn("accept failed", zap.Error(err))
			continue
		}
		if l.gs.Exiting() {
			conn.Close()
			continue
		}
		if !l.gs.AcceptSemaphore.TryAcquire(1) {
			conn.Close()
			continue
		}
		if l.gs.Metrics != nil {
			l.gs.Metrics.AcceptedConnections.Inc()
		}
		go func() {
			defer l.gs.AcceptSemaphore.Release(1)
			l.handle(conn, onTLSPort)
		}()
	}
}

// handle implements spec §4.1/§4.2: peek the connection prefix without
// consuming it, classify it, match the target site, and decide whether
// to tunnel the raw bytes or terminate HTTP on this proxy.
func (l *listeners) handle(conn net.Conn, onTLSPort bool) {
	managed := peek.NewManagedStream(conn)

	result := l.peekUntilClassified(managed)

	sites := dispatch.SitesFromConfig(l.gs.Snapshot().Cfg)
	site, capturedLabel, ok := dispatch.Match(sites, result.TargetHost)
	if !ok {
		l.serveTerminated(newConnAdapter(managed.Seal(), conn), onTLSPort, result)
		return
	}

	if dispatch.NeedsColdStart(l.gs, site) {
		ctx, cancel := context.WithTimeout(context.Background(), dispatch.ColdStartTimeout+5*time.Second)
		ready := dispatch.AwaitColdStart(ctx, l.gs, site.HostName)
		cancel()
		if !ready {
			l.serveTerminated(newConnAdapter(managed.Seal(), conn), onTLSPort, result)
			return
		}
	}

	disposition := dispatch.Decide(result, onTLSPort, site)
	stream := managed.Seal()

	switch disposition {
	case dispatch.DispositionTunnelPlaintext:
		backend, found := dispatch.SelectBackend(l.gs, site.HostName, site.Backends, dispatch.FilterPlaintext)
		if !found {
			l.serveTerminated(newConnAdapter(stream, conn), onTLSPort, result)
			return
		}
		backend.Address = dispatch.ResolveOutboundHost(site, capturedLabel, backend)
		if err := l.engine.RunPlaintext(site.HostName, stream, backend); err != nil {
			l.log.Warn("plaintext tunnel failed", zap.String("host", site.HostName), zap.Error(err))
		}
	case dispatch.DispositionTunnelTLS:
		backend, found := dispatch.SelectBackend(l.gs, site.HostName, site.Backends, dispatch.FilterAnyTLS)
		if !found {
			l.serveTerminated(newConnAdapter(stream, conn), onTLSPort, result)
			return
		}
		backend.Address = dispatch.ResolveOutboundHost(site, capturedLabel, backend)
		if err := l.engine.RunTLSPassthrough(site.HostName, stream, backend); err != nil {
			l.log.Warn("tls passthrough failed", zap.String("host", site.HostName), zap.Error(err))
		}
	case dispatch.DispositionTunnelSchemeMismatch:
		incomingIsTLS := result.Type == peek.TypeTLS
		filter := dispatch.FilterAnyTLS
		if incomingIsTLS {
			filter = dispatch.FilterPlaintext
		}
		backend, found := dispatch.SelectBackend(l.gs, site.HostName, site.Backends, filter)
		if !found {
			l.serveTerminated(newConnAdapter(stream, conn), onTLSPort, result)
			return
		}
		backend.Address = dispatch.ResolveOutboundHost(site, capturedLabel, backend)
		if err := l.engine.RunSchemeMismatch(site.HostName, stream, incomingIsTLS, backend); err != nil {
			l.log.Warn("scheme-mismatch tunnel failed", zap.String("host", site.HostName), zap.Error(err))
		}
	default:
		l.serveTerminated(newConnAdapter(stream, conn), onTLSPort, result)
	}
}

func (l *listeners) peekUntilClassified(managed *peek.ManagedStream) peek.PeekResult {
	ctx, cancel := context.WithTimeout(context.Background(), peekTimeout)
	defer cancel()

	for {
		result := peek.Classify(managed.Buffered())
		if result.Complete {
			return result
		}
		eof, _, err := managed.Peek(ctx)
		if eof || err != nil {
			return peek.Classify(managed.Buffered())
		}
	}
}

// serveTerminated hands the (possibly TLS-wrapped) stream to the
// terminating HTTP service via a one-shot net.Listener, the standard
// way to feed an already-accepted, already-sniffed connection into
// net/http without a second real socket.
func (l *listeners) serveTerminated(conn net.Conn, onTLSPort bool, result peek.PeekResult) {
	if onTLSPort && result.Type == peek.TypeTLS {
		conn = tls.Server(conn, &tls.Config{GetCertificate: l.resolver.GetCertificate})
	}

	srv := &http.Server{Handler: l.service}
	_ = srv.Serve(&oneConnListener{conn: conn})
}

// connAdapter adapts the sealed stream (an io.ReadWriteCloser replaying
// the peeked prefix) back into a net.Conn by borrowing the original
// connection's addresses and deadline methods, which the sealed stream
// itself does not need to implement.
type connAdapter struct {
	io.ReadWriteCloser
	orig net.Conn
}

func newConnAdapter(stream io.ReadWriteCloser, orig net.Conn) *connAdapter {
	return &connAdapter{ReadWriteCloser: stream, orig: orig}
}

func (c *connAdapter) LocalAddr() net.Addr                { return c.orig.LocalAddr() }
func (c *connAdapter) RemoteAddr() net.Addr               { return c.orig.RemoteAddr() }
func (c *connAdapter) SetDeadline(t time.Time) error      { return c.orig.SetDeadline(t) }
func (c *connAdapter) SetReadDeadline(t time.Time) error  { return c.orig.SetReadDeadline(t) }
func (c *connAdapter) SetWriteDeadline(t time.Time) error { return c.orig.SetWriteDeadline(t) }

var _ net.Conn = (*connAdapter)(nil)

// oneConnListener yields exactly one already-accepted connection, then
// reports the listener closed. http.Server.Serve's contract only needs
// Accept/Close/Addr, which this satisfies for a single connection.
type oneConnListener struct {
	conn net.Conn
	used bool
}

func (o *oneConnListener) Accept() (net.Conn, error) {
	if o.used {
		return nil, fmt.Errorf("oneConnListener: connection already served")
	}
	o.used = true
	return o.conn, nil
}

func (o *oneConnListener) Close() error   { return nil }
func (o *oneConnListener) Addr() net.Addr { return o.conn.LocalAddr() }
