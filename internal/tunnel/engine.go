package tunnel

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/dustin/go-humanize"
	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// ErrNoUsableBackendFound is returned when the backend leg cannot be
// established at all (spec §4.5): the dispatcher may retry via the
// terminating proxy path.
var ErrNoUsableBackendFound = errors.New("tunnel: no usable backend found")

// DialTimeout bounds how long the engine waits to establish the
// onward leg before giving up.
const DialTimeout = 5 * time.Second

// CertResolver is the subset of the certificate resolver (spec §4.7)
// the tunnel engine needs when it must terminate an incoming TLS
// connection itself before re-encrypting or relaying plaintext.
type CertResolver interface {
	GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error)
}

// Engine runs the TCP tunnel described in spec §4.5.
type Engine struct {
	GS    *globalstate.GlobalState
	Certs CertResolver
	Log   *zap.Logger
}

func New(gs *globalstate.GlobalState, certs CertResolver, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{GS: gs, Certs: certs, Log: log}
}

// RunPlaintext tunnels a cleartext client stream (already peeked) to a
// plaintext backend.
func (e *Engine) RunPlaintext(hostname string, client io.ReadWriteCloser, backend config.Backend) error {
	conn, err := e.dialBackend(backend, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoUsableBackendFound, err)
	}
	e.GS.IncrementHostnameCounter(hostname)
	e.logJoin(hostname, Join(client, conn))
	return nil
}

// RunTLSPassthrough tunnels raw TLS bytes (the client's ClientHello
// and everything after) straight through to a TLS-speaking backend,
// without ever decrypting them — the common "TLS passthrough" case
// from spec §8 scenario 1.
func (e *Engine) RunTLSPassthrough(hostname string, client io.ReadWriteCloser, backend config.Backend) error {
	conn, err := e.dialBackend(backend, false)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoUsableBackendFound, err)
	}
	e.GS.IncrementHostnameCounter(hostname)
	e.logJoin(hostname, Join(client, conn))
	return nil
}

// RunSchemeMismatch handles the case where the incoming traffic's
// scheme and the only matching backend's scheme disagree: the engine
// terminates the incoming TLS itself (using the certificate resolver)
// and opens the opposite-scheme onward leg, erecting TLS outward if
// the backend demands it.
func (e *Engine) RunSchemeMismatch(hostname string, client io.ReadWriteCloser, incomingIsTLS bool, backend config.Backend) error {
	var clientPlain io.ReadWriteCloser = client

	if incomingIsTLS {
		if e.Certs == nil {
			return fmt.Errorf("%w: TLS termination requested but no certificate resolver configured", ErrNoUsableBackendFound)
		}
		tlsConn := tls.Server(connAdapter{client}, &tls.Config{
			GetCertificate: e.Certs.GetCertificate,
		})
		if err := tlsConn.Handshake(); err != nil {
			return fmt.Errorf("tunnel: terminating incoming TLS: %w", err)
		}
		clientPlain = tlsConn
	}

	conn, err := e.dialBackend(backend, backend.HTTPS)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrNoUsableBackendFound, err)
	}
	e.GS.IncrementHostnameCounter(hostname)
	e.logJoin(hostname, Join(clientPlain, conn))
	return nil
}

func (e *Engine) logJoin(hostname string, stats JoinStats) {
	e.Log.Debug("tunnel closed",
		zap.String("host", hostname),
		zap.String("sent", humanize.Bytes(uint64(stats.ClientToBackend))),
		zap.String("received", humanize.Bytes(uint64(stats.BackendToClient))),
	)
}

func (e *Engine) dialBackend(backend config.Backend, viaTLS bool) (io.ReadWriteCloser, error) {
	addr := net.JoinHostPort(backend.Address, fmt.Sprintf("%d", backend.Port))
	dialer := &net.Dialer{Timeout: DialTimeout}

	if viaTLS {
		return tls.DialWithDialer(dialer, "tcp", addr, &tls.Config{})
	}
	return dialer.Dial("tcp", addr)
}

// connAdapter adapts an io.ReadWriteCloser (e.g. the sealed
// ManagedStream) to net.Conn so it can be handed to tls.Server, which
// only needs Read/Write/Close plus the deadline methods it tolerates
// being no-ops on.
type connAdapter struct {
	io.ReadWriteCloser
}

func (connAdapter) LocalAddr() net.Addr                { return dummyAddr{} }
func (connAdapter) RemoteAddr() net.Addr               { return dummyAddr{} }
func (connAdapter) SetDeadline(_ time.Time) error      { return nil }
func (connAdapter) SetReadDeadline(_ time.Time) error  { return nil }
func (connAdapter) SetWriteDeadline(_ time.Time) error { return nil }

type dummyAddr struct{}

func (dummyAddr) Network() string { return "tcp" }
func (dummyAddr) String() string  { return "" }

var _ net.Conn = connAdapter{}
