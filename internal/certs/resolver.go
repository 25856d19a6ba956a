package certs

import (
	"crypto/tls"
	"sync"
	"time"

	"go.uber.org/zap"
)

// freshnessWindow is the minimum remaining validity a cached
// certificate must have before it is considered usable without
// renewal (spec §4.7).
const freshnessWindow = 30 * 24 * time.Hour

// cacheEntry holds a cached certificate; its freshness is judged from
// the already-parsed leaf's NotAfter on each lookup.
type cacheEntry struct {
	cert *tls.Certificate
}

func (e *cacheEntry) fresh() bool {
	if e == nil || e.cert == nil || e.cert.Leaf == nil {
		return false
	}
	return time.Until(e.cert.Leaf.NotAfter) >= freshnessWindow
}

// Resolver implements the ResolvesServerCert-shaped interface from
// spec §4.7: GetCertificate consults the ACME cache, then the
// self-signed cache, generating and persisting a self-signed pair as
// the final fallback.
type Resolver struct {
	CacheRoot   string
	ACMEEnabled func(hostname string) bool
	Log         *zap.Logger

	mu         sync.RWMutex
	acmeCache  map[string]*cacheEntry
	selfSigned map[string]*cacheEntry
}

func NewResolver(cacheRoot string, acmeEnabled func(string) bool, log *zap.Logger) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	if acmeEnabled == nil {
		acmeEnabled = func(string) bool { return false }
	}
	return &Resolver{
		CacheRoot:   cacheRoot,
		ACMEEnabled: acmeEnabled,
		Log:         log,
		acmeCache:   make(map[string]*cacheEntry),
		selfSigned:  make(map[string]*cacheEntry),
	}
}

// GetCertificate implements crypto/tls's server certificate callback.
func (r *Resolver) GetCertificate(hello *tls.ClientHelloInfo) (*tls.Certificate, error) {
	hostname := hello.ServerName
	if hostname == "" {
		hostname = "default"
	}

	if r.ACMEEnabled(hostname) {
		if cert, ok := r.lookupACME(hostname); ok {
			return cert, nil
		}
	}

	if cert, ok := r.lookupSelfSigned(hostname); ok {
		return cert, nil
	}

	cert, err := loadOrCreateSelfSigned(r.CacheRoot, hostname)
	if err != nil {
		return nil, err
	}
	r.storeSelfSigned(hostname, &cert)
	return &cert, nil
}

func (r *Resolver) lookupACME(hostname string) (*tls.Certificate, bool) {
	r.mu.RLock()
	entry := r.acmeCache[hostname]
	r.mu.RUnlock()
	if entry.fresh() {
		return entry.cert, true
	}
	if entry != nil {
		r.mu.Lock()
		delete(r.acmeCache, hostname)
		r.mu.Unlock()
	}
	return nil, false
}

func (r *Resolver) lookupSelfSigned(hostname string) (*tls.Certificate, bool) {
	r.mu.RLock()
	entry := r.selfSigned[hostname]
	r.mu.RUnlock()
	if entry.fresh() {
		return entry.cert, true
	}
	if entry != nil {
		r.mu.Lock()
		delete(r.selfSigned, hostname)
		r.mu.Unlock()
	}
	return nil, false
}

func (r *Resolver) storeSelfSigned(hostname string, cert *tls.Certificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.selfSigned[hostname] = &cacheEntry{cert: cert}
}

// StoreACME installs a freshly issued ACME certificate into the cache
// (called by the ACME issuance flow once a certificate is obtained).
func (r *Resolver) StoreACME(hostname string, cert *tls.Certificate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.acmeCache[hostname] = &cacheEntry{cert: cert}
}
