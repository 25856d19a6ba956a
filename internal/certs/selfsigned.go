// Package certs implements the certificate resolver from spec §4.7:
// a self-signed cache backed by on-disk PEMs, an ACME-issued cache
// layered in front of it when enabled, and the HTTP-01 challenge
// handler the ACME flow needs.
package certs

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"time"
)

// newSelfSignedCertificate generates an ECDSA P-256 self-signed
// certificate for hostname, valid for one year.
func newSelfSignedCertificate(hostname string) (tls.Certificate, error) {
	privKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating private key: %w", err)
	}

	notBefore := time.Now()
	notAfter := notBefore.AddDate(1, 0, 0)
	serialLimit := new(big.Int).Lsh(big.NewInt(1), 128)
	serial, err := rand.Int(rand.Reader, serialLimit)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("generating serial number: %w", err)
	}

	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{Organization: []string{"oddbox self-signed"}},
		NotBefore:    notBefore,
		NotAfter:     notAfter,
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{hostname},
	}

	derBytes, err := x509.CreateCertificate(rand.Reader, template, template, &privKey.PublicKey, privKey)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("creating certificate: %w", err)
	}

	return tls.Certificate{
		Certificate: [][]byte{derBytes},
		PrivateKey:  privKey,
		Leaf:        template,
	}, nil
}

// selfSignedDir is the on-disk location for hostname's self-signed
// pair, under the cache root (spec §6's .odd_box_cache layout).
func selfSignedDir(cacheRoot, hostname string) string {
	return filepath.Join(cacheRoot, hostname)
}

// loadOrCreateSelfSigned loads cert.pem/key.pem for hostname if
// present, otherwise generates and persists a new pair (spec §4.7
// step 3).
func loadOrCreateSelfSigned(cacheRoot, hostname string) (tls.Certificate, error) {
	dir := selfSignedDir(cacheRoot, hostname)
	certPath := filepath.Join(dir, "cert.pem")
	keyPath := filepath.Join(dir, "key.pem")

	if cert, err := tls.LoadX509KeyPair(certPath, keyPath); err == nil {
		return withParsedLeaf(cert)
	}

	cert, err := newSelfSignedCertificate(hostname)
	if err != nil {
		return tls.Certificate{}, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return tls.Certificate{}, fmt.Errorf("creating cache dir: %w", err)
	}
	if err := persistCertificate(certPath, keyPath, cert); err != nil {
		return tls.Certificate{}, err
	}
	return cert, nil
}

func withParsedLeaf(cert tls.Certificate) (tls.Certificate, error) {
	if cert.Leaf == nil && len(cert.Certificate) > 0 {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return tls.Certificate{}, fmt.Errorf("parsing cached leaf: %w", err)
		}
		cert.Leaf = leaf
	}
	return cert, nil
}
