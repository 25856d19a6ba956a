package certs

import (
	"crypto/ecdsa"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
)

// persistCertificate writes cert's leaf and private key as PEM files
// at certPath/keyPath.
func persistCertificate(certPath, keyPath string, cert tls.Certificate) error {
	certOut, err := os.OpenFile(certPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", certPath, err)
	}
	defer certOut.Close()
	for _, der := range cert.Certificate {
		if err := pem.Encode(certOut, &pem.Block{Type: "CERTIFICATE", Bytes: der}); err != nil {
			return fmt.Errorf("writing %s: %w", certPath, err)
		}
	}

	keyOut, err := os.OpenFile(keyPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("opening %s: %w", keyPath, err)
	}
	defer keyOut.Close()

	keyBytes, keyType, err := marshalPrivateKey(cert.PrivateKey)
	if err != nil {
		return err
	}
	return pem.Encode(keyOut, &pem.Block{Type: keyType, Bytes: keyBytes})
}

func marshalPrivateKey(key any) ([]byte, string, error) {
	switch k := key.(type) {
	case *ecdsa.PrivateKey:
		b, err := x509.MarshalECPrivateKey(k)
		return b, "EC PRIVATE KEY", err
	case *rsa.PrivateKey:
		return x509.MarshalPKCS1PrivateKey(k), "RSA PRIVATE KEY", nil
	default:
		return nil, "", fmt.Errorf("unsupported private key type %T", key)
	}
}
