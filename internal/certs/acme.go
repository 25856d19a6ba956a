package certs

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/mholt/acmez/v3"
	"github.com/mholt/acmez/v3/acme"
	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// PendingTimeout is spec §7's rule: a domain stuck "pending" for
// longer than this aborts issuance and falls through to self-signed.
const PendingTimeout = 10 * time.Second

// ACMEAccount models the on-disk account artifacts spec §6 describes
// under .odd_box_cache: an ECDSA account key and the directory's
// assigned account URL, both reused across restarts.
type ACMEAccount struct {
	PrivateKey *ecdsa.PrivateKey
	URL        string
}

// ACMEIssuer drives the RFC 8555 flow via acmez, publishing HTTP-01
// challenge responses through the shared ChallengeMap so the
// cleartext listener's /.well-known/acme-challenge/<token> handler
// can serve them (spec §4.7).
type ACMEIssuer struct {
	CacheRoot    string
	DirectoryURL string
	Email        string
	Challenges   *globalstate.ChallengeMap
	Resolver     *Resolver
	Log          *zap.Logger

	client *acmez.Client
}

func NewACMEIssuer(cacheRoot, directoryURL, email string, challenges *globalstate.ChallengeMap, resolver *Resolver, log *zap.Logger) *ACMEIssuer {
	if log == nil {
		log = zap.NewNop()
	}
	return &ACMEIssuer{
		CacheRoot:    cacheRoot,
		DirectoryURL: directoryURL,
		Email:        email,
		Challenges:   challenges,
		Resolver:     resolver,
		Log:          log,
		client: &acmez.Client{
			Client: &acme.Client{
				Directory:  directoryURL,
				HTTPClient: &http.Client{Timeout: 30 * time.Second},
			},
			ChallengeSolvers: map[string]acmez.Solver{},
		},
	}
}

// httpSolver implements acmez.Solver for the http-01 challenge type by
// publishing (token -> key_authorization) into the shared challenge
// map instead of binding its own listener; our own cleartext HTTP
// listener serves the well-known path.
type httpSolver struct {
	challenges *globalstate.ChallengeMap
}

func (s httpSolver) Present(ctx context.Context, chal acme.Challenge) error {
	s.challenges.Put(chal.Identifier.Value, chal.Token, chal.KeyAuthorization)
	return nil
}

func (s httpSolver) CleanUp(ctx context.Context, chal acme.Challenge) error {
	s.challenges.Remove(chal.Identifier.Value, chal.Token)
	return nil
}

func (a *ACMEIssuer) accountKeyPath() string {
	return filepath.Join(a.CacheRoot, "lets_encrypt_account_key.pem")
}

func (a *ACMEIssuer) accountURLPath() string {
	return filepath.Join(a.CacheRoot, "lets_encrypt_account_url")
}

// loadOrRegisterAccount reuses the persisted account key/URL if
// present, or generates a key and registers a fresh account (spec
// §4.7: "register or reuse on-disk account key and account URL").
func (a *ACMEIssuer) loadOrRegisterAccount(ctx context.Context) (acme.Account, error) {
	key, err := a.loadOrCreateAccountKey()
	if err != nil {
		return acme.Account{}, err
	}

	account := acme.Account{
		Contact:              []string{"mailto:" + a.Email},
		TermsOfServiceAgreed: true,
		PrivateKey:           key,
	}

	if existingURL, err := os.ReadFile(a.accountURLPath()); err == nil {
		account.Location = string(existingURL)
		return account, nil
	}

	registered, err := a.client.NewAccount(ctx, account)
	if err != nil {
		return acme.Account{}, fmt.Errorf("registering ACME account: %w", err)
	}
	if err := os.MkdirAll(a.CacheRoot, 0o700); err == nil {
		_ = os.WriteFile(a.accountURLPath(), []byte(registered.Location), 0o600)
	}
	return registered, nil
}

func (a *ACMEIssuer) loadOrCreateAccountKey() (*ecdsa.PrivateKey, error) {
	if data, err := os.ReadFile(a.accountKeyPath()); err == nil {
		block, _ := pem.Decode(data)
		if block != nil {
			if key, err := x509.ParseECPrivateKey(block.Bytes); err == nil {
				return key, nil
			}
		}
	}

	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating account key: %w", err)
	}
	der, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(a.CacheRoot, 0o700); err != nil {
		return nil, err
	}
	err = os.WriteFile(a.accountKeyPath(), pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: der}), 0o600)
	return key, err
}

// Issue runs the full order -> HTTP-01 challenge -> finalize -> fetch
// flow for hostname, persists the resulting PEMs under
// .odd_box_cache/lets_encrypt/<host>/, and installs the certificate
// into the resolver's ACME cache.
func (a *ACMEIssuer) Issue(ctx context.Context, hostname string) error {
	a.client.ChallengeSolvers[acme.ChallengeTypeHTTP01] = httpSolver{challenges: a.Challenges}

	ctx, cancel := context.WithTimeout(ctx, PendingTimeout)
	defer cancel()

	account, err := a.loadOrRegisterAccount(ctx)
	if err != nil {
		return err
	}

	certKey, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return fmt.Errorf("generating certificate key: %w", err)
	}

	certs, err := a.client.ObtainCertificate(ctx, account, certKey, []string{hostname}, false)
	if err != nil {
		return fmt.Errorf("obtaining certificate for %s: %w", hostname, err)
	}
	if len(certs) == 0 {
		return fmt.Errorf("acme: no certificate returned for %s", hostname)
	}

	leafChain := certs[0].ChainPEM
	dir := filepath.Join(a.CacheRoot, "lets_encrypt", hostname)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	certPath := filepath.Join(dir, hostname+".crt")
	keyPath := filepath.Join(dir, hostname+".key")
	if err := os.WriteFile(certPath, leafChain, 0o644); err != nil {
		return err
	}
	keyDER := x509.MarshalPKCS1PrivateKey(certKey)
	if err := os.WriteFile(keyPath, pem.EncodeToMemory(&pem.Block{Type: "RSA PRIVATE KEY", Bytes: keyDER}), 0o600); err != nil {
		return err
	}

	tlsCert, err := tls.LoadX509KeyPair(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("loading issued certificate: %w", err)
	}
	tlsCert, err = withParsedLeaf(tlsCert)
	if err != nil {
		return err
	}
	a.Resolver.StoreACME(hostname, &tlsCert)
	return nil
}
