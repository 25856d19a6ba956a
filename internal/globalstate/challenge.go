package globalstate

import "sync"

// ChallengeMap is the ACME HTTP-01 challenge map from spec §3: token
// to key-authorization, and domain to its pending token. Entries are
// created before an order is placed and removed once validation
// completes or times out (spec §4.7, §7).
type ChallengeMap struct {
	mu            sync.RWMutex
	tokenToKeyAuth map[string]string
	domainToToken  map[string]string
}

func newChallengeMap() *ChallengeMap {
	return &ChallengeMap{
		tokenToKeyAuth: make(map[string]string),
		domainToToken:  make(map[string]string),
	}
}

// Put registers a pending challenge for domain.
func (c *ChallengeMap) Put(domain, token, keyAuth string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokenToKeyAuth[token] = keyAuth
	c.domainToToken[domain] = token
}

// KeyAuthorization returns the key authorization for token, as served
// at /.well-known/acme-challenge/<token>.
func (c *ChallengeMap) KeyAuthorization(token string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.tokenToKeyAuth[token]
	return v, ok
}

// PendingToken returns the outstanding token for domain, if any.
func (c *ChallengeMap) PendingToken(domain string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.domainToToken[domain]
	return v, ok
}

// Remove deletes the challenge entries for domain/token once
// validation completes or is abandoned.
func (c *ChallengeMap) Remove(domain, token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.domainToToken, domain)
	delete(c.tokenToKeyAuth, token)
}

// Len reports the number of outstanding challenge tokens, used by
// tests to assert the map drains after ACME issuance (spec §8 scenario
// 6).
func (c *ChallengeMap) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.tokenToKeyAuth)
}
