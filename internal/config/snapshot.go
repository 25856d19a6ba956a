package config

import (
	"os"
	"strings"
)

// Snapshot is an immutable configuration generation: a Config plus the
// internal_version counter that increases on each successful reload
// (spec §3). Readers take a *Snapshot reference; writers always swap
// the whole pointer, never mutate a Config reachable from an installed
// snapshot.
type Snapshot struct {
	Cfg             *Config
	InternalVersion uint64
	// CORSAllowedOrigin is read once from ODDBOX_CORS_ALLOWED_ORIGIN
	// (spec §6): "*" or a lowercased exact origin, or "" if unset. The
	// core never consults it itself; it is exposed purely for the
	// (out-of-scope) admin API to gate CORS and WebSocket origin checks.
	CORSAllowedOrigin string
}

// NewSnapshot wraps cfg at generation 0. Later generations are produced
// by the reload reconciler via Next.
func NewSnapshot(cfg *Config) *Snapshot {
	return &Snapshot{Cfg: cfg, InternalVersion: 0, CORSAllowedOrigin: corsAllowedOriginFromEnv()}
}

func corsAllowedOriginFromEnv() string {
	return strings.ToLower(strings.TrimSpace(os.Getenv("ODDBOX_CORS_ALLOWED_ORIGIN")))
}

// Next produces the following generation, bumping InternalVersion by
// exactly one (spec §4.10 step 3).
func (s *Snapshot) Next(cfg *Config) *Snapshot {
	v := uint64(0)
	origin := corsAllowedOriginFromEnv()
	if s != nil {
		v = s.InternalVersion + 1
	}
	return &Snapshot{Cfg: cfg, InternalVersion: v, CORSAllowedOrigin: origin}
}
