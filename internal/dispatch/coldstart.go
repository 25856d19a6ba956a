package dispatch

import (
	"context"
	"time"

	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// ColdStartPollInterval and ColdStartTimeout implement spec §4.2's
// wait-for-cold-start poll: 100ms ticks, up to 10s total.
const (
	ColdStartPollInterval = 100 * time.Millisecond
	ColdStartTimeout      = 10 * time.Second
	ColdStartGrace        = 3 * time.Second
)

// AwaitColdStart publishes a Start(hostname) control message and polls
// the site-status map until the site reaches Running (then waits the
// additional bind grace period) or the timeout elapses. It returns
// true if the site became reachable.
func AwaitColdStart(ctx context.Context, gs *globalstate.GlobalState, hostname string) bool {
	gs.ProcControl().Publish(globalstate.Start(hostname))

	deadline := time.Now().Add(ColdStartTimeout)
	ticker := time.NewTicker(ColdStartPollInterval)
	defer ticker.Stop()

	for {
		if gs.SiteStateOf(hostname) == globalstate.SiteRunning {
			select {
			case <-time.After(ColdStartGrace):
			case <-ctx.Done():
			}
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// NeedsColdStart reports whether site's current state requires the
// dispatcher to start it before a backend connection can succeed.
func NeedsColdStart(gs *globalstate.GlobalState, site Site) bool {
	if site.Kind != SiteHosted {
		return false
	}
	switch gs.SiteStateOf(site.HostName) {
	case globalstate.SiteStopped, globalstate.SiteStarting:
		return true
	default:
		return false
	}
}
