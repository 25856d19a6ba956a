// Package globalstate defines GlobalState, the single explicitly
// constructed value that replaces the scattered process-wide
// singletons of the original implementation (spec §9 "Global state &
// singletons"). Every component that needs shared state receives a
// handle to it rather than reaching for a package-level variable.
package globalstate

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
)

// SiteState mirrors spec §3's ProcState plus the sink states for
// non-supervised variants.
type SiteState string

const (
	SiteStopped  SiteState = "Stopped"
	SiteStarting SiteState = "Starting"
	SiteRunning  SiteState = "Running"
	SiteStopping SiteState = "Stopping"
	SiteFaulty   SiteState = "Faulty"
	SiteRemote   SiteState = "Remote"
	SiteDirSrv   SiteState = "DirServer"
	SiteDocker   SiteState = "Docker"
)

// SiteStatusEvent is published whenever a site's state changes.
type SiteStatusEvent struct {
	HostName string
	State    SiteState
}

// GlobalState is the shared handle passed to every long-lived
// component: listeners, the dispatcher, the supervisor pool, the
// reconciler, and the observer.
type GlobalState struct {
	Log *zap.Logger

	Metrics *metrics.Registry

	// AcceptSemaphore bounds concurrent inbound accepts (spec §4.1,
	// capacity ≈555).
	AcceptSemaphore *semaphore.Weighted

	// OutboundSemaphore bounds concurrent outbound HTTP client
	// requests issued by the terminating proxy (spec §4.3 step 6).
	OutboundSemaphore *semaphore.Weighted

	cfg atomic.Pointer[config.Snapshot]

	siteStatus sync.Map // hostname -> SiteState
	statusSubs sync.Map // int -> chan SiteStatusEvent
	statusSubID atomic.Int64

	connCounters sync.Map // hostname -> *atomic.Uint64

	activeConnections sync.Map // ConnKey -> *ConnectionRecord

	procControl *Broadcast[ProcMessage]
	observerBus *ObserverBus

	nextConnID atomic.Uint64

	ChallengeMap *ChallengeMap

	// exiting is flipped once during graceful shutdown; listeners
	// check it between accepts (spec §5 cancellation).
	exiting atomic.Bool
}

// ConnKey uniquely identifies a connection record, monotonically
// increasing (spec §3).
type ConnKey uint64

// New constructs a fully wired GlobalState. cfg is the initial
// configuration snapshot.
func New(log *zap.Logger, reg *metrics.Registry, cfg *config.Config) *GlobalState {
	if log == nil {
		log = zap.NewNop()
	}
	gs := &GlobalState{
		Log:               log,
		Metrics:           reg,
		AcceptSemaphore:   semaphore.NewWeighted(555),
		OutboundSemaphore: semaphore.NewWeighted(512),
		procControl:       NewBroadcast[ProcMessage](64),
		observerBus:       newObserverBus(1024, reg),
		ChallengeMap:      newChallengeMap(),
	}
	gs.cfg.Store(config.NewSnapshot(cfg))
	return gs
}

// Snapshot returns the currently active configuration generation.
// Callers must not mutate the returned value's Cfg.
func (gs *GlobalState) Snapshot() *config.Snapshot {
	return gs.cfg.Load()
}

// SwapSnapshot atomically installs a new configuration generation,
// linearizable with respect to concurrent Snapshot() calls (spec §5).
func (gs *GlobalState) SwapSnapshot(s *config.Snapshot) {
	gs.cfg.Store(s)
}

// SetSiteState updates a site's lifecycle state and notifies
// subscribers of the status map.
func (gs *GlobalState) SetSiteState(hostname string, s SiteState) {
	gs.siteStatus.Store(hostname, s)
	event := SiteStatusEvent{HostName: hostname, State: s}
	gs.statusSubs.Range(func(_, v any) bool {
		ch := v.(chan SiteStatusEvent)
		select {
		case ch <- event:
		default:
		}
		return true
	})
}

// SiteStateOf returns the current state of hostname, or SiteStopped if
// it has never been recorded.
func (gs *GlobalState) SiteStateOf(hostname string) SiteState {
	if v, ok := gs.siteStatus.Load(hostname); ok {
		return v.(SiteState)
	}
	return SiteStopped
}

// ResetSiteStatus clears the entire status map; used by the reconciler
// (spec §4.10 step 6) before repopulating it from the new config.
func (gs *GlobalState) ResetSiteStatus() {
	gs.siteStatus.Range(func(k, _ any) bool {
		gs.siteStatus.Delete(k)
		return true
	})
}

// SubscribeSiteStatus returns a channel of status change events and an
// unsubscribe function.
func (gs *GlobalState) SubscribeSiteStatus() (<-chan SiteStatusEvent, func()) {
	id := gs.statusSubID.Add(1)
	ch := make(chan SiteStatusEvent, 32)
	gs.statusSubs.Store(id, ch)
	return ch, func() { gs.statusSubs.Delete(id) }
}

// NextConnKey allocates the next monotonic connection id.
func (gs *GlobalState) NextConnKey() ConnKey {
	return ConnKey(gs.nextConnID.Add(1))
}

// IncrementHostnameCounter atomically bumps and returns the
// round-robin cursor for hostname (spec §4.5/§4.6).
func (gs *GlobalState) IncrementHostnameCounter(hostname string) uint64 {
	v, _ := gs.connCounters.LoadOrStore(hostname, new(atomic.Uint64))
	counter := v.(*atomic.Uint64)
	return counter.Add(1) - 1
}

// ProcControl returns the broadcast bus used to send process control
// messages (StartAll/StopAll/Start/Stop/Delete) to supervisors.
func (gs *GlobalState) ProcControl() *Broadcast[ProcMessage] { return gs.procControl }

// Observer returns the observer event bus.
func (gs *GlobalState) Observer() *ObserverBus { return gs.observerBus }

// Exiting reports whether a graceful shutdown is underway.
func (gs *GlobalState) Exiting() bool { return gs.exiting.Load() }

// BeginExit flips the exiting flag exactly once.
func (gs *GlobalState) BeginExit() bool {
	return gs.exiting.CompareAndSwap(false, true)
}

// Shutdown flips the exiting flag, then blocks until ctx is done.
func (gs *GlobalState) Shutdown(ctx context.Context) {
	gs.BeginExit()
	<-ctx.Done()
}
