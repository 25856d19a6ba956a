package globalstate

import (
	"runtime"
	"sync"
	"time"
)

// ConnectionRecord is created on accept and carries everything the
// observer and admin surface need to describe a live connection
// (spec §3). Closing the record removes it from the active-connections
// map it was tracked in.
type ConnectionRecord struct {
	Key              ConnKey
	SourceAddr       string
	TargetHost       string
	TLSTerminated    bool
	HTTPTerminated   bool
	OutgoingScheme   string
	OutgoingVersion  string
	AcceptedAt       time.Time

	mu     sync.Mutex
	closed bool
	gs     *GlobalState
}

// Close marks the record closed and untracks it; idempotent.
func (c *ConnectionRecord) Close() {
	c.mu.Lock()
	c.closed = true
	gs := c.gs
	c.mu.Unlock()
	if gs != nil {
		gs.Untrack(c.Key)
	}
}

func (c *ConnectionRecord) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Track registers rec in the active-connections map; rec.Close removes
// it again. A finalizer also calls Untrack, but because the map holds
// a strong reference it can only run once the record has already been
// removed.
func (gs *GlobalState) Track(rec *ConnectionRecord) {
	rec.mu.Lock()
	rec.gs = gs
	rec.mu.Unlock()
	gs.activeConnections.Store(rec.Key, rec)
	if gs.Metrics != nil {
		gs.Metrics.ActiveConnections.Inc()
	}
	runtime.SetFinalizer(rec, func(r *ConnectionRecord) {
		gs.Untrack(r.Key)
	})
}

// Untrack removes a connection record, e.g. once its socket closes.
func (gs *GlobalState) Untrack(key ConnKey) {
	if _, existed := gs.activeConnections.LoadAndDelete(key); existed {
		if gs.Metrics != nil {
			gs.Metrics.ActiveConnections.Dec()
		}
	}
}

// Lookup returns the active connection record for key, if tracked.
func (gs *GlobalState) Lookup(key ConnKey) (*ConnectionRecord, bool) {
	v, ok := gs.activeConnections.Load(key)
	if !ok {
		return nil, false
	}
	return v.(*ConnectionRecord), true
}

// NewConnectionRecord allocates and tracks a new record for an
// accepted connection.
func (gs *GlobalState) NewConnectionRecord(sourceAddr string) *ConnectionRecord {
	rec := &ConnectionRecord{
		Key:        gs.NextConnKey(),
		SourceAddr: sourceAddr,
		AcceptedAt: time.Now(),
	}
	gs.Track(rec)
	return rec
}
