package globalstate

import "github.com/oddbox-proxy/oddbox/internal/metrics"

// RawEventKind enumerates the events the observer consumes (spec
// §4.11). Kept in globalstate (rather than the observer package) so
// producers — the peek layer, the tunnel engine, the terminating proxy
// — do not need to import the observer's parsing internals, only this
// plain data contract.
type RawEventKind int

const (
	EventOpen RawEventKind = iota
	EventUpdate
	EventClose
	EventClientToBackend
	EventBackendToClient
)

// RawEvent is a single item published on the observer bus.
type RawEvent struct {
	Kind      RawEventKind
	ConnKey   ConnKey
	IsHTTP2   bool
	Bytes     []byte
	SiteHost  string
}

// ObserverBus is the bounded broadcast channel described in spec §5:
// producers publish without blocking; a lagging observer drops the
// oldest event and the drop is counted.
type ObserverBus struct {
	*Broadcast[RawEvent]
	metrics *metrics.Registry
}

func newObserverBus(capacity int, reg *metrics.Registry) *ObserverBus {
	return &ObserverBus{Broadcast: NewBroadcast[RawEvent](capacity), metrics: reg}
}

// Publish delivers evt to every subscriber, incrementing the
// dropped-event counter for any subscriber that could not keep up.
func (b *ObserverBus) Publish(evt RawEvent) {
	dropped := b.Broadcast.Publish(evt)
	if dropped > 0 && b.metrics != nil {
		b.metrics.ObserverDroppedTotal.Add(float64(dropped))
	}
}
