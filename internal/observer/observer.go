package observer

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// Observer consumes globalstate.RawEvent and republishes decoded
// HTTPEvents for downstream subscribers (spec §4.11).
type Observer struct {
	gs  *globalstate.GlobalState
	log *zap.Logger

	decoded *globalstate.Broadcast[HTTPEvent]

	mu    sync.Mutex
	conns map[globalstate.ConnKey]*TCPConnection
}

func New(gs *globalstate.GlobalState, log *zap.Logger) *Observer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Observer{
		gs:      gs,
		log:     log,
		decoded: globalstate.NewBroadcast[HTTPEvent](1024),
		conns:   make(map[globalstate.ConnKey]*TCPConnection),
	}
}

// Subscribe returns a channel of decoded events.
func (o *Observer) Subscribe() (<-chan HTTPEvent, func()) {
	return o.decoded.Subscribe()
}

// Run consumes the raw event bus until ctx-equivalent cancellation is
// signaled by closing the channel (the bus unsubscribes on caller
// teardown); it is meant to run for the process lifetime as its own
// goroutine.
func (o *Observer) Run(raw <-chan globalstate.RawEvent) {
	for evt := range raw {
		o.handle(evt)
	}
}

func (o *Observer) handle(evt globalstate.RawEvent) {
	switch evt.Kind {
	case globalstate.EventOpen:
		o.open(evt)
	case globalstate.EventClose:
		o.close(evt)
	case globalstate.EventClientToBackend:
		o.decode(evt, true)
	case globalstate.EventBackendToClient:
		o.decode(evt, false)
	}
}

func (o *Observer) open(evt globalstate.RawEvent) {
	o.mu.Lock()
	defer o.mu.Unlock()
	conn := &TCPConnection{
		Key:      evt.ConnKey,
		SiteHost: evt.SiteHost,
		IsHTTP2:  evt.IsHTTP2,
		OpenedAt: time.Now(),
	}
	if evt.IsHTTP2 {
		conn.h2 = newHTTP2ConnState()
	} else {
		conn.h1[0] = newHTTP1Parser(true)
		conn.h1[1] = newHTTP1Parser(false)
	}
	o.conns[evt.ConnKey] = conn
}

func (o *Observer) close(evt globalstate.RawEvent) {
	o.mu.Lock()
	conn, ok := o.conns[evt.ConnKey]
	if ok {
		now := time.Now()
		conn.ClosedAt = &now
		delete(o.conns, evt.ConnKey)
	}
	o.mu.Unlock()
}

func (o *Observer) decode(evt globalstate.RawEvent, clientToBackend bool) {
	o.mu.Lock()
	conn, ok := o.conns[evt.ConnKey]
	o.mu.Unlock()
	if !ok {
		return
	}

	if conn.IsHTTP2 {
		for _, ev := range conn.h2.Feed(evt.Bytes, clientToBackend) {
			ev.ConnKey = evt.ConnKey
			ev.Timestamp = time.Now()
			if dropped := o.decoded.Publish(ev); dropped > 0 && o.gs.Metrics != nil {
				o.gs.Metrics.ObserverDroppedTotal.Add(float64(dropped))
			}
		}
		return
	}

	idx := 0
	if !clientToBackend {
		idx = 1
	}
	parser := conn.h1[idx]
	if parser == nil {
		return
	}
	for _, msg := range parser.Feed(evt.Bytes) {
		dir := DirectionClientToBackend
		if !clientToBackend {
			dir = DirectionBackendToClient
		}
		kind := EventHeaders
		switch {
		case msg.IsWebSocketUpgrade:
			kind = EventProtocolSwitchedToWebSocket
			conn.SwitchedToWebSocket = true
		case msg.Method != "":
			kind = EventRequestLine
		case msg.StatusCode != 0:
			kind = EventResponseLine
		}
		ev := HTTPEvent{
			ConnKey:    evt.ConnKey,
			Direction:  dir,
			Kind:       kind,
			Method:     msg.Method,
			Path:       msg.Path,
			StatusCode: msg.StatusCode,
			Headers:    msg.Headers,
			Timestamp:  time.Now(),
		}
		if dropped := o.decoded.Publish(ev); dropped > 0 && o.gs.Metrics != nil {
			o.gs.Metrics.ObserverDroppedTotal.Add(float64(dropped))
		}
	}
}

// Reset clears all per-connection parser state (spec §4.11's "observer
// reset clears all per-connection state").
func (o *Observer) Reset() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conns = make(map[globalstate.ConnKey]*TCPConnection)
}
