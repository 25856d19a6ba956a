// Package observer implements the cross-connection observer from spec
// §4.11: it subscribes to the raw byte event bus, reconstructs HTTP/1
// and HTTP/2 traffic per connection, and republishes decoded events
// for downstream subscribers such as an admin UI's live traffic view.
package observer

import (
	"time"

	"github.com/oddbox-proxy/oddbox/internal/globalstate"
)

// Direction distinguishes which leg of a connection a decoded event
// describes.
type Direction int

const (
	DirectionClientToBackend Direction = iota
	DirectionBackendToClient
)

// HTTPEventKind enumerates the decoded event shapes the parsers emit.
type HTTPEventKind int

const (
	EventRequestLine HTTPEventKind = iota
	EventResponseLine
	EventHeaders
	EventProtocolSwitchedToWebSocket
	EventStreamReset
	EventGoAway
)

// HTTPEvent is a single decoded unit of traffic, published on the
// decoded-event broadcast for downstream subscribers.
type HTTPEvent struct {
	ConnKey   globalstate.ConnKey
	Direction Direction
	Kind      HTTPEventKind
	IsHTTP2   bool
	StreamID  uint32

	Method     string
	Path       string
	StatusCode int
	Headers    map[string]string
	IsGRPC     bool

	Timestamp time.Time
}

// TCPConnection is the per-connection record the observer owns: the
// running parser state for each direction, plus bookkeeping mirrored
// from the connection record in globalstate.
type TCPConnection struct {
	Key       globalstate.ConnKey
	SiteHost  string
	IsHTTP2   bool
	OpenedAt  time.Time
	ClosedAt  *time.Time
	SwitchedToWebSocket bool

	h1 [2]*http1Parser
	h2 *http2ConnState
}
