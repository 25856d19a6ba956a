package observer

import (
	"bytes"
	"io"
	"strings"

	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"
)

var http2PrefaceBytes = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// http2ConnState holds the per-connection HTTP/2 decoding state: the
// HPACK decoders for each direction (request and response header
// blocks are compressed with independent dynamic tables), flow
// control window tracking, and per-stream header accumulation across
// HEADERS + CONTINUATION (spec §4.11).
type http2ConnState struct {
	prefaceConsumed bool

	reqBuf, respBuf bytes.Buffer

	reqDecoder  *hpack.Decoder
	respDecoder *hpack.Decoder
	reqFields   []hpack.HeaderField
	respFields  []hpack.HeaderField

	connWindowClientToBackend int32
	connWindowBackendToClient int32

	streams map[uint32]*http2StreamState
}

type http2StreamState struct {
	headerFragments []byte
	headersDone     bool
	window          int32
	isGRPC          bool
}

func newHTTP2ConnState() *http2ConnState {
	s := &http2ConnState{
		connWindowClientToBackend: 65535,
		connWindowBackendToClient: 65535,
		streams:                   make(map[uint32]*http2StreamState),
	}
	s.reqDecoder = hpack.NewDecoder(4096, func(f hpack.HeaderField) { s.reqFields = append(s.reqFields, f) })
	s.respDecoder = hpack.NewDecoder(4096, func(f hpack.HeaderField) { s.respFields = append(s.respFields, f) })
	return s
}

func (s *http2ConnState) streamState(id uint32) *http2StreamState {
	st, ok := s.streams[id]
	if !ok {
		st = &http2StreamState{window: 65535}
		s.streams[id] = st
	}
	return st
}

// Feed appends chunk for the given direction and decodes as many
// complete frames as are available, returning the events produced.
func (s *http2ConnState) Feed(chunk []byte, clientToBackend bool) []HTTPEvent {
	var buf *bytes.Buffer
	if clientToBackend {
		buf = &s.reqBuf
	} else {
		buf = &s.respBuf
	}
	buf.Write(chunk)

	if clientToBackend && !s.prefaceConsumed {
		if buf.Len() < len(http2PrefaceBytes) {
			return nil
		}
		if bytes.HasPrefix(buf.Bytes(), http2PrefaceBytes) {
			buf.Next(len(http2PrefaceBytes))
		}
		s.prefaceConsumed = true
	}

	var events []HTTPEvent
	for {
		frame, rest, ok := tryReadFrame(buf.Bytes())
		if !ok {
			break
		}
		buf.Next(len(buf.Bytes()) - len(rest))
		if ev, handled := s.handleFrame(frame, clientToBackend); handled {
			events = append(events, ev...)
		}
	}
	return events
}

// tryReadFrame attempts to decode one HTTP/2 frame from the front of
// data without consuming more than is available, returning the frame,
// the remaining unconsumed bytes, and whether a full frame was found.
func tryReadFrame(data []byte) (http2.Frame, []byte, bool) {
	if len(data) < 9 {
		return nil, data, false
	}
	length := int(data[0])<<16 | int(data[1])<<8 | int(data[2])
	total := 9 + length
	if len(data) < total {
		return nil, data, false
	}
	framer := http2.NewFramer(io.Discard, bytes.NewReader(data[:total]))
	framer.ReadMetaHeaders = nil
	frame, err := framer.ReadFrame()
	if err != nil {
		return nil, data[total:], false
	}
	return frame, data[total:], true
}

func (s *http2ConnState) handleFrame(frame http2.Frame, clientToBackend bool) ([]HTTPEvent, bool) {
	dir := DirectionClientToBackend
	if !clientToBackend {
		dir = DirectionBackendToClient
	}

	switch f := frame.(type) {
	case *http2.HeadersFrame:
		st := s.streamState(f.StreamID)
		st.headerFragments = append(st.headerFragments, f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			return s.finishHeaders(f.StreamID, st, dir, clientToBackend), true
		}
		return nil, true

	case *http2.ContinuationFrame:
		st := s.streamState(f.StreamID)
		st.headerFragments = append(st.headerFragments, f.HeaderBlockFragment()...)
		if f.HeadersEnded() {
			return s.finishHeaders(f.StreamID, st, dir, clientToBackend), true
		}
		return nil, true

	case *http2.WindowUpdateFrame:
		if f.Increment == 0 {
			return nil, true // protocol error, ignored per spec §4.11
		}
		if f.StreamID == 0 {
			if clientToBackend {
				s.connWindowClientToBackend += int32(f.Increment)
			} else {
				s.connWindowBackendToClient += int32(f.Increment)
			}
		} else {
			s.streamState(f.StreamID).window += int32(f.Increment)
		}
		return nil, true

	case *http2.RSTStreamFrame:
		delete(s.streams, f.StreamID)
		return []HTTPEvent{{StreamID: f.StreamID, Direction: dir, IsHTTP2: true, Kind: EventStreamReset}}, true

	case *http2.GoAwayFrame:
		return []HTTPEvent{{Direction: dir, IsHTTP2: true, Kind: EventGoAway}}, true

	default:
		return nil, true
	}
}

func (s *http2ConnState) finishHeaders(streamID uint32, st *http2StreamState, dir Direction, clientToBackend bool) []HTTPEvent {
	decoder := s.respDecoder
	if clientToBackend {
		decoder = s.reqDecoder
	}
	decoder.Write(st.headerFragments)

	var fields []hpack.HeaderField
	if clientToBackend {
		fields, s.reqFields = s.reqFields, nil
	} else {
		fields, s.respFields = s.respFields, nil
	}

	st.headerFragments = nil
	st.headersDone = true

	headers := make(map[string]string, len(fields))
	var method, path string
	statusCode := 0
	for _, f := range fields {
		headers[f.Name] = f.Value
		switch f.Name {
		case ":method":
			method = f.Value
		case ":path":
			path = f.Value
		case ":status":
			statusCode = atoiSafe(f.Value)
		case "content-type":
			if strings.HasPrefix(f.Value, "application/grpc") {
				st.isGRPC = true
			}
		}
	}

	kind := EventHeaders
	if clientToBackend {
		kind = EventRequestLine
	} else if statusCode != 0 {
		kind = EventResponseLine
	}

	return []HTTPEvent{{
		StreamID:   streamID,
		Direction:  dir,
		IsHTTP2:    true,
		Kind:       kind,
		Method:     method,
		Path:       path,
		StatusCode: statusCode,
		Headers:    headers,
		IsGRPC:     st.isGRPC,
	}}
}

func atoiSafe(s string) int {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0
		}
		n = n*10 + int(c-'0')
	}
	return n
}
