package observer

import (
	"bufio"
	"bytes"
	"net/http"
	"net/textproto"
	"strconv"
	"strings"
)

// http1Parser incrementally consumes one direction of an HTTP/1
// connection's byte stream, emitting a request or response line plus
// headers each time it has accumulated a complete header block. Only
// the start-line and headers are reconstructed (spec §4.11 does not
// require body reassembly for the observer's purposes); the body is
// skipped over using Content-Length/chunked framing so the next
// message's start-line is found correctly.
type http1Parser struct {
	buf             bytes.Buffer
	isRequest       bool
	pendingBodyLeft int64
	pendingChunked  bool
}

func newHTTP1Parser(isRequest bool) *http1Parser {
	return &http1Parser{isRequest: isRequest}
}

// Feed appends chunk and returns every complete message parsed so
// far. Trailing partial data remains buffered for the next call.
func (p *http1Parser) Feed(chunk []byte) []parsedHTTP1Message {
	p.buf.Write(chunk)
	var out []parsedHTTP1Message

	for {
		if p.pendingBodyLeft > 0 || p.pendingChunked {
			if !p.skipBody() {
				break
			}
		}

		data := p.buf.Bytes()
		idx := bytes.Index(data, []byte("\r\n\r\n"))
		if idx < 0 {
			break
		}

		headerBlock := data[:idx+4]
		reader := bufio.NewReader(bytes.NewReader(headerBlock))
		tp := textproto.NewReader(reader)

		startLine, err := tp.ReadLine()
		if err != nil {
			p.buf.Next(idx + 4)
			continue
		}
		hdr, err := tp.ReadMIMEHeader()
		if err != nil && len(hdr) == 0 {
			p.buf.Next(idx + 4)
			continue
		}

		msg := parsedHTTP1Message{Headers: flattenHeader(http.Header(hdr))}
		if p.isRequest {
			parts := strings.SplitN(startLine, " ", 3)
			if len(parts) >= 2 {
				msg.Method = parts[0]
				msg.Path = parts[1]
			}
		} else {
			parts := strings.SplitN(startLine, " ", 3)
			if len(parts) >= 2 {
				msg.StatusCode, _ = strconv.Atoi(parts[1])
			}
		}
		msg.IsWebSocketUpgrade = !p.isRequest && msg.StatusCode == http.StatusSwitchingProtocols &&
			strings.EqualFold(hdr.Get("Upgrade"), "websocket")

		p.buf.Next(idx + 4)
		p.setBodyFraming(hdr)
		out = append(out, msg)

		if msg.IsWebSocketUpgrade {
			break // everything after this belongs to the upgraded protocol
		}
	}
	return out
}

func (p *http1Parser) setBodyFraming(hdr textproto.MIMEHeader) {
	if strings.EqualFold(hdr.Get("Transfer-Encoding"), "chunked") {
		p.pendingChunked = true
		return
	}
	if cl := hdr.Get("Content-Length"); cl != "" {
		if n, err := strconv.ParseInt(cl, 10, 64); err == nil {
			p.pendingBodyLeft = n
		}
	}
}

// skipBody consumes buffered body bytes it can account for; returns
// false if it needs more data before it can continue.
func (p *http1Parser) skipBody() bool {
	if p.pendingBodyLeft > 0 {
		avail := int64(p.buf.Len())
		if avail < p.pendingBodyLeft {
			p.buf.Next(p.buf.Len())
			p.pendingBodyLeft -= avail
			return false
		}
		p.buf.Next(int(p.pendingBodyLeft))
		p.pendingBodyLeft = 0
		return true
	}
	if p.pendingChunked {
		data := p.buf.Bytes()
		idx := bytes.Index(data, []byte("0\r\n\r\n"))
		if idx < 0 {
			return false
		}
		p.buf.Next(idx + 5)
		p.pendingChunked = false
		return true
	}
	return true
}

type parsedHTTP1Message struct {
	Method             string
	Path               string
	StatusCode         int
	Headers            map[string]string
	IsWebSocketUpgrade bool
}

func flattenHeader(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k := range h {
		out[k] = h.Get(k)
	}
	return out
}
