package peek

import (
	"bytes"
	"strconv"
	"strings"
)

// HTTPVersion mirrors the http_version axis of PeekResult.
type HTTPVersion int

const (
	VersionNone HTTPVersion = iota
	Version09
	Version10
	Version11
	Version2
)

// StreamType is the typ axis of PeekResult.
type StreamType int

const (
	TypeUnknown StreamType = iota
	TypeTLS
	TypeClearText
)

// PeekResult is the classifier's verdict for a connection prefix
// (spec §4.1).
type PeekResult struct {
	Type        StreamType
	HTTPVersion HTTPVersion
	TargetHost  string
	IsH2CUpgrade bool

	// Complete is false when the buffered prefix was insufficient to
	// decide anything and the caller should peek further.
	Complete bool
}

// http2Preface is the connection preface every conforming HTTP/2
// cleartext client sends before any frames.
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

var http1Methods = []string{
	"GET", "POST", "PUT", "DELETE", "HEAD", "OPTIONS", "PATCH", "TRACE", "CONNECT",
}

// Classify inspects buf (the bytes peeked so far) and returns a
// PeekResult. Complete=false means: buffer more and call again.
func Classify(buf []byte) PeekResult {
	if len(buf) == 0 {
		return PeekResult{Complete: false}
	}

	if buf[0] == 0x16 {
		info, ok := ParseClientHello(buf)
		if !ok {
			if recordHeaderLooksLikeTLS(buf) {
				return PeekResult{Complete: false} // incomplete record
			}
			// malformed, not actually TLS; fall through to terminating proxy
			return PeekResult{Type: TypeUnknown, Complete: true}
		}
		return PeekResult{Type: TypeTLS, HTTPVersion: Version2, TargetHost: info.ServerName, Complete: true}
	}

	if len(buf) < len(http2Preface) {
		if bytes.HasPrefix(http2Preface, buf) {
			return PeekResult{Complete: false} // could still become the preface
		}
	} else if bytes.HasPrefix(buf, http2Preface) {
		return PeekResult{Type: TypeClearText, HTTPVersion: Version2, Complete: true}
	}

	return classifyHTTP1(buf)
}

func classifyHTTP1(buf []byte) PeekResult {
	hasKnownMethod := false
	for _, m := range http1Methods {
		if len(buf) >= len(m)+1 && string(buf[:len(m)]) == m && buf[len(m)] == ' ' {
			hasKnownMethod = true
			break
		}
		if len(buf) < len(m)+1 && len(m) > 0 && strings.HasPrefix(m, string(buf)) {
			return PeekResult{Complete: false} // could still match once more bytes arrive
		}
	}
	if !hasKnownMethod {
		return PeekResult{Type: TypeUnknown, Complete: true}
	}

	idx := bytes.Index(buf, []byte("\r\n\r\n"))
	if idx < 0 {
		if len(buf) >= maxPeekBytes {
			// never got a full header block; hand off anyway
			return headersOnlyResult(buf)
		}
		return PeekResult{Complete: false}
	}
	return headersOnlyResult(buf[:idx])
}

func headersOnlyResult(head []byte) PeekResult {
	lines := strings.Split(string(head), "\r\n")
	if len(lines) == 0 {
		return PeekResult{Type: TypeUnknown, Complete: true}
	}
	reqLine := lines[0]
	version := parseRequestLineVersion(reqLine)

	var host string
	var hasUpgradeH2C, hasConnUpgrade, hasH2CSettings bool
	for _, line := range lines[1:] {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			continue
		}
		name := strings.TrimSpace(line[:colon])
		val := strings.TrimSpace(line[colon+1:])
		switch strings.ToLower(name) {
		case "host":
			host = val
		case "upgrade":
			if strings.EqualFold(val, "h2c") {
				hasUpgradeH2C = true
			}
		case "connection":
			for _, tok := range strings.Split(val, ",") {
				if strings.EqualFold(strings.TrimSpace(tok), "upgrade") {
					hasConnUpgrade = true
				}
			}
		case "http2-settings":
			hasH2CSettings = true
		}
	}

	return PeekResult{
		Type:         TypeClearText,
		HTTPVersion:  version,
		TargetHost:   host,
		IsH2CUpgrade: hasUpgradeH2C && hasConnUpgrade && hasH2CSettings,
		Complete:     true,
	}
}

func parseRequestLineVersion(line string) HTTPVersion {
	const marker = "HTTP/"
	idx := strings.Index(line, marker)
	if idx < 0 {
		return VersionNone
	}
	rest := line[idx+len(marker):]
	parts := strings.SplitN(rest, ".", 2)
	if len(parts) != 2 {
		return VersionNone
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err1 != nil || err2 != nil {
		return VersionNone
	}
	switch {
	case major == 0:
		return Version09
	case major == 1 && minor == 0:
		return Version10
	case major == 1 && minor == 1:
		return Version11
	case major == 2:
		return Version2
	default:
		return VersionNone
	}
}
