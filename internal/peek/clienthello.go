package peek

import "encoding/binary"

// ClientHelloInfo is the subset of a TLS ClientHello the classifier
// needs: just enough to route by SNI without doing a handshake.
type ClientHelloInfo struct {
	ServerName string
}

// recordHeaderLooksLikeTLS reports whether buf begins with a TLS
// record header: content type 0x16 (handshake), version 0x03 0x0{1,2,3,4}.
func recordHeaderLooksLikeTLS(buf []byte) bool {
	if len(buf) < 5 {
		return false
	}
	if buf[0] != 0x16 {
		return false
	}
	return buf[1] == 0x03 && buf[2] <= 0x04
}

// ParseClientHello extracts the SNI server name from the first TLS
// record in buf, if buf contains a complete ClientHello handshake
// message. It returns ok=false if buf is not (yet, or ever) a valid
// ClientHello prefix, distinguishing "keep buffering" from "this is
// not TLS" is left to the caller (see recordHeaderLooksLikeTLS).
func ParseClientHello(buf []byte) (info ClientHelloInfo, ok bool) {
	if !recordHeaderLooksLikeTLS(buf) {
		return ClientHelloInfo{}, false
	}
	recLen := int(binary.BigEndian.Uint16(buf[3:5]))
	if len(buf) < 5+recLen {
		return ClientHelloInfo{}, false // incomplete record, keep peeking
	}
	hs := buf[5 : 5+recLen]
	if len(hs) < 4 || hs[0] != 0x01 { // handshake type 1 == ClientHello
		return ClientHelloInfo{}, false
	}
	hsLen := int(hs[1])<<16 | int(hs[2])<<8 | int(hs[3])
	if len(hs)-4 < hsLen {
		return ClientHelloInfo{}, false
	}
	body := hs[4 : 4+hsLen]

	// ClientHello body: version(2) + random(32) + session_id(1+N) +
	// cipher_suites(2+N) + compression_methods(1+N) + extensions(2+N...)
	pos := 2 + 32
	if pos+1 > len(body) {
		return ClientHelloInfo{}, false
	}
	sessIDLen := int(body[pos])
	pos += 1 + sessIDLen
	if pos+2 > len(body) {
		return ClientHelloInfo{}, false
	}
	csLen := int(binary.BigEndian.Uint16(body[pos : pos+2]))
	pos += 2 + csLen
	if pos+1 > len(body) {
		return ClientHelloInfo{}, false
	}
	compLen := int(body[pos])
	pos += 1 + compLen
	if pos+2 > len(body) {
		return ClientHelloInfo{}, true // no extensions, no SNI
	}
	extTotal := int(binary.BigEndian.Uint16(body[pos : pos+2]))
	pos += 2
	end := pos + extTotal
	if end > len(body) {
		end = len(body)
	}
	for pos+4 <= end {
		extType := binary.BigEndian.Uint16(body[pos : pos+2])
		extLen := int(binary.BigEndian.Uint16(body[pos+2 : pos+4]))
		pos += 4
		if pos+extLen > len(body) {
			break
		}
		if extType == 0x0000 { // server_name
			if name, ok := parseSNIExtension(body[pos : pos+extLen]); ok {
				return ClientHelloInfo{ServerName: name}, true
			}
		}
		pos += extLen
	}
	return ClientHelloInfo{}, true
}

func parseSNIExtension(ext []byte) (string, bool) {
	if len(ext) < 2 {
		return "", false
	}
	listLen := int(binary.BigEndian.Uint16(ext[0:2]))
	pos := 2
	if pos+listLen > len(ext) {
		listLen = len(ext) - pos
	}
	for pos+3 <= 2+listLen {
		nameType := ext[pos]
		nameLen := int(binary.BigEndian.Uint16(ext[pos+1 : pos+3]))
		pos += 3
		if pos+nameLen > len(ext) {
			return "", false
		}
		if nameType == 0x00 { // host_name
			return string(ext[pos : pos+nameLen]), true
		}
		pos += nameLen
	}
	return "", false
}
