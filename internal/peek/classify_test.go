package peek

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify_PlainHTTP1WithHost(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: example.local\r\nUser-Agent: curl\r\n\r\n"
	res := Classify([]byte(req))
	require.True(t, res.Complete)
	assert.Equal(t, TypeClearText, res.Type)
	assert.Equal(t, Version11, res.HTTPVersion)
	assert.Equal(t, "example.local", res.TargetHost)
	assert.False(t, res.IsH2CUpgrade)
}

func TestClassify_H2CPriorKnowledge(t *testing.T) {
	res := Classify([]byte(http2Preface))
	require.True(t, res.Complete)
	assert.Equal(t, TypeClearText, res.Type)
	assert.Equal(t, Version2, res.HTTPVersion)
}

func TestClassify_H2CUpgradeHeaders(t *testing.T) {
	req := "GET / HTTP/1.1\r\nHost: svc.local\r\nConnection: Upgrade\r\nUpgrade: h2c\r\nHTTP2-Settings: AAMAAABkAAQAAP__\r\n\r\n"
	res := Classify([]byte(req))
	require.True(t, res.Complete)
	assert.Equal(t, Version11, res.HTTPVersion)
	assert.True(t, res.IsH2CUpgrade)
	assert.Equal(t, "svc.local", res.TargetHost)
}

func TestClassify_IncompletePrefixAsksForMore(t *testing.T) {
	res := Classify([]byte("GE"))
	assert.False(t, res.Complete)
}

func TestClassify_TLSClientHelloSNI(t *testing.T) {
	buf := buildClientHello(t, "example.local")
	res := Classify(buf)
	require.True(t, res.Complete)
	assert.Equal(t, TypeTLS, res.Type)
	assert.Equal(t, "example.local", res.TargetHost)
}

func TestClassify_UnknownPrefixFallsBackToTerminatingProxy(t *testing.T) {
	res := Classify([]byte("\x00\x01\x02\x03garbage-that-is-not-http-or-tls"))
	require.True(t, res.Complete)
	assert.Equal(t, TypeUnknown, res.Type)
}

// buildClientHello constructs a minimal, well-formed TLS 1.2
// ClientHello record containing only an SNI extension, enough for
// ParseClientHello/Classify to exercise the real parsing path rather
// than a canned byte blob.
func buildClientHello(t *testing.T, serverName string) []byte {
	t.Helper()

	sni := []byte{0x00, 0x00} // server_name_list length, filled below
	nameEntry := append([]byte{0x00}, u16(len(serverName))...)
	nameEntry = append(nameEntry, []byte(serverName)...)
	sniListLen := len(nameEntry)
	sni = u16(sniListLen)
	sniExt := append([]byte{0x00, 0x00}, u16(len(sni)+len(nameEntry))...) // type=server_name, ext_data_len
	sniExt = append(sniExt, sni...)
	sniExt = append(sniExt, nameEntry...)

	extensions := sniExt
	extTotalLen := u16(len(extensions))

	body := []byte{0x03, 0x03} // client_version
	body = append(body, make([]byte, 32)...) // random
	body = append(body, 0x00)                // session_id len = 0
	body = append(body, 0x00, 0x02, 0x00, 0x2f) // cipher suites: len=2, one suite
	body = append(body, 0x01, 0x00)          // compression methods: len=1, null
	body = append(body, extTotalLen...)
	body = append(body, extensions...)

	hsLen := len(body)
	handshake := []byte{0x01, byte(hsLen >> 16), byte(hsLen >> 8), byte(hsLen)}
	handshake = append(handshake, body...)

	record := []byte{0x16, 0x03, 0x03}
	record = append(record, u16(len(handshake))...)
	record = append(record, handshake...)
	return record
}

func u16(n int) []byte {
	return []byte{byte(n >> 8), byte(n)}
}
