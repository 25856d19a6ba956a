package observer

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/oddbox-proxy/oddbox/internal/config"
	"github.com/oddbox-proxy/oddbox/internal/globalstate"
	"github.com/oddbox-proxy/oddbox/internal/metrics"
)

func buildSyntheticHTTP2Stream(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.Write(http2PrefaceBytes)

	framer := http2.NewFramer(&buf, nil)
	require.NoError(t, framer.WriteSettings())

	var hbuf bytes.Buffer
	enc := hpack.NewEncoder(&hbuf)
	require.NoError(t, enc.WriteField(hpack.HeaderField{Name: ":method", Value: "GET"}))
	require.NoError(t, enc.WriteField(hpack.HeaderField{Name: ":path", Value: "/x"}))
	require.NoError(t, enc.WriteField(hpack.HeaderField{Name: ":authority", Value: "a.b"}))

	require.NoError(t, framer.WriteHeaders(http2.HeadersFrameParam{
		StreamID:      1,
		BlockFragment: hbuf.Bytes(),
		EndHeaders:    true,
	}))
	require.NoError(t, framer.WriteData(1, true, []byte("hi")))

	return buf.Bytes()
}

// The stream ends with a DATA frame, but the HTTP/2 decoder emits no
// event for DATA frames, so only the request event is checked.
func TestObserver_RoundTripHTTP2Request(t *testing.T) {
	gs := globalstate.New(nil, metrics.NewRegistry(nil), &config.Config{})
	obs := New(gs, nil)

	events, unsub := obs.Subscribe()
	defer unsub()

	rawCh, rawUnsub := gs.Observer().Subscribe()
	defer rawUnsub()
	go obs.Run(rawCh)

	key := gs.NextConnKey()
	gs.Observer().Publish(globalstate.RawEvent{Kind: globalstate.EventOpen, ConnKey: key, IsHTTP2: true})
	gs.Observer().Publish(globalstate.RawEvent{
		Kind:    globalstate.EventClientToBackend,
		ConnKey: key,
		IsHTTP2: true,
		Bytes:   buildSyntheticHTTP2Stream(t),
	})

	ev := <-events
	require.Equal(t, EventRequestLine, ev.Kind)
	assert.Equal(t, uint32(1), ev.StreamID)
	assert.Equal(t, "GET", ev.Method)
	assert.Equal(t, "/x", ev.Path)
	assert.Equal(t, "a.b", ev.Headers[":authority"])
}

func TestHTTP1Parser_SplitsRequestAcrossFeeds(t *testing.T) {
	p := newHTTP1Parser(true)
	msgs := p.Feed([]byte("GET /foo HTTP/1.1\r\nHost: x\r\n"))
	assert.Empty(t, msgs)

	msgs = p.Feed([]byte("\r\n"))
	require.Len(t, msgs, 1)
	assert.Equal(t, "GET", msgs[0].Method)
	assert.Equal(t, "/foo", msgs[0].Path)
}

func TestHTTP1Parser_DetectsWebSocketUpgrade(t *testing.T) {
	p := newHTTP1Parser(false)
	msgs := p.Feed([]byte("HTTP/1.1 101 Switching Protocols\r\nUpgrade: websocket\r\nConnection: Upgrade\r\n\r\n"))
	require.Len(t, msgs, 1)
	assert.True(t, msgs[0].IsWebSocketUpgrade)
}
