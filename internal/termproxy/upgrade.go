package termproxy

import (
	"bufio"
	"io"
	"net"
	"net/http"

	"github.com/oddbox-proxy/oddbox/internal/tunnel"
)

// runUpgrade completes a 101 Switching Protocols handshake: it
// hijacks the client connection, relays the backend's 101 response
// line and headers, then joins the two connections bidirectionally
// until either side closes (spec §4.3 step 7).
func runUpgrade(w http.ResponseWriter, r *http.Request, resp *http.Response, backendConn io.ReadWriteCloser) {
	hijacker, ok := w.(http.Hijacker)
	if !ok {
		http.Error(w, "upgrade not supported", http.StatusInternalServerError)
		return
	}
	clientConn, clientBuf, err := hijacker.Hijack()
	if err != nil {
		return
	}

	if err := resp.Write(clientConn); err != nil {
		clientConn.Close()
		backendConn.Close()
		return
	}
	// Anything already buffered by the hijacked reader belongs to the
	// upgraded protocol and must be replayed before further reads.
	if n := clientBuf.Reader.Buffered(); n > 0 {
		buf := make([]byte, n)
		clientBuf.Reader.Read(buf)
		backendConn.Write(buf)
	}

	tunnel.Join(clientReadWriteCloser{clientConn, clientBuf}, backendConn)
}

type clientReadWriteCloser struct {
	net.Conn
	buf *bufio.ReadWriter
}

func (c clientReadWriteCloser) Read(p []byte) (int, error) { return c.buf.Reader.Read(p) }
func (c clientReadWriteCloser) Write(p []byte) (int, error) { return c.buf.Writer.Write(p) }
func (c clientReadWriteCloser) Close() error                { return c.Conn.Close() }
