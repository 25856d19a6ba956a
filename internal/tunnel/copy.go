// Package tunnel implements the TCP tunnel engine from spec §4.5:
// bidirectional byte copying between a peeked client stream and a
// freshly dialed backend connection, with TLS termination interposed
// when the two legs disagree on scheme.
package tunnel

import (
	"io"
	"sync"
)

var bufferPool = sync.Pool{New: createBuffer}

func createBuffer() any {
	return make([]byte, 0, 32*1024)
}

// pooledCopy copies from src to dst using a pooled buffer, adapted
// from the same technique used for reverse-proxy response copying:
// CopyBuffer panics on a zero-length slice, so the pooled buffer is
// extended to its full capacity before use.
func pooledCopy(dst io.Writer, src io.Reader) (int64, error) {
	buf := bufferPool.Get().([]byte)
	defer bufferPool.Put(buf)
	bufCap := cap(buf)
	return io.CopyBuffer(dst, src, buf[0:bufCap:bufCap])
}

// joinHalfCloser is implemented by connections that can half-close
// (net.TCPConn, tls.Conn) so one direction finishing doesn't force an
// immediate full close of the other.
type joinHalfCloser interface {
	CloseWrite() error
}

// JoinStats reports how many bytes moved in each direction of a Join.
type JoinStats struct {
	ClientToBackend int64
	BackendToClient int64
}

// Join copies bytes bidirectionally between a and b until both
// directions have finished, then closes both. It returns once both
// copy goroutines have exited.
func Join(a, b io.ReadWriteCloser) JoinStats {
	var wg sync.WaitGroup
	var stats JoinStats
	wg.Add(2)

	go func() {
		defer wg.Done()
		stats.ClientToBackend, _ = pooledCopy(b, a)
		halfClose(b)
	}()
	go func() {
		defer wg.Done()
		stats.BackendToClient, _ = pooledCopy(a, b)
		halfClose(a)
	}()

	wg.Wait()
	a.Close()
	b.Close()
	return stats
}

func halfClose(w io.Writer) {
	if hc, ok := w.(joinHalfCloser); ok {
		hc.CloseWrite()
	}
}
