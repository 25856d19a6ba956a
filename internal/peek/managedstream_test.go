package peek

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagedStream_PeekThenSealReplaysPrefix(t *testing.T) {
	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()

	go func() {
		client.Write([]byte("GET / HTTP/1.1\r\nHost: x\r\n\r\n"))
	}()

	ms := NewManagedStream(server)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, _, err := ms.Peek(ctx)
	require.NoError(t, err)

	buffered := ms.Buffered()
	require.NotEmpty(t, buffered)

	sealed := ms.Seal()
	defer sealed.Close()

	replay := make([]byte, len(buffered))
	_, err = io.ReadFull(sealed, replay)
	require.NoError(t, err)
	assert.Equal(t, buffered, replay)

	_, _, err = ms.Peek(ctx)
	assert.ErrorIs(t, err, ErrSealed)
}
