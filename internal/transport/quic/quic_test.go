package quic_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
	"github.com/omochice/linkchat/internal/transport/quic"
)

var (
	_ chat.Transport = (*quic.Transport)(nil)
	_ chat.Conn      = (*quic.Conn)(nil)
	_ chat.Deadliner = (*quic.Conn)(nil)
)

func TestTransport_RoundTrip(t *testing.T) {
	tr, err := quic.New(netaddr.Services{"svc-1": "127.0.0.1:0"}, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	l, err := tr.Listen(ctx, "svc-1")
	require.NoError(t, err)
	defer l.Close()

	client, err := tr.Connect(ctx, l.Addr(), "svc-1")
	require.NoError(t, err)
	defer client.Close()

	// The stream is announced to the listener by the first write.
	_, err = client.Write([]byte("Hello from Client"))
	require.NoError(t, err)

	server, err := l.Accept(ctx)
	require.NoError(t, err)
	defer server.Close()

	buf := make([]byte, 64)
	n, err := server.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "Hello from Client", string(buf[:n]))

	_, err = server.Write([]byte("from server: Hello from Client"))
	require.NoError(t, err)
	n, err = client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "from server: Hello from Client", string(buf[:n]))

	assert.True(t, client.IsConnected())
	require.NoError(t, client.Close())
	assert.False(t, client.IsConnected())
}

func TestListener_CloseReleasesAccept(t *testing.T) {
	tr, err := quic.New(netaddr.Services{"svc-1": "127.0.0.1:0"}, nil)
	require.NoError(t, err)

	l, err := tr.Listen(context.Background(), "svc-1")
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errCh:
		assert.Error(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept was not released by Close")
	}
}

func TestTransport_ConnectUnresolvable(t *testing.T) {
	tr, err := quic.New(netaddr.Services{"svc-1": ":7070"}, nil)
	require.NoError(t, err)

	_, err = tr.Connect(context.Background(), "AA:BB:CC:DD:EE:FF", "svc-1")

	assert.ErrorIs(t, err, chat.ErrUnresolvable)
}
