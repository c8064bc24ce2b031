package unified_test

import (
	"context"
	"errors"
	"net"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
	"github.com/omochice/linkchat/internal/transport/unified"
	"github.com/omochice/linkchat/internal/transport/ws"
)

var _ chat.Transport = (*unified.Transport)(nil)

func listen(t *testing.T, opts ...unified.Option) (*unified.Transport, chat.Listener) {
	t.Helper()
	tr := unified.New(netaddr.Services{"svc-1": "127.0.0.1:0"}, nil, opts...)
	l, err := tr.Listen(context.Background(), "svc-1")
	require.NoError(t, err)
	t.Cleanup(func() { _ = l.Close() })
	return tr, l
}

func accept(t *testing.T, l chat.Listener) chat.Conn {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c, err := l.Accept(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func readString(t *testing.T, c chat.Conn) string {
	t.Helper()
	buf := make([]byte, 256)
	n, err := c.Read(buf)
	require.NoError(t, err)
	return string(buf[:n])
}

func TestListener_TCPClient(t *testing.T) {
	_, l := listen(t)

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	_, err = client.Write([]byte("Hello from Client"))
	require.NoError(t, err)

	server := accept(t, l)
	assert.Equal(t, "Hello from Client", readString(t, server))

	_, err = server.Write([]byte("from server: Hello from Client"))
	require.NoError(t, err)

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "from server: Hello from Client", string(buf[:n]))
}

func TestListener_WebSocketClient(t *testing.T) {
	_, l := listen(t)

	client, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr()+ws.Path("svc-1"), nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.WriteMessage(websocket.BinaryMessage, []byte("hello")))

	server := accept(t, l)
	assert.Equal(t, "hello", readString(t, server))

	_, err = server.Write([]byte("from server: hello"))
	require.NoError(t, err)

	mt, data, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.BinaryMessage, mt)
	assert.Equal(t, "from server: hello", string(data))
}

func TestListener_MixedClients(t *testing.T) {
	tr, l := listen(t)

	tcpClient, err := tr.Connect(context.Background(), l.Addr(), "svc-1")
	require.NoError(t, err)
	defer tcpClient.Close()
	_, err = tcpClient.Write([]byte("raw"))
	require.NoError(t, err)

	wsClient, _, err := websocket.DefaultDialer.Dial("ws://"+l.Addr()+ws.Path("svc-1"), nil)
	require.NoError(t, err)
	defer wsClient.Close()
	require.NoError(t, wsClient.WriteMessage(websocket.BinaryMessage, []byte("framed")))

	got := map[string]bool{}
	for i := 0; i < 2; i++ {
		got[readString(t, accept(t, l))] = true
	}
	assert.Equal(t, map[string]bool{"raw": true, "framed": true}, got)
}

func TestListener_ShortMessageLookingLikeMethod(t *testing.T) {
	_, l := listen(t, unified.WithDetectTimeout(50*time.Millisecond))

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	// "GE" could start "GET " but never does
	_, err = client.Write([]byte("GE"))
	require.NoError(t, err)

	server := accept(t, l)
	assert.Equal(t, "GE", readString(t, server))

	// the detection deadline no longer applies
	_, err = client.Write([]byte("later"))
	require.NoError(t, err)
	assert.Equal(t, "later", readString(t, server))
}

func TestListener_SilentConnDropped(t *testing.T) {
	_, l := listen(t, unified.WithDetectTimeout(50*time.Millisecond))

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, err = client.Read(make([]byte, 1))
	assert.Error(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.Accept(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestListener_CloseDropsConnsInDetection(t *testing.T) {
	_, l := listen(t)

	client, err := net.Dial("tcp", l.Addr())
	require.NoError(t, err)
	defer client.Close()

	// give the listener time to pick the conn up, then close while it waits
	// for the first bytes
	time.Sleep(50 * time.Millisecond)
	start := time.Now()
	require.NoError(t, l.Close())
	assert.Less(t, time.Since(start), time.Second)

	require.NoError(t, client.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = client.Read(make([]byte, 1))
	require.Error(t, err)
	var ne net.Error
	if errors.As(err, &ne) {
		assert.False(t, ne.Timeout(), "server side still open after Close")
	}
}

func TestListener_CloseReleasesAccept(t *testing.T) {
	_, l := listen(t)

	errCh := make(chan error, 1)
	go func() {
		_, err := l.Accept(context.Background())
		errCh <- err
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, l.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, net.ErrClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("Accept was not released by Close")
	}
}
