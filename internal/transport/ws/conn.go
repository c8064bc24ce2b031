// Package ws provides the WebSocket transport. Each chat message travels as
// one binary WebSocket message.
package ws

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

const (
	maxFrameSize      = 1 << 20
	closeFrameTimeout = 100 * time.Millisecond
)

// Conn adapts an upgraded net.Conn to chat.Conn. The same type serves the
// server and client side; state selects masking and frame checks.
type Conn struct {
	conn  net.Conn
	state ws.State

	readMu        sync.Mutex
	rd            *wsutil.Reader
	readBuffer    []byte
	readBufferPos int

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// NewServerConn wraps a conn the server has already upgraded.
func NewServerConn(conn net.Conn) *Conn {
	return newConn(conn, nil, ws.StateServerSide)
}

// NewClientConn wraps a dialed conn. br holds bytes the dialer buffered past
// the handshake and may be nil.
func NewClientConn(conn net.Conn, br *bufio.Reader) *Conn {
	return newConn(conn, br, ws.StateClientSide)
}

func newConn(conn net.Conn, br *bufio.Reader, state ws.State) *Conn {
	var src io.Reader = conn
	if br != nil {
		src = br
	}
	c := &Conn{conn: conn, state: state}
	c.rd = &wsutil.Reader{
		Source:         src,
		State:          state,
		MaxFrameSize:   maxFrameSize,
		OnIntermediate: c.handleControl,
	}
	return c
}

// Read implements chat.Conn. A message larger than p is returned across
// several reads.
func (c *Conn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()

	if c.readBufferPos < len(c.readBuffer) {
		n := copy(p, c.readBuffer[c.readBufferPos:])
		c.readBufferPos += n
		if c.readBufferPos >= len(c.readBuffer) {
			c.readBuffer = nil
			c.readBufferPos = 0
		}
		return n, nil
	}

	data, err := c.nextMessage()
	if err != nil {
		return 0, err
	}

	n := copy(p, data)
	if n < len(data) {
		c.readBuffer = data[n:]
		c.readBufferPos = 0
	}
	return n, nil
}

func (c *Conn) nextMessage() ([]byte, error) {
	for {
		hdr, err := c.rd.NextFrame()
		if err != nil {
			return nil, err
		}
		if hdr.OpCode.IsControl() {
			if err := c.handleControl(hdr, c.rd); err != nil {
				return nil, err
			}
			continue
		}
		if hdr.OpCode != ws.OpBinary && hdr.OpCode != ws.OpText {
			if err := c.rd.Discard(); err != nil {
				return nil, err
			}
			continue
		}
		return io.ReadAll(c.rd)
	}
}

// handleControl answers pings and close frames. Replies are buffered and
// written in one call under the write lock.
func (c *Conn) handleControl(hdr ws.Header, r io.Reader) error {
	var reply bytes.Buffer
	err := wsutil.ControlFrameHandler(&reply, c.state)(hdr, r)
	if reply.Len() > 0 {
		c.writeMu.Lock()
		_, _ = c.conn.Write(reply.Bytes())
		c.writeMu.Unlock()
	}
	return err
}

// Write implements chat.Conn.
func (c *Conn) Write(p []byte) (int, error) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := wsutil.WriteMessage(c.conn, c.state, ws.OpBinary, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Close implements chat.Conn. A close frame is sent unless a write is
// already blocked on the conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		if c.writeMu.TryLock() {
			_ = c.conn.SetWriteDeadline(time.Now().Add(closeFrameTimeout))
			body := ws.NewCloseFrameBody(ws.StatusNormalClosure, "")
			_ = wsutil.WriteMessage(c.conn, c.state, ws.OpClose, body)
			c.writeMu.Unlock()
		}
		err = c.conn.Close()
	})
	return err
}

// IsConnected implements chat.Conn.
func (c *Conn) IsConnected() bool {
	return !c.closed.Load()
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SetReadDeadline implements chat.Deadliner.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.conn.SetReadDeadline(t)
}
