// Package tcp provides the TCP transport.
package tcp

import (
	"net"
	"sync"
	"sync/atomic"
	"time"
)

// Conn adapts net.Conn to chat.Conn.
type Conn struct {
	conn net.Conn

	closeOnce sync.Once
	closed    atomic.Bool
}

// NewConn wraps a net.Conn.
func NewConn(conn net.Conn) *Conn {
	return &Conn{conn: conn}
}

// Read implements chat.Conn.
func (c *Conn) Read(p []byte) (int, error) {
	return c.conn.Read(p)
}

// Write implements chat.Conn.
func (c *Conn) Write(p []byte) (int, error) {
	return c.conn.Write(p)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
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
