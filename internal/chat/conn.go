// Package chat provides the core chat domain types shared by all transports,
// the session controller, and its callers.
package chat

import (
	"context"
	"time"
)

// Conn abstracts one connected stream to a peer.
// TCP, WebSocket, QUIC, and in-memory transports all satisfy it.
type Conn interface {
	// Read reads whatever bytes are available into p.
	// It blocks until data arrives, the stream fails, or the conn is closed.
	Read(p []byte) (int, error)

	// Write writes p to the stream.
	Write(p []byte) (int, error)

	// Close closes the connection. Closing twice is not an error.
	Close() error

	// IsConnected reports whether the stream is still usable.
	IsConnected() bool

	// RemoteAddr returns the remote address for logging and directory updates.
	RemoteAddr() string
}

// Deadliner is implemented by conns whose blocking reads can be released
// without closing the stream.
type Deadliner interface {
	SetReadDeadline(t time.Time) error
}

// Listener accepts conns bound under one service identifier.
type Listener interface {
	// Accept waits for the next conn. A nil conn with a nil error means the
	// transport interrupted the accept without a cause.
	Accept(ctx context.Context) (Conn, error)

	Close() error

	Addr() string
}

// Transport opens listeners and outbound conns.
type Transport interface {
	Listen(ctx context.Context, serviceID string) (Listener, error)

	// Connect dials address under serviceID. An address that cannot be
	// resolved fails fast with an error wrapping ErrUnresolvable.
	Connect(ctx context.Context, address, serviceID string) (Conn, error)
}
