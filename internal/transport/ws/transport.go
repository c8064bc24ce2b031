package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gobwas/ws"
	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
)

const (
	handshakeTimeout = 5 * time.Second
	acceptBacklog    = 8
)

// Transport serves and dials WebSocket endpoints. The service id becomes the
// request path, so one port can only host the service it was bound for.
type Transport struct {
	services netaddr.Services
	dialer   ws.Dialer
	log      *zap.Logger
}

// New creates a WebSocket transport resolving service ids through services.
func New(services netaddr.Services, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		services: services,
		dialer:   ws.Dialer{Timeout: handshakeTimeout},
		log:      log.Named("transport.ws"),
	}
}

// Path returns the request path serving serviceID.
func Path(serviceID string) string {
	return "/" + url.PathEscape(serviceID)
}

// Listen implements chat.Transport.
func (t *Transport) Listen(ctx context.Context, serviceID string) (chat.Listener, error) {
	addr, err := t.services.Bind(serviceID)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start WebSocket listener: %w", err)
	}

	t.log.Info("WebSocket listener started",
		zap.String("service", serviceID),
		zap.String("addr", ln.Addr().String()),
		zap.String("path", Path(serviceID)),
	)
	return newListener(ln, Path(serviceID), t.log), nil
}

// Connect implements chat.Transport.
func (t *Transport) Connect(ctx context.Context, address, serviceID string) (chat.Conn, error) {
	target, err := t.services.Target(ctx, address, serviceID)
	if err != nil {
		return nil, err
	}

	u := "ws://" + target + Path(serviceID)
	conn, br, _, err := t.dialer.Dial(ctx, u)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", u, err)
	}
	return NewClientConn(conn, br), nil
}

// Listener accepts TCP conns and upgrades them to WebSocket. Each handshake
// runs in its own goroutine, so a silent peer cannot hold up the others.
type Listener struct {
	ln    net.Listener
	path  string
	conns chan chat.Conn
	log   *zap.Logger

	mu       sync.Mutex
	pending  map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
	err       atomic.Value
}

func newListener(ln net.Listener, path string, log *zap.Logger) *Listener {
	l := &Listener{
		ln:      ln,
		path:    path,
		conns:   make(chan chat.Conn, acceptBacklog),
		log:     log,
		pending: make(map[net.Conn]struct{}),
		closed:  make(chan struct{}),
	}
	go l.acceptConnections()
	return l
}

func (l *Listener) acceptConnections() {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.err.Store(err)
			_ = l.Close()
			return
		}
		if !l.track(conn) {
			_ = conn.Close()
			return
		}
		go l.handshake(conn)
	}
}

func (l *Listener) track(conn net.Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.shutdown {
		return false
	}
	l.pending[conn] = struct{}{}
	l.wg.Add(1)
	return true
}

func (l *Listener) untrack(conn net.Conn) {
	l.mu.Lock()
	delete(l.pending, conn)
	l.mu.Unlock()
}

// handshake upgrades conn and queues it for Accept. Conns that fail the
// handshake are closed and skipped.
func (l *Listener) handshake(conn net.Conn) {
	defer l.wg.Done()

	c, err := Upgrade(conn, l.path)
	l.untrack(conn)
	if err != nil {
		l.log.Warn("WebSocket handshake failed",
			zap.String("remote", conn.RemoteAddr().String()),
			zap.Error(err),
		)
		_ = conn.Close()
		return
	}

	select {
	case l.conns <- c:
	case <-l.closed:
		_ = c.Close()
	}
}

// Accept implements chat.Listener.
func (l *Listener) Accept(ctx context.Context) (chat.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		if err, ok := l.err.Load().(error); ok && !errors.Is(err, net.ErrClosed) {
			return nil, err
		}
		return nil, net.ErrClosed
	case c := <-l.conns:
		return c, nil
	}
}

// Upgrade runs the server handshake on conn, accepting only requests for
// path. conn may wrap a reader holding bytes already peeked off the wire.
func Upgrade(conn net.Conn, path string) (*Conn, error) {
	u := ws.Upgrader{
		OnRequest: func(uri []byte) error {
			if string(uri) != path {
				return ws.RejectConnectionError(ws.RejectionStatus(http.StatusNotFound))
			}
			return nil
		},
	}

	if err := conn.SetDeadline(time.Now().Add(handshakeTimeout)); err != nil {
		return nil, err
	}
	if _, err := u.Upgrade(conn); err != nil {
		return nil, err
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, err
	}
	return NewServerConn(conn), nil
}

// Close implements chat.Listener. Pending handshakes are aborted and joined
// before Close returns.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		err = l.ln.Close()

		l.mu.Lock()
		l.shutdown = true
		for conn := range l.pending {
			_ = conn.Close()
		}
		l.mu.Unlock()
		l.wg.Wait()

		for {
			select {
			case c := <-l.conns:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return err
}

// Addr implements chat.Listener.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}
