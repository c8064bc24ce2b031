// Package unified serves raw TCP and WebSocket peers on one port. The first
// bytes of every accepted conn select the protocol; outbound conns are raw
// TCP.
package unified

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
	"github.com/omochice/linkchat/internal/transport/tcp"
	"github.com/omochice/linkchat/internal/transport/ws"
)

const (
	acceptBacklog = 8

	// DefaultDetectTimeout bounds how long a new conn may stay silent before
	// it is dropped.
	DefaultDetectTimeout = 5 * time.Second
)

type protocolType int

const (
	protocolTCP protocolType = iota
	protocolHTTP
)

// httpMethods are the four-byte prefixes of HTTP request lines.
var httpMethods = [][]byte{
	[]byte("GET "),
	[]byte("POST"),
	[]byte("PUT "),
	[]byte("HEAD"),
	[]byte("OPTI"),
	[]byte("PATC"),
	[]byte("DELE"),
	[]byte("CONN"),
}

// Transport listens for both protocols and dials raw TCP.
type Transport struct {
	services      netaddr.Services
	dialer        *tcp.Transport
	detectTimeout time.Duration
	log           *zap.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// WithDetectTimeout sets how long listeners wait for the first bytes of a
// new conn.
func WithDetectTimeout(d time.Duration) Option {
	return func(t *Transport) {
		if d > 0 {
			t.detectTimeout = d
		}
	}
}

// New creates a unified transport resolving service ids through services.
func New(services netaddr.Services, log *zap.Logger, opts ...Option) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	t := &Transport{
		services:      services,
		dialer:        tcp.New(services, log),
		detectTimeout: DefaultDetectTimeout,
		log:           log.Named("transport.unified"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Listen implements chat.Transport. WebSocket peers must request the path
// ws.Path(serviceID).
func (t *Transport) Listen(ctx context.Context, serviceID string) (chat.Listener, error) {
	addr, err := t.services.Bind(serviceID)
	if err != nil {
		return nil, err
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to start server: %w", err)
	}

	l := &Listener{
		ln:            ln,
		path:          ws.Path(serviceID),
		detectTimeout: t.detectTimeout,
		conns:         make(chan chat.Conn, acceptBacklog),
		pending:       make(map[net.Conn]struct{}),
		closed:        make(chan struct{}),
		log:           t.log,
	}
	go l.acceptConnections()

	t.log.Info("unified listener started",
		zap.String("service", serviceID),
		zap.String("addr", ln.Addr().String()),
	)
	return l, nil
}

// Connect implements chat.Transport.
func (t *Transport) Connect(ctx context.Context, address, serviceID string) (chat.Conn, error) {
	return t.dialer.Connect(ctx, address, serviceID)
}

// Listener hands out conns of either protocol in the order their protocol
// was detected.
type Listener struct {
	ln            net.Listener
	path          string
	detectTimeout time.Duration
	conns         chan chat.Conn
	log           *zap.Logger

	// pending holds conns still in detection or handshake; Close closes
	// them and waits for their goroutines.
	mu       sync.Mutex
	pending  map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup

	closeOnce sync.Once
	closed    chan struct{}
	err       atomic.Value
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
		go l.handleConnection(conn)
	}
}

// track registers conn as pending. It fails once the listener is closing.
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

// handleConnection determines whether the conn is a WebSocket upgrade or a
// raw TCP peer and queues it for Accept.
func (l *Listener) handleConnection(conn net.Conn) {
	defer l.wg.Done()
	remote := conn.RemoteAddr().String()

	c, err := l.detect(conn)
	l.untrack(conn)
	if err != nil {
		l.log.Debug("protocol detection failed", zap.String("remote", remote), zap.Error(err))
		_ = conn.Close()
		return
	}

	select {
	case l.conns <- c:
	case <-l.closed:
		_ = c.Close()
	}
}

func (l *Listener) detect(conn net.Conn) (chat.Conn, error) {
	remote := conn.RemoteAddr().String()

	_ = conn.SetReadDeadline(time.Now().Add(l.detectTimeout))
	proto, reader, err := detectProtocol(conn)
	if err != nil {
		return nil, err
	}
	_ = conn.SetReadDeadline(time.Time{})

	bc := &bufferedConn{Conn: conn, reader: reader}
	l.log.Debug("protocol detected", zap.String("remote", remote), zap.Bool("websocket", proto == protocolHTTP))

	if proto == protocolHTTP {
		wc, err := ws.Upgrade(bc, l.path)
		if err != nil {
			return nil, fmt.Errorf("WebSocket handshake failed: %w", err)
		}
		return wc, nil
	}
	return tcp.NewConn(bc), nil
}

// detectProtocol peeks at the first bytes of conn. Anything that cannot
// start an HTTP request line is raw TCP as soon as its first byte arrives.
// The returned reader replays the peeked bytes.
func detectProtocol(conn net.Conn) (protocolType, io.Reader, error) {
	reader := bufio.NewReader(conn)

	first, err := reader.Peek(1)
	if err != nil {
		return protocolTCP, reader, err
	}
	if !mayStartMethod(first[0]) {
		return protocolTCP, reader, nil
	}

	peek, err := reader.Peek(4)
	if err != nil {
		var ne net.Error
		if len(peek) == 0 || !errors.As(err, &ne) || !ne.Timeout() {
			return protocolTCP, reader, err
		}
		// A short raw message that merely looks like a method. The reader
		// now holds the timeout, so replay its bytes in front of conn.
		buffered := make([]byte, reader.Buffered())
		_, _ = reader.Read(buffered)
		return protocolTCP, io.MultiReader(bytes.NewReader(buffered), conn), nil
	}

	for _, m := range httpMethods {
		if bytes.Equal(peek, m) {
			return protocolHTTP, reader, nil
		}
	}
	return protocolTCP, reader, nil
}

func mayStartMethod(b byte) bool {
	for _, m := range httpMethods {
		if m[0] == b {
			return true
		}
	}
	return false
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

// Close implements chat.Listener. Conns still in detection are closed and
// their goroutines joined before Close returns.
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

// bufferedConn wraps a net.Conn with a reader that preserves peeked data.
type bufferedConn struct {
	net.Conn
	reader io.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}
