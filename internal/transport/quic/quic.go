// Package quic provides a QUIC transport. Every chat session uses a single
// bidirectional stream opened by the dialing side.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
)

const (
	alpn            = "linkchat"
	streamTimeout   = 5 * time.Second
	acceptBacklog   = 8
	closeCodeNormal = quicgo.ApplicationErrorCode(0)
)

// Transport opens QUIC listeners and connections.
type Transport struct {
	services  netaddr.Services
	serverTLS *tls.Config
	clientTLS *tls.Config
	config    *quicgo.Config
	log       *zap.Logger
}

// New creates a QUIC transport with an ephemeral listener certificate.
func New(services netaddr.Services, log *zap.Logger) (*Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cert, err := selfSignedCert()
	if err != nil {
		return nil, fmt.Errorf("generate certificate: %w", err)
	}
	return &Transport{
		services: services,
		serverTLS: &tls.Config{
			Certificates: []tls.Certificate{cert},
			NextProtos:   []string{alpn},
			MinVersion:   tls.VersionTLS13,
		},
		clientTLS: &tls.Config{
			InsecureSkipVerify: true,
			NextProtos:         []string{alpn},
			MinVersion:         tls.VersionTLS13,
		},
		config: &quicgo.Config{
			HandshakeIdleTimeout: streamTimeout,
			MaxIdleTimeout:       30 * time.Second,
			KeepAlivePeriod:      10 * time.Second,
		},
		log: log.Named("transport.quic"),
	}, nil
}

// Listen implements chat.Transport.
func (t *Transport) Listen(ctx context.Context, serviceID string) (chat.Listener, error) {
	addr, err := t.services.Bind(serviceID)
	if err != nil {
		return nil, err
	}

	ql, err := quicgo.ListenAddr(addr, t.serverTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to start QUIC listener: %w", err)
	}

	lctx, cancel := context.WithCancel(context.Background())
	l := &Listener{
		ql:      ql,
		streams: make(chan *Conn, acceptBacklog),
		closed:  make(chan struct{}),
		cancel:  cancel,
		log:     t.log,
	}
	go l.acceptLoop(lctx)

	t.log.Info("QUIC listener started", zap.String("service", serviceID), zap.String("addr", ql.Addr().String()))
	return l, nil
}

// Connect implements chat.Transport.
func (t *Transport) Connect(ctx context.Context, address, serviceID string) (chat.Conn, error) {
	target, err := t.services.Target(ctx, address, serviceID)
	if err != nil {
		return nil, err
	}

	qc, err := quicgo.DialAddr(ctx, target, t.clientTLS, t.config)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	stream, err := qc.OpenStreamSync(ctx)
	if err != nil {
		_ = qc.CloseWithError(closeCodeNormal, "no stream")
		return nil, fmt.Errorf("failed to open stream to %s: %w", target, err)
	}
	return newConn(qc, stream), nil
}

// Listener accepts QUIC connections and hands out their first stream.
type Listener struct {
	ql      *quicgo.Listener
	streams chan *Conn

	closeOnce sync.Once
	closed    chan struct{}
	cancel    context.CancelFunc
	err       atomic.Value
	log       *zap.Logger
}

func (l *Listener) acceptLoop(ctx context.Context) {
	for {
		qc, err := l.ql.Accept(ctx)
		if err != nil {
			l.err.Store(err)
			_ = l.Close()
			return
		}
		go l.awaitStream(ctx, qc)
	}
}

// awaitStream waits for the peer's stream so that one slow peer never holds
// up the accept loop.
func (l *Listener) awaitStream(ctx context.Context, qc *quicgo.Conn) {
	sctx, cancel := context.WithTimeout(ctx, streamTimeout)
	defer cancel()

	stream, err := qc.AcceptStream(sctx)
	if err != nil {
		l.log.Debug("peer opened no stream", zap.String("remote", qc.RemoteAddr().String()), zap.Error(err))
		_ = qc.CloseWithError(closeCodeNormal, "no stream")
		return
	}

	c := newConn(qc, stream)
	select {
	case l.streams <- c:
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
		if err, ok := l.err.Load().(error); ok && !errors.Is(err, context.Canceled) {
			return nil, err
		}
		return nil, net.ErrClosed
	case c := <-l.streams:
		return c, nil
	}
}

// Close implements chat.Listener.
func (l *Listener) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		l.cancel()
		err = l.ql.Close()
		for {
			select {
			case c := <-l.streams:
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
	return l.ql.Addr().String()
}

// Conn adapts a QUIC connection and its stream to chat.Conn.
type Conn struct {
	qc     *quicgo.Conn
	stream *quicgo.Stream

	closeOnce sync.Once
	closed    atomic.Bool
}

func newConn(qc *quicgo.Conn, stream *quicgo.Stream) *Conn {
	return &Conn{qc: qc, stream: stream}
}

// Read implements chat.Conn.
func (c *Conn) Read(p []byte) (int, error) {
	return c.stream.Read(p)
}

// Write implements chat.Conn.
func (c *Conn) Write(p []byte) (int, error) {
	return c.stream.Write(p)
}

// Close implements chat.Conn.
func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		_ = c.stream.Close()
		err = c.qc.CloseWithError(closeCodeNormal, "closed")
	})
	return err
}

// IsConnected implements chat.Conn.
func (c *Conn) IsConnected() bool {
	return !c.closed.Load() && c.qc.Context().Err() == nil
}

// RemoteAddr implements chat.Conn.
func (c *Conn) RemoteAddr() string {
	return c.qc.RemoteAddr().String()
}

// SetReadDeadline implements chat.Deadliner.
func (c *Conn) SetReadDeadline(t time.Time) error {
	return c.stream.SetReadDeadline(t)
}
