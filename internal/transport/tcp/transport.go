package tcp

import (
	"context"
	"fmt"
	"net"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
)

// Transport opens TCP listeners and connections.
type Transport struct {
	services netaddr.Services
	dialer   net.Dialer
	log      *zap.Logger
}

// New creates a TCP transport resolving service ids through services.
func New(services netaddr.Services, log *zap.Logger) *Transport {
	if log == nil {
		log = zap.NewNop()
	}
	return &Transport{
		services: services,
		log:      log.Named("transport.tcp"),
	}
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
		return nil, fmt.Errorf("failed to start TCP listener: %w", err)
	}

	t.log.Info("TCP listener started", zap.String("service", serviceID), zap.String("addr", ln.Addr().String()))
	return NewListener(ln), nil
}

// Connect implements chat.Transport.
func (t *Transport) Connect(ctx context.Context, address, serviceID string) (chat.Conn, error) {
	target, err := t.services.Target(ctx, address, serviceID)
	if err != nil {
		return nil, err
	}

	conn, err := t.dialer.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}
	return NewConn(conn), nil
}

// Listener adapts net.Listener to chat.Listener.
type Listener struct {
	ln net.Listener
}

// NewListener wraps a net.Listener.
func NewListener(ln net.Listener) *Listener {
	return &Listener{ln: ln}
}

// Accept implements chat.Listener. Cancelling ctx closes the listener.
func (l *Listener) Accept(ctx context.Context) (chat.Conn, error) {
	stop := context.AfterFunc(ctx, func() { _ = l.ln.Close() })
	defer stop()

	conn, err := l.ln.Accept()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, err
	}
	return NewConn(conn), nil
}

// Close implements chat.Listener.
func (l *Listener) Close() error {
	return l.ln.Close()
}

// Addr implements chat.Listener.
func (l *Listener) Addr() string {
	return l.ln.Addr().String()
}
