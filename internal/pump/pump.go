// Package pump services one connected conn: a reader that turns inbound
// bytes into Message events, a writer that drains the session outbox, and
// for server sessions a heartbeat. All three run in one task group; the
// first failure stops the others and closes the conn.
package pump

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/outbox"
	"github.com/omochice/linkchat/pkg/protocol"
)

const (
	DefaultReadBuffer = 1024
	DefaultHeartbeat  = time.Second
	DefaultGrace      = time.Second
)

var errNotConnected = errors.New("conn is not connected")

// Config controls one pump.
type Config struct {
	Role chat.Role

	// ReadBuffer is the size of a single read.
	ReadBuffer int

	// Heartbeat is the ping period for server sessions. Zero disables it.
	Heartbeat time.Duration

	// Grace bounds how long a cancelled pump waits for a blocked read
	// before closing the conn out from under it.
	Grace time.Duration

	Codec protocol.Codec

	// Echo, when set, produces a reply written back for every received
	// message.
	Echo func(received string) (reply string, ok bool)
}

// Pump owns one conn for the lifetime of a session.
type Pump struct {
	id   chat.SessionID
	conn chat.Conn
	out  outbox.Outbox
	cfg  Config
	log  *zap.Logger

	onReceive func(string)

	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
}

// Option configures a Pump.
type Option func(*Pump)

// WithLogger sets the pump logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Pump) { p.log = l }
}

// WithOnReceive registers fn to observe every received message.
func WithOnReceive(fn func(string)) Option {
	return func(p *Pump) { p.onReceive = fn }
}

// New creates a pump for conn. The conn must already be connected.
func New(id chat.SessionID, conn chat.Conn, out outbox.Outbox, cfg Config, opts ...Option) *Pump {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = DefaultReadBuffer
	}
	if cfg.Grace <= 0 {
		cfg.Grace = DefaultGrace
	}
	if cfg.Codec == nil {
		cfg.Codec = protocol.Raw
	}

	p := &Pump{
		id:   id,
		conn: conn,
		out:  out,
		cfg:  cfg,
		log:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.log = p.log.With(zap.Stringer("session", id), zap.String("remote", conn.RemoteAddr()))
	return p
}

// Run services the conn until it fails or ctx is cancelled, then closes it.
//
// Received messages are passed to emit in order. A failure is emitted as a
// single Error event and returned; cancellation emits nothing and returns
// nil. emit returning false means the consumer is gone.
func (p *Pump) Run(ctx context.Context, emit func(chat.Event) bool) error {
	g, gctx := errgroup.WithContext(ctx)
	readerDone := make(chan struct{})

	g.Go(func() error {
		defer close(readerDone)
		return p.read(gctx, emit)
	})
	g.Go(func() error {
		return p.write(gctx)
	})
	if p.cfg.Role == chat.RoleServer && p.cfg.Heartbeat > 0 {
		g.Go(func() error {
			return p.heartbeat(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		p.interrupt(readerDone)
		return nil
	})

	err := g.Wait()
	p.Close()
	p.out.Close()

	if err == nil || ctx.Err() != nil || errors.Is(err, context.Canceled) {
		p.log.Info("session closed")
		return nil
	}

	p.log.Warn("session failed", zap.Error(err))
	emit(chat.Failure(p.id, err))
	return err
}

// Close closes the conn exactly once.
func (p *Pump) Close() error {
	var err error
	p.closeOnce.Do(func() {
		p.closed.Store(true)
		err = p.conn.Close()
	})
	return err
}

func (p *Pump) read(ctx context.Context, emit func(chat.Event) bool) error {
	buf := make([]byte, p.cfg.ReadBuffer)
	dec := p.cfg.Codec.NewDecoder()

	for {
		n, err := p.conn.Read(buf)
		if n > 0 {
			msgs, derr := dec.Decode(buf[:n])
			for _, text := range msgs {
				if !emit(chat.Message(p.id, text)) {
					return context.Canceled
				}
				if p.onReceive != nil {
					p.onReceive(text)
				}
				if err := p.echo(text); err != nil {
					return chat.Interrupted(chat.ErrIOFailure, "send", err)
				}
			}
			if derr != nil {
				return chat.Interrupted(chat.ErrIOFailure, "read", derr)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return chat.Interrupted(chat.ErrIOFailure, "read", err)
		}
	}
}

func (p *Pump) echo(text string) error {
	if p.cfg.Echo == nil {
		return nil
	}
	reply, ok := p.cfg.Echo(text)
	if !ok {
		return nil
	}
	if err := p.send(reply); err != nil && !errors.Is(err, errNotConnected) {
		return err
	}
	return nil
}

func (p *Pump) write(ctx context.Context) error {
	for {
		text, err := p.out.Next(ctx)
		if err != nil {
			return nil
		}
		// Session.Send refuses empty text; anything else offering it
		// gets nothing written.
		if text == "" {
			continue
		}

		if err := p.send(text); err != nil {
			if errors.Is(err, errNotConnected) {
				p.log.Debug("dropping outbound message")
				continue
			}
			if ctx.Err() != nil {
				return nil
			}
			return chat.Interrupted(chat.ErrIOFailure, "send", err)
		}
	}
}

func (p *Pump) heartbeat(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case now := <-ticker.C:
			if err := p.send(protocol.Ping(now)); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return chat.Interrupted(chat.ErrIOFailure, "ping", err)
			}
		}
	}
}

// send serializes writes from the writer, the heartbeat, and echo replies.
func (p *Pump) send(text string) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()

	if p.closed.Load() || !p.conn.IsConnected() {
		return errNotConnected
	}
	_, err := p.conn.Write(p.cfg.Codec.Encode(text))
	return err
}

// interrupt releases a blocked read, waits up to the grace period for the
// reader to return, and then closes the conn.
func (p *Pump) interrupt(readerDone <-chan struct{}) {
	if d, ok := p.conn.(chat.Deadliner); ok {
		_ = d.SetReadDeadline(time.Now())
	}

	timer := time.NewTimer(p.cfg.Grace)
	defer timer.Stop()

	select {
	case <-readerDone:
	case <-timer.C:
		p.log.Debug("reader did not stop within grace period, forcing close")
	}
	p.Close()
}
