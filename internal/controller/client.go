package controller

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/capability"
	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/outbox"
	"github.com/omochice/linkchat/pkg/protocol"
)

var errNotConnected = errors.New("conn is not connected")

// RunClient returns a stream that connects to peer once and pumps the conn
// until it fails or the stream is cancelled. Starting it cancels the
// previous client run.
//
// A failed connect yields a single run-level Error and no Established.
// Otherwise the session emits Established, writes the greeting, and then
// forwards its Messages and at most one Error.
func (c *Controller) RunClient(peer chat.PeerID) *Stream {
	return &Stream{run: func(ctx context.Context, out chan<- chat.Event) {
		c.connect(ctx, peer, out)
	}}
}

func (c *Controller) connect(ctx context.Context, peer chat.PeerID, out chan<- chat.Event) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := c.begin(&c.client, cancel)
	if r == nil {
		return
	}
	defer c.finish(&c.client, r)

	emit := c.emitter(runCtx, out)
	log := c.log.With(zap.Stringer("peer", peer))

	if err := capability.Require(c.caps, capability.Connect); err != nil {
		emit(chat.Failure(0, err))
		return
	}

	if c.scanner != nil {
		if err := c.scanner.StopDiscovery(); err != nil {
			log.Debug("stop discovery failed", zap.Error(err))
		}
	}

	conn, err := c.dial(runCtx, peer)
	if err != nil {
		if runCtx.Err() != nil {
			return
		}
		log.Warn("connect failed", zap.Error(err))
		emit(chat.Failure(0, chat.Interrupted(chat.ErrConnectFailure, "connect", err)))
		return
	}

	box := outbox.NewLatest()
	id := chat.SessionID(c.nextID.Add(1))
	sctx, stop := context.WithCancel(runCtx)
	defer stop()

	c.register(chat.NewSession(id, chat.RoleClient, conn.RemoteAddr(), box, stop), peer)
	defer c.unregister(id, peer)

	emit(chat.Established(id))

	if err := c.greet(runCtx, conn); err != nil {
		_ = conn.Close()
		box.Close()
		if runCtx.Err() != nil {
			return
		}
		log.Warn("greeting failed", zap.Error(err))
		emit(chat.Failure(id, chat.Interrupted(chat.ErrIOFailure, "greeting", err)))
		return
	}

	_ = c.newPump(id, conn, box, chat.RoleClient).Run(sctx, emit)
	log.Info("client session ended", zap.Stringer("session", id))
}

// dial connects to peer within the connect timeout. The returned conn is
// always connected; anything else is closed here.
func (c *Controller) dial(ctx context.Context, peer chat.PeerID) (chat.Conn, error) {
	cctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.transport.Connect(cctx, peer.Address, c.serviceID)
	if err != nil {
		if conn != nil {
			_ = conn.Close()
		}
		return nil, err
	}
	if !conn.IsConnected() {
		_ = conn.Close()
		return nil, errNotConnected
	}
	return conn, nil
}

// greet writes the greeting frame. Cancelling ctx closes conn so a stalled
// write returns.
func (c *Controller) greet(ctx context.Context, conn chat.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	_, err := conn.Write(c.codec.Encode(protocol.Greeting))
	return err
}
