package controller

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/capability"
	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/outbox"
)

// RunServer returns a stream that listens under serviceID and accepts
// connections until the listener fails or the stream is cancelled.
//
// The stream starts with a run-level Established carrying the listener
// address once it is bound. Every accepted conn then gets its own session: an Established,
// its Messages, and at most one Error, all tagged with the session id.
// A bind or accept failure ends the stream with a run-level Error after
// every session has been closed.
func (c *Controller) RunServer(serviceID string) *Stream {
	return &Stream{run: func(ctx context.Context, out chan<- chat.Event) {
		c.serve(ctx, serviceID, out)
	}}
}

func (c *Controller) serve(ctx context.Context, serviceID string, out chan<- chat.Event) {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	r := c.begin(&c.server, cancel)
	if r == nil {
		return
	}
	defer c.finish(&c.server, r)

	emit := c.emitter(runCtx, out)
	log := c.log.With(zap.String("service", serviceID))

	if err := capability.Require(c.caps, capability.Listen); err != nil {
		emit(chat.Failure(0, err))
		return
	}

	l, err := c.transport.Listen(runCtx, serviceID)
	if err != nil {
		if runCtx.Err() != nil {
			return
		}
		log.Warn("listen failed", zap.Error(err))
		emit(chat.Failure(0, chat.Interrupted(chat.ErrBindFailure, "listen", err)))
		return
	}
	log.Info("server listening", zap.String("addr", l.Addr()))

	d := &driver{
		c:        c,
		emit:     emit,
		log:      log,
		active:   make(map[chat.SessionID]chat.PeerID),
		finished: make(chan chat.SessionID),
	}
	failure := d.loop(runCtx, l)

	if failure != nil {
		log.Warn("server run failed", zap.Error(failure))
		emit(chat.Failure(0, failure))
		return
	}
	log.Info("server stopped")
}

// driver owns the session set of one server run. Only the driver goroutine
// touches active.
type driver struct {
	c        *Controller
	emit     func(chat.Event) bool
	log      *zap.Logger
	active   map[chat.SessionID]chat.PeerID
	finished chan chat.SessionID
	wg       sync.WaitGroup
}

// loop accepts until runCtx is done or the listener fails, then closes the
// listener and every session before returning the failure.
func (d *driver) loop(runCtx context.Context, l chat.Listener) error {
	sessCtx, stopSessions := context.WithCancel(runCtx)
	defer stopSessions()

	accepted := make(chan chat.Conn)
	acceptErr := make(chan error, 1)
	acceptDone := make(chan struct{})
	go func() {
		defer close(acceptDone)
		acceptLoop(sessCtx, l, accepted, acceptErr)
	}()

	var failure error
	if d.emit(chat.Listening(l.Addr())) {
	loop:
		for {
			select {
			case <-runCtx.Done():
				break loop
			case err := <-acceptErr:
				failure = err
				break loop
			case conn := <-accepted:
				d.start(sessCtx, conn)
			case id := <-d.finished:
				d.end(id)
			}
		}
	}

	_ = l.Close()
	stopSessions()
	<-acceptDone
	for len(d.active) > 0 {
		d.end(<-d.finished)
	}
	d.wg.Wait()
	return failure
}

func acceptLoop(ctx context.Context, l chat.Listener, accepted chan<- chat.Conn, failed chan<- error) {
	for {
		conn, err := l.Accept(ctx)
		if ctx.Err() != nil {
			if conn != nil {
				_ = conn.Close()
			}
			return
		}
		if err != nil {
			failed <- chat.Interrupted(chat.ErrAcceptFailure, "accept", err)
			return
		}
		if conn == nil {
			failed <- chat.Interrupted(chat.ErrAcceptFailure, "accept", chat.ErrAcceptInterrupted)
			return
		}

		select {
		case accepted <- conn:
		case <-ctx.Done():
			_ = conn.Close()
			return
		}
	}
}

// start hands conn to a new session unless capacity is reached.
func (d *driver) start(ctx context.Context, conn chat.Conn) {
	c := d.c
	remote := conn.RemoteAddr()

	if !conn.IsConnected() {
		d.log.Debug("discarding closed conn", zap.String("remote", remote))
		_ = conn.Close()
		return
	}
	if limit := c.cfg.MaxSessions; limit > 0 && len(d.active) >= limit {
		d.log.Info("session limit reached, closing conn",
			zap.String("remote", remote),
			zap.Int("limit", limit),
		)
		_ = conn.Close()
		return
	}

	var out outbox.Outbox
	if c.cfg.MaxSessions == 1 {
		out = outbox.NewLatest()
	} else {
		out = outbox.NewQueue(c.cfg.QueueLimit)
	}

	id := chat.SessionID(c.nextID.Add(1))
	sctx, stop := context.WithCancel(ctx)
	s := chat.NewSession(id, chat.RoleServer, remote, out, stop)
	peer := chat.PeerID{Address: remote}

	d.active[id] = peer
	c.register(s, peer)
	d.emit(chat.Established(id))

	p := c.newPump(id, conn, out, chat.RoleServer)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		defer stop()
		_ = p.Run(sctx, d.emit)
		d.finished <- id
	}()
}

func (d *driver) end(id chat.SessionID) {
	peer, ok := d.active[id]
	if !ok {
		return
	}
	delete(d.active, id)
	d.c.unregister(id, peer)
	d.log.Info("session ended", zap.Stringer("session", id))
}
