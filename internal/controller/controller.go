// Package controller runs chat sessions for both roles. A server run listens
// under a service id and gives every accepted conn its own message pump; a
// client run connects to one peer and pumps that single conn. Each run is
// exposed as a Stream of chat events.
package controller

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/capability"
	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/config"
	"github.com/omochice/linkchat/internal/directory"
	"github.com/omochice/linkchat/internal/eventbus"
	"github.com/omochice/linkchat/internal/outbox"
	"github.com/omochice/linkchat/internal/pump"
	"github.com/omochice/linkchat/pkg/protocol"
)

// DefaultServiceID is used by client runs when Options.ServiceID is empty.
const DefaultServiceID = "chat_service"

// DefaultDiscoveryDelay is the pause between refresh probes and restarting
// discovery.
const DefaultDiscoveryDelay = 250 * time.Millisecond

// Options configures a Controller. Zero durations and sizes in Session fall
// back to defaults; a negative HeartbeatInterval or DiscoveryDelay disables
// it. Session.Echo is used as given, and config.Default turns it on.
type Options struct {
	// ServiceID is the service client runs connect under.
	ServiceID string

	Session config.SessionConfig

	// Capabilities gates every entry point. Nil grants everything.
	Capabilities capability.Checker

	Directory *directory.Directory
	Bus       *eventbus.Bus

	// Scanner, when set, is stopped before connecting and restarted by
	// RefreshPeers.
	Scanner directory.Scanner

	Logger *zap.Logger
}

// Controller owns the server run and the client run of one node.
type Controller struct {
	transport chat.Transport
	serviceID string
	cfg       config.SessionConfig
	codec     protocol.Codec
	caps      capability.Checker
	dir       *directory.Directory
	bus       *eventbus.Bus
	scanner   directory.Scanner
	log       *zap.Logger

	hub    *chat.Hub
	nextID atomic.Uint64

	mu          sync.Mutex
	server      *run
	client      *run
	released    bool
	unsubscribe func()
}

// New creates a Controller driving t.
func New(t chat.Transport, opts Options) (*Controller, error) {
	cfg := withDefaults(opts.Session)
	codec, err := protocol.CodecByName(cfg.Framing)
	if err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bus := opts.Bus
	if bus == nil {
		bus = eventbus.New()
	}
	dir := opts.Directory
	if dir == nil {
		dir = directory.New(bus, log)
	}
	serviceID := opts.ServiceID
	if serviceID == "" {
		serviceID = DefaultServiceID
	}

	c := &Controller{
		transport: t,
		serviceID: serviceID,
		cfg:       cfg,
		codec:     codec,
		caps:      opts.Capabilities,
		dir:       dir,
		bus:       bus,
		scanner:   opts.Scanner,
		log:       log.Named("controller"),
		hub:       chat.NewHub(),
	}
	c.unsubscribe = dir.Subscribe(func(n directory.Notification) {
		bus.Connected.Set(n.Connected || c.hub.Count() > 0)
	})
	return c, nil
}

func withDefaults(cfg config.SessionConfig) config.SessionConfig {
	if cfg.ReadBuffer <= 0 {
		cfg.ReadBuffer = pump.DefaultReadBuffer
	}
	switch {
	case cfg.HeartbeatInterval == 0:
		cfg.HeartbeatInterval = pump.DefaultHeartbeat
	case cfg.HeartbeatInterval < 0:
		cfg.HeartbeatInterval = 0
	}
	if cfg.ShutdownGrace <= 0 {
		cfg.ShutdownGrace = pump.DefaultGrace
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 50 * time.Millisecond
	}
	if cfg.DiscoveryDelay == 0 {
		cfg.DiscoveryDelay = DefaultDiscoveryDelay
	}
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 256
	}
	return cfg
}

// Bus returns the streams the controller publishes to.
func (c *Controller) Bus() *eventbus.Bus { return c.bus }

// Directory returns the peer directory the controller reports to.
func (c *Controller) Directory() *directory.Directory { return c.dir }

// Sessions lists the active sessions of both roles in id order.
func (c *Controller) Sessions() []chat.SessionInfo {
	return c.hub.Sessions()
}

// SendToServer enqueues text on the client session. It reports whether a
// live session took it; otherwise the text is dropped.
func (c *Controller) SendToServer(text string) bool {
	sent := false
	c.hub.Each(chat.RoleClient, func(s *chat.Session) {
		sent = s.Send(text) || sent
	})
	return sent
}

// SendToClient enqueues text on server session id only.
func (c *Controller) SendToClient(id chat.SessionID, text string) bool {
	s, ok := c.hub.Get(id)
	if !ok || s.Role != chat.RoleServer {
		return false
	}
	return s.Send(text)
}

// Broadcast enqueues text on every server session and returns how many
// took it.
func (c *Controller) Broadcast(text string) int {
	n := 0
	c.hub.Each(chat.RoleServer, func(s *chat.Session) {
		if s.Send(text) {
			n++
		}
	})
	return n
}

// CloseSession stops one session of either role without ending its run.
// The session's stream slice ends without an Error. It reports whether the
// session existed.
func (c *Controller) CloseSession(id chat.SessionID) bool {
	s, ok := c.hub.Get(id)
	if !ok {
		return false
	}
	s.Stop()
	c.log.Info("closing session", zap.Stringer("session", id))
	return true
}

// CloseServerConnection stops the server run, if any.
func (c *Controller) CloseServerConnection() {
	c.stop(&c.server)
}

// CloseClientConnection stops the client run, if any.
func (c *Controller) CloseClientConnection() {
	c.stop(&c.client)
}

// CloseAllConnections stops both runs.
func (c *Controller) CloseAllConnections() {
	c.CloseClientConnection()
	c.CloseServerConnection()
}

// Release closes every run and unsubscribes from the directory. Runs
// started afterwards complete without events.
func (c *Controller) Release() {
	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return
	}
	c.released = true
	unsubscribe := c.unsubscribe
	c.mu.Unlock()

	c.CloseAllConnections()
	unsubscribe()
	c.log.Info("controller released")
}

// RefreshPeers probes every paired peer with a short connect, waits for the
// discovery delay, and restarts discovery.
func (c *Controller) RefreshPeers(ctx context.Context) error {
	if err := capability.Require(c.caps, capability.Scan); err != nil {
		return err
	}

	probe := func(ctx context.Context, peer chat.PeerID) error {
		conn, err := c.transport.Connect(ctx, peer.Address, c.serviceID)
		if err != nil {
			return err
		}
		return conn.Close()
	}
	if err := c.dir.Refresh(ctx, probe, c.cfg.ProbeTimeout); err != nil {
		return err
	}

	if c.cfg.DiscoveryDelay > 0 {
		timer := time.NewTimer(c.cfg.DiscoveryDelay)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	}

	if c.scanner == nil {
		return nil
	}
	return c.scanner.StartDiscovery(ctx)
}

// run tracks one active server or client run.
type run struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// stop cancels the run and waits for it to close its sockets, bounded by
// timeout.
func (r *run) stop(timeout time.Duration) bool {
	r.cancel()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-r.done:
		return true
	case <-timer.C:
		return false
	}
}

// stopTimeout bounds waiting for a run: every pump gets its grace period
// and the driver gets as much again.
func (c *Controller) stopTimeout() time.Duration {
	return 2 * c.cfg.ShutdownGrace
}

// begin installs a new run in slot, stopping the one it replaces. It returns
// nil once the controller has been released.
func (c *Controller) begin(slot **run, cancel context.CancelFunc) *run {
	r := &run{cancel: cancel, done: make(chan struct{})}

	c.mu.Lock()
	if c.released {
		c.mu.Unlock()
		return nil
	}
	prev := *slot
	*slot = r
	c.mu.Unlock()

	if prev != nil && !prev.stop(c.stopTimeout()) {
		c.log.Warn("previous run did not stop in time")
	}
	return r
}

func (c *Controller) finish(slot **run, r *run) {
	c.mu.Lock()
	if *slot == r {
		*slot = nil
	}
	c.mu.Unlock()
	close(r.done)
}

func (c *Controller) stop(slot **run) {
	c.mu.Lock()
	r := *slot
	c.mu.Unlock()
	if r != nil && !r.stop(c.stopTimeout()) {
		c.log.Warn("run did not stop in time")
	}
}

// emitter delivers events of one run to out until ctx is done. Error
// reasons are mirrored to the bus.
func (c *Controller) emitter(ctx context.Context, out chan<- chat.Event) func(chat.Event) bool {
	return func(ev chat.Event) bool {
		if ev.Kind == chat.EventError {
			c.bus.Errors.Publish(ev.Reason())
		}
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}
}

func (c *Controller) pumpConfig(role chat.Role) pump.Config {
	cfg := pump.Config{
		Role:       role,
		ReadBuffer: c.cfg.ReadBuffer,
		Heartbeat:  c.cfg.HeartbeatInterval,
		Grace:      c.cfg.ShutdownGrace,
		Codec:      c.codec,
	}
	if role == chat.RoleServer && c.cfg.Echo {
		cfg.Echo = echo
	}
	return cfg
}

// echo answers plain text only, so two servers never bounce replies.
func echo(received string) (string, bool) {
	switch protocol.Classify(received) {
	case protocol.KindEcho, protocol.KindPing:
		return "", false
	}
	return protocol.Echo(received), true
}

func (c *Controller) newPump(id chat.SessionID, conn chat.Conn, out outbox.Outbox, role chat.Role) *pump.Pump {
	return pump.New(id, conn, out, c.pumpConfig(role),
		pump.WithLogger(c.log.Named("pump")),
		pump.WithOnReceive(c.bus.LastReceived.Set),
	)
}

// register adds a session to the hub and reports the link as up.
func (c *Controller) register(s *chat.Session, peer chat.PeerID) {
	c.hub.Register(s)
	c.dir.ConnectionStateChanged(true, peer)
	c.log.Info("session established",
		zap.Stringer("session", s.ID),
		zap.Stringer("role", s.Role),
		zap.String("remote", s.Remote),
	)
}

// unregister removes a session and reports the link as down.
func (c *Controller) unregister(id chat.SessionID, peer chat.PeerID) {
	if _, ok := c.hub.Unregister(id); !ok {
		return
	}
	c.dir.ConnectionStateChanged(false, peer)
}
