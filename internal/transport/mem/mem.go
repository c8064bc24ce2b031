// Package mem is an in-process transport over net.Pipe. It counts open conns
// and can inject accept interruptions, which makes it the transport double
// for controller tests.
package mem

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/omochice/linkchat/internal/chat"
)

// Scheme prefixes every in-memory address.
const Scheme = "mem:"

// ErrRefused is returned when no listener is bound at an address.
var ErrRefused = errors.New("mem: connection refused")

const backlog = 8

// Transport is an in-memory transport. The zero value is not usable; call New.
type Transport struct {
	mu        sync.Mutex
	listeners map[string]*listener
	failures  map[string]error
	open      atomic.Int64
	seq       atomic.Uint64
}

// New creates an empty in-memory transport.
func New() *Transport {
	return &Transport{
		listeners: make(map[string]*listener),
		failures:  make(map[string]error),
	}
}

// Address returns the address a listener for serviceID is reachable at.
func Address(serviceID string) string {
	return Scheme + serviceID
}

// Listen binds serviceID. Binding a service twice fails.
func (t *Transport) Listen(ctx context.Context, serviceID string) (chat.Listener, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	addr := Address(serviceID)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.listeners[addr]; ok {
		return nil, fmt.Errorf("mem: %s already bound", addr)
	}
	l := &listener{
		t:         t,
		addr:      addr,
		serviceID: serviceID,
		backlog:   make(chan *Conn, backlog),
		interrupt: make(chan struct{}, 1),
		closed:    make(chan struct{}),
	}
	t.listeners[addr] = l
	return l, nil
}

// Connect dials the listener bound at address.
func (t *Transport) Connect(ctx context.Context, address, serviceID string) (chat.Conn, error) {
	if !strings.HasPrefix(address, Scheme) {
		return nil, fmt.Errorf("%w: %q", chat.ErrUnresolvable, address)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t.mu.Lock()
	injected := t.failures[address]
	l := t.listeners[address]
	t.mu.Unlock()

	if injected != nil {
		return nil, injected
	}
	if l == nil || l.serviceID != serviceID {
		return nil, ErrRefused
	}

	local := fmt.Sprintf("%sclient-%d", Scheme, t.seq.Add(1))
	client, server := t.Pipe(local, address)
	if !l.enqueue(server) {
		_ = server.Close()
		_ = client.Close()
		return nil, ErrRefused
	}
	return client, nil
}

// FailConnect makes every Connect to address fail with err. A nil err
// removes the injection.
func (t *Transport) FailConnect(address string, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err == nil {
		delete(t.failures, address)
		return
	}
	t.failures[address] = err
}

// InterruptAccept makes the next Accept on serviceID return no conn and no
// error.
func (t *Transport) InterruptAccept(serviceID string) {
	t.mu.Lock()
	l := t.listeners[Address(serviceID)]
	t.mu.Unlock()
	if l == nil {
		return
	}
	select {
	case l.interrupt <- struct{}{}:
	default:
	}
}

// OpenConns returns the number of conns created and not yet closed.
func (t *Transport) OpenConns() int {
	return int(t.open.Load())
}

// WaitIdle blocks until no conns are open or timeout elapses, and reports
// whether the transport went idle.
func (t *Transport) WaitIdle(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for t.OpenConns() > 0 {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(5 * time.Millisecond)
	}
	return true
}

// Pipe returns two connected conns tracked by the transport.
// a sees remote bAddr and b sees remote aAddr.
func (t *Transport) Pipe(aAddr, bAddr string) (*Conn, *Conn) {
	pa, pb := net.Pipe()
	t.open.Add(2)
	return &Conn{pipe: pa, remote: bAddr, t: t}, &Conn{pipe: pb, remote: aAddr, t: t}
}

func (t *Transport) unbind(addr string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.listeners, addr)
}

type listener struct {
	t         *Transport
	addr      string
	serviceID string
	backlog   chan *Conn
	interrupt chan struct{}

	mu        sync.Mutex
	closed    chan struct{}
	closeOnce sync.Once
}

func (l *listener) enqueue(c *Conn) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.closed:
		return false
	default:
	}
	select {
	case l.backlog <- c:
		return true
	default:
		return false
	}
}

func (l *listener) Accept(ctx context.Context) (chat.Conn, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-l.closed:
		return nil, net.ErrClosed
	case <-l.interrupt:
		return nil, nil
	case c := <-l.backlog:
		return c, nil
	}
}

func (l *listener) Close() error {
	l.closeOnce.Do(func() {
		l.mu.Lock()
		close(l.closed)
		l.mu.Unlock()

		l.t.unbind(l.addr)
		for {
			select {
			case c := <-l.backlog:
				_ = c.Close()
			default:
				return
			}
		}
	})
	return nil
}

func (l *listener) Addr() string { return l.addr }

// Conn is one end of an in-memory pipe.
type Conn struct {
	pipe   net.Conn
	remote string
	t      *Transport

	closeOnce sync.Once
	closed    atomic.Bool
}

func (c *Conn) Read(p []byte) (int, error) { return c.pipe.Read(p) }

func (c *Conn) Write(p []byte) (int, error) { return c.pipe.Write(p) }

func (c *Conn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.t.open.Add(-1)
		err = c.pipe.Close()
	})
	return err
}

func (c *Conn) IsConnected() bool { return !c.closed.Load() }

func (c *Conn) RemoteAddr() string { return c.remote }

func (c *Conn) SetReadDeadline(t time.Time) error { return c.pipe.SetReadDeadline(t) }
