// Package directory tracks the peers a node has seen (scanned) and the peers
// it has been linked with (paired).
package directory

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/eventbus"
)

// Notification reports a link to peer going up or down.
type Notification struct {
	Connected bool
	Peer      chat.PeerID
}

// Prober opens and immediately closes a connection to peer.
type Prober func(ctx context.Context, peer chat.PeerID) error

// Scanner drives the external discovery mechanism.
type Scanner interface {
	StartDiscovery(ctx context.Context) error
	StopDiscovery() error
}

// maxConcurrentProbes bounds Refresh fan-out.
const maxConcurrentProbes = 8

// Directory holds scanned and paired peers, each de-duplicated by address.
// Lists are mirrored into the bus on every change.
type Directory struct {
	mu      sync.Mutex
	scanned []chat.PeerID
	paired  []chat.PeerID
	subs    map[int]func(Notification)
	next    int

	bus *eventbus.Bus
	log *zap.Logger
}

// New creates an empty Directory publishing to bus. Both arguments may be nil.
func New(bus *eventbus.Bus, log *zap.Logger) *Directory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Directory{
		subs: make(map[int]func(Notification)),
		bus:  bus,
		log:  log.Named("directory"),
	}
}

// DeviceFound records a scanned peer and reports whether it was new.
func (d *Directory) DeviceFound(peer chat.PeerID) bool {
	d.mu.Lock()
	list, changed, added := upsert(d.scanned, peer)
	d.scanned = list
	d.mu.Unlock()

	if changed {
		d.publishScanned(list)
	}
	if added {
		d.log.Debug("peer found", zap.Stringer("peer", peer))
	}
	return added
}

// SetPaired replaces the paired list with peers, de-duplicated by address.
func (d *Directory) SetPaired(peers []chat.PeerID) {
	var list []chat.PeerID
	for _, p := range peers {
		list, _, _ = upsert(list, p)
	}

	d.mu.Lock()
	d.paired = list
	d.mu.Unlock()

	d.publishPaired(list)
}

// ConnectionStateChanged records a link change and notifies subscribers.
// A connected peer is added to the paired list.
func (d *Directory) ConnectionStateChanged(connected bool, peer chat.PeerID) {
	d.mu.Lock()
	var (
		list    []chat.PeerID
		changed bool
	)
	if connected {
		list, changed, _ = upsert(d.paired, peer)
		d.paired = list
	}
	subs := make([]func(Notification), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()

	if changed {
		d.publishPaired(list)
	}

	d.log.Debug("connection state changed",
		zap.Bool("connected", connected),
		zap.Stringer("peer", peer),
	)

	n := Notification{Connected: connected, Peer: peer}
	for _, fn := range subs {
		fn(n)
	}
}

// Scanned returns a copy of the scanned peers.
func (d *Directory) Scanned() []chat.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clone(d.scanned)
}

// Paired returns a copy of the paired peers.
func (d *Directory) Paired() []chat.PeerID {
	d.mu.Lock()
	defer d.mu.Unlock()
	return clone(d.paired)
}

// Clear empties both lists.
func (d *Directory) Clear() {
	d.mu.Lock()
	d.scanned = nil
	d.paired = nil
	d.mu.Unlock()

	d.publishScanned(nil)
	d.publishPaired(nil)
}

// Subscribe registers fn for connection-state notifications. The returned
// func removes it and may be called more than once.
func (d *Directory) Subscribe(fn func(Notification)) func() {
	d.mu.Lock()
	id := d.next
	d.next++
	d.subs[id] = fn
	d.mu.Unlock()

	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Refresh probes every paired peer concurrently, each bounded by timeout.
// Probe failures are logged; an unreachable peer never stalls the others.
func (d *Directory) Refresh(ctx context.Context, probe Prober, timeout time.Duration) error {
	var g errgroup.Group
	g.SetLimit(maxConcurrentProbes)

	for _, peer := range d.Paired() {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			if err := probe(pctx, peer); err != nil {
				d.log.Debug("probe failed", zap.Stringer("peer", peer), zap.Error(err))
				return nil
			}
			d.log.Debug("probe succeeded", zap.Stringer("peer", peer))
			return nil
		})
	}

	_ = g.Wait()
	return ctx.Err()
}

func (d *Directory) publishScanned(list []chat.PeerID) {
	if d.bus != nil {
		d.bus.Scanned.Set(clone(list))
	}
}

func (d *Directory) publishPaired(list []chat.PeerID) {
	if d.bus != nil {
		d.bus.Paired.Set(clone(list))
	}
}

// upsert returns list with peer merged in by address. The input slice is
// never modified. A later non-empty name fills an empty one.
func upsert(list []chat.PeerID, peer chat.PeerID) (out []chat.PeerID, changed, added bool) {
	for i, existing := range list {
		if !existing.Same(peer) {
			continue
		}
		if existing.Name != "" || peer.Name == "" {
			return list, false, false
		}
		out = clone(list)
		out[i].Name = peer.Name
		return out, true, false
	}

	out = make([]chat.PeerID, len(list), len(list)+1)
	copy(out, list)
	return append(out, peer), true, true
}

func clone(list []chat.PeerID) []chat.PeerID {
	if list == nil {
		return nil
	}
	out := make([]chat.PeerID, len(list))
	copy(out, list)
	return out
}
