// Package outbox holds the hand-off structures between callers sending text
// and the single writer task of a session.
package outbox

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Next once the outbox is closed and drained.
var ErrClosed = errors.New("outbox closed")

// Outbox is written by any number of callers and drained by exactly one
// writer. Offer never blocks.
type Outbox interface {
	// Offer enqueues text and reports whether it was accepted. Text offered
	// after Close is dropped.
	Offer(text string) bool

	// Next blocks until text is available, the outbox is closed, or ctx is done.
	Next(ctx context.Context) (string, error)

	// Close stops accepting text and wakes the writer.
	Close()

	// Len returns the number of pending texts.
	Len() int
}

// Latest keeps only the newest undelivered text. A newer Offer supersedes
// an older one the writer has not taken yet.
type Latest struct {
	mu      sync.Mutex
	pending string
	has     bool
	closed  bool
	signal  chan struct{}
}

// NewLatest creates an empty conflated outbox.
func NewLatest() *Latest {
	return &Latest{signal: make(chan struct{}, 1)}
}

func (l *Latest) Offer(text string) bool {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return false
	}
	l.pending = text
	l.has = true
	l.mu.Unlock()

	notify(l.signal)
	return true
}

func (l *Latest) Next(ctx context.Context) (string, error) {
	for {
		l.mu.Lock()
		if l.closed {
			l.mu.Unlock()
			return "", ErrClosed
		}
		if l.has {
			text := l.pending
			l.pending, l.has = "", false
			l.mu.Unlock()
			return text, nil
		}
		l.mu.Unlock()

		select {
		case <-l.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (l *Latest) Close() {
	l.mu.Lock()
	l.closed = true
	l.pending, l.has = "", false
	l.mu.Unlock()
	notify(l.signal)
}

func (l *Latest) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.has {
		return 1
	}
	return 0
}

// Queue delivers every offered text in submission order. When limit is
// positive, text offered while limit items are pending is rejected.
type Queue struct {
	mu     sync.Mutex
	items  []string
	limit  int
	closed bool
	signal chan struct{}
}

// NewQueue creates an ordered outbox bounded by limit; zero means unbounded.
func NewQueue(limit int) *Queue {
	return &Queue{limit: limit, signal: make(chan struct{}, 1)}
}

func (q *Queue) Offer(text string) bool {
	q.mu.Lock()
	if q.closed || (q.limit > 0 && len(q.items) >= q.limit) {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, text)
	q.mu.Unlock()

	notify(q.signal)
	return true
}

func (q *Queue) Next(ctx context.Context) (string, error) {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return "", ErrClosed
		}
		if len(q.items) > 0 {
			text := q.items[0]
			q.items[0] = ""
			q.items = q.items[1:]
			q.mu.Unlock()
			return text, nil
		}
		q.mu.Unlock()

		select {
		case <-q.signal:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
}

func (q *Queue) Close() {
	q.mu.Lock()
	q.closed = true
	q.items = nil
	q.mu.Unlock()
	notify(q.signal)
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
