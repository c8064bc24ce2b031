package eventbus

import "sync"

// Feed broadcasts values to every subscriber without ever blocking the
// publisher. A subscriber whose buffer is full misses the value.
type Feed[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	buffer int
}

// NewFeed creates a Feed whose subscribers buffer up to buffer values.
func NewFeed[T any](buffer int) *Feed[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &Feed[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Publish delivers v and returns how many subscribers received it.
func (f *Feed[T]) Publish(v T) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	delivered := 0
	for _, ch := range f.subs {
		select {
		case ch <- v:
			delivered++
		default:
		}
	}
	return delivered
}

// Subscribe returns a channel of published values and a func that ends the
// subscription and closes the channel.
func (f *Feed[T]) Subscribe() (<-chan T, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.next
	f.next++
	ch := make(chan T, f.buffer)
	f.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
			close(ch)
		})
	}
}
