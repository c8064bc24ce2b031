// Package eventbus provides the observable streams the controller writes and
// presentation code subscribes to.
package eventbus

import "sync"

// State holds a current value. Subscribers see the value at subscription
// time and then only the newest value; intermediate updates may be skipped.
type State[T any] struct {
	mu    sync.Mutex
	value T
	subs  map[int]chan T
	next  int
}

// NewState creates a State holding initial.
func NewState[T any](initial T) *State[T] {
	return &State[T]{value: initial, subs: make(map[int]chan T)}
}

// Get returns the current value.
func (s *State[T]) Get() T {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// Set replaces the current value and notifies subscribers.
func (s *State[T]) Set(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = v
	for _, ch := range s.subs {
		replace(ch, v)
	}
}

// Update applies fn to the current value atomically.
func (s *State[T]) Update(fn func(T) T) T {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.value = fn(s.value)
	for _, ch := range s.subs {
		replace(ch, s.value)
	}
	return s.value
}

// Subscribe returns a channel carrying the newest value and a func that
// ends the subscription and closes the channel.
func (s *State[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.next
	s.next++
	ch := make(chan T, 1)
	ch <- s.value
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

// replace swaps the buffered value of a one-slot channel for v.
// Callers hold the owning lock, so there is a single producer.
func replace[T any](ch chan T, v T) {
	select {
	case <-ch:
	default:
	}
	select {
	case ch <- v:
	default:
	}
}
