package controller

import (
	"context"

	"github.com/omochice/linkchat/internal/chat"
)

// Stream is a cold sequence of events. Nothing runs until Events or Collect
// is called, and every call starts a new run.
type Stream struct {
	run func(ctx context.Context, out chan<- chat.Event)
}

// Events starts the run and returns its events. The channel is closed once
// every socket of the run has been closed. Cancelling ctx ends the run
// without an Error event; the caller must keep receiving until the channel
// closes or ctx is cancelled.
func (s *Stream) Events(ctx context.Context) <-chan chat.Event {
	out := make(chan chat.Event)
	go func() {
		defer close(out)
		s.run(ctx, out)
	}()
	return out
}

// Collect runs the stream to completion, calling fn for every event from the
// calling goroutine. It returns the run-level failure, if any.
func (s *Stream) Collect(ctx context.Context, fn func(chat.Event)) error {
	var failure error
	for ev := range s.Events(ctx) {
		if ev.Kind == chat.EventError && ev.Session == 0 {
			failure = ev.Err
		}
		fn(ev)
	}
	return failure
}
