package eventbus

import "github.com/omochice/linkchat/internal/chat"

// Bus groups the streams exposed at the controller boundary.
type Bus struct {
	Connected    *State[bool]
	Paired       *State[[]chat.PeerID]
	Scanned      *State[[]chat.PeerID]
	LastReceived *State[string]
	Errors       *Feed[string]
}

// New creates a Bus with empty streams.
func New() *Bus {
	return &Bus{
		Connected:    NewState(false),
		Paired:       NewState[[]chat.PeerID](nil),
		Scanned:      NewState[[]chat.PeerID](nil),
		LastReceived: NewState(""),
		Errors:       NewFeed[string](16),
	}
}
