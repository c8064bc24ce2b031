package chat

import "strings"

// State is the view of a run that presentation code renders.
type State struct {
	Connected    bool
	Connecting   bool
	ErrorMessage string
	Messages     []string
}

// Connect returns the state shown while a run is starting.
func (s State) Connect() State {
	s.Connecting = true
	s.ErrorMessage = ""
	return s
}

// Apply folds ev into the state.
func (s State) Apply(ev Event) State {
	switch ev.Kind {
	case EventEstablished:
		s.Connected = true
		s.Connecting = false
		s.ErrorMessage = ""
	case EventMessage:
		s.Messages = append(s.Messages[:len(s.Messages):len(s.Messages)], ev.Text)
	case EventError:
		s.Connected = false
		s.Connecting = false
		s.ErrorMessage = ev.Reason()
	}
	return s
}

// Transcript returns the received messages, one per line.
func (s State) Transcript() string {
	return strings.Join(s.Messages, "\n")
}
