package chat

import "fmt"

// EventKind tags a ConnectionEvent.
type EventKind int

const (
	EventEstablished EventKind = iota + 1
	EventMessage
	EventError
)

// String returns the string representation of EventKind
func (k EventKind) String() string {
	switch k {
	case EventEstablished:
		return "ESTABLISHED"
	case EventMessage:
		return "MESSAGE"
	case EventError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Event is one item of a run's result stream.
//
// Session is zero for run-level events: the listener becoming ready and
// failures of the accept/connect driver itself.
type Event struct {
	Kind    EventKind
	Session SessionID
	Text    string
	Err     error
}

// Established reports that a listener or a session is ready.
func Established(id SessionID) Event {
	return Event{Kind: EventEstablished, Session: id}
}

// Listening reports that a server run is bound at addr.
func Listening(addr string) Event {
	return Event{Kind: EventEstablished, Text: addr}
}

// Message carries text received on a session.
func Message(id SessionID, text string) Event {
	return Event{Kind: EventMessage, Session: id, Text: text}
}

// Failure terminates a session, or the whole run when id is zero.
func Failure(id SessionID, err error) Event {
	return Event{Kind: EventError, Session: id, Err: err}
}

// Reason returns the human-readable failure text of an Error event.
func (e Event) Reason() string {
	if e.Err == nil {
		return ""
	}
	return e.Err.Error()
}

func (e Event) String() string {
	switch e.Kind {
	case EventMessage:
		return fmt.Sprintf("%s %s %q", e.Session, e.Kind, e.Text)
	case EventError:
		return fmt.Sprintf("%s %s %s", e.Session, e.Kind, e.Reason())
	case EventEstablished:
		if e.Text != "" {
			return fmt.Sprintf("%s %s %s", e.Session, e.Kind, e.Text)
		}
		return fmt.Sprintf("%s %s", e.Session, e.Kind)
	default:
		return fmt.Sprintf("%s %s", e.Session, e.Kind)
	}
}
