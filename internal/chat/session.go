package chat

import (
	"context"
	"fmt"

	"github.com/omochice/linkchat/internal/outbox"
)

// SessionID identifies a session within a controller. Zero means "no session".
type SessionID uint64

func (id SessionID) String() string {
	if id == 0 {
		return "run"
	}
	return fmt.Sprintf("session-%d", id)
}

// Role is the side of the connection a session plays.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// String returns the string representation of Role
func (r Role) String() string {
	switch r {
	case RoleServer:
		return "server"
	case RoleClient:
		return "client"
	default:
		return "unknown"
	}
}

// SessionInfo is a read-only snapshot of a registered session.
type SessionInfo struct {
	ID     SessionID
	Role   Role
	Remote string
	// Pending is the number of outbound texts not yet taken by the writer.
	Pending int
}

// Session is the registry entry for one live connection. The conn itself is
// owned by the session's message pump; the registry only routes outbound
// text and can ask the pump to stop.
type Session struct {
	ID       SessionID
	Role     Role
	Remote   string
	Outgoing outbox.Outbox

	stop context.CancelFunc
}

// NewSession creates a registry entry. stop cancels the session's pump.
func NewSession(id SessionID, role Role, remote string, out outbox.Outbox, stop context.CancelFunc) *Session {
	return &Session{
		ID:       id,
		Role:     role,
		Remote:   remote,
		Outgoing: out,
		stop:     stop,
	}
}

// Send enqueues text for the session's writer. It never blocks and reports
// whether the text was accepted. Empty text is never accepted.
func (s *Session) Send(text string) bool {
	if text == "" {
		return false
	}
	return s.Outgoing.Offer(text)
}

// Stop asks the session's pump to shut down.
func (s *Session) Stop() {
	if s.stop != nil {
		s.stop()
	}
}

// Info returns a snapshot of the session.
func (s *Session) Info() SessionInfo {
	return SessionInfo{ID: s.ID, Role: s.Role, Remote: s.Remote, Pending: s.Outgoing.Len()}
}
