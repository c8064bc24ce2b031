package chat

import (
	"sort"
	"sync"
)

// Hub is the set of active sessions of a controller.
// Only the controller's driver tasks register and unregister sessions;
// senders look sessions up concurrently.
type Hub struct {
	sessions map[SessionID]*Session
	mu       sync.RWMutex
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		sessions: make(map[SessionID]*Session),
	}
}

// Register adds a session to the hub.
func (h *Hub) Register(s *Session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.ID] = s
}

// Unregister removes a session from the hub and returns it.
func (h *Hub) Unregister(id SessionID) (*Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	s, ok := h.sessions[id]
	if ok {
		delete(h.sessions, id)
	}
	return s, ok
}

// Get returns the session registered under id.
func (h *Hub) Get(id SessionID) (*Session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	s, ok := h.sessions[id]
	return s, ok
}

// Count returns number of registered sessions.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Each calls fn for every session playing role, in id order.
func (h *Hub) Each(role Role, fn func(*Session)) {
	for _, s := range h.snapshot() {
		if s.Role == role {
			fn(s)
		}
	}
}

// Sessions returns info for all sessions in id order.
func (h *Hub) Sessions() []SessionInfo {
	list := h.snapshot()
	infos := make([]SessionInfo, 0, len(list))
	for _, s := range list {
		infos = append(infos, s.Info())
	}
	return infos
}

func (h *Hub) snapshot() []*Session {
	h.mu.RLock()
	list := make([]*Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		list = append(list, s)
	}
	h.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list
}
