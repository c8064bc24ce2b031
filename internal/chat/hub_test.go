package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/outbox"
)

func newSession(id chat.SessionID, role chat.Role) *chat.Session {
	return chat.NewSession(id, role, "127.0.0.1:1234", outbox.NewQueue(0), nil)
}

func TestHub_Register(t *testing.T) {
	hub := chat.NewHub()

	hub.Register(newSession(1, chat.RoleServer))

	assert.Equal(t, 1, hub.Count())
	s, ok := hub.Get(1)
	require.True(t, ok)
	assert.Equal(t, chat.RoleServer, s.Role)
}

func TestHub_Register_MultipleSessions(t *testing.T) {
	hub := chat.NewHub()

	for i := 1; i <= 3; i++ {
		hub.Register(newSession(chat.SessionID(i), chat.RoleServer))
	}
	hub.Register(newSession(4, chat.RoleClient))

	assert.Equal(t, 4, hub.Count())
	n := 0
	hub.Each(chat.RoleServer, func(*chat.Session) { n++ })
	assert.Equal(t, 3, n)
}

func TestHub_Unregister(t *testing.T) {
	hub := chat.NewHub()
	hub.Register(newSession(7, chat.RoleClient))

	s, ok := hub.Unregister(7)
	require.True(t, ok)
	assert.Equal(t, chat.SessionID(7), s.ID)

	_, ok = hub.Unregister(7)
	assert.False(t, ok)
	assert.Equal(t, 0, hub.Count())
}

func TestHub_EachVisitsRoleInIDOrder(t *testing.T) {
	hub := chat.NewHub()
	hub.Register(newSession(3, chat.RoleServer))
	hub.Register(newSession(1, chat.RoleServer))
	hub.Register(newSession(2, chat.RoleClient))

	var ids []chat.SessionID
	hub.Each(chat.RoleServer, func(s *chat.Session) {
		ids = append(ids, s.ID)
	})

	assert.Equal(t, []chat.SessionID{1, 3}, ids)
}

func TestHub_Sessions(t *testing.T) {
	hub := chat.NewHub()
	hub.Register(newSession(2, chat.RoleClient))
	hub.Register(newSession(1, chat.RoleServer))

	infos := hub.Sessions()

	require.Len(t, infos, 2)
	assert.Equal(t, chat.SessionInfo{ID: 1, Role: chat.RoleServer, Remote: "127.0.0.1:1234"}, infos[0])
	assert.Equal(t, chat.SessionID(2), infos[1].ID)
}

func TestSession_SendAndStop(t *testing.T) {
	stopped := false
	q := outbox.NewQueue(0)
	s := chat.NewSession(1, chat.RoleServer, "peer", q, func() { stopped = true })

	assert.True(t, s.Send("hello"))
	assert.Equal(t, 1, q.Len())
	assert.Equal(t, 1, s.Info().Pending)

	s.Stop()
	assert.True(t, stopped)
}

func TestSession_SendRejectsEmptyText(t *testing.T) {
	q := outbox.NewQueue(0)
	s := chat.NewSession(1, chat.RoleClient, "peer", q, nil)

	assert.False(t, s.Send(""))
	assert.Equal(t, 0, q.Len())
}
