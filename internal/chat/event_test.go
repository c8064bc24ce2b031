package chat_test

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/linkchat/internal/chat"
)

func TestEventKind_String(t *testing.T) {
	tests := []struct {
		kind chat.EventKind
		want string
	}{
		{chat.EventEstablished, "ESTABLISHED"},
		{chat.EventMessage, "MESSAGE"},
		{chat.EventError, "ERROR"},
		{chat.EventKind(0), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestEvent_Constructors(t *testing.T) {
	est := chat.Established(3)
	assert.Equal(t, chat.EventEstablished, est.Kind)
	assert.Equal(t, chat.SessionID(3), est.Session)
	assert.Empty(t, est.Reason())

	lst := chat.Listening("127.0.0.1:7070")
	assert.Equal(t, chat.EventEstablished, lst.Kind)
	assert.Equal(t, chat.SessionID(0), lst.Session)
	assert.Equal(t, "127.0.0.1:7070", lst.Text)

	msg := chat.Message(3, "hi")
	assert.Equal(t, chat.EventMessage, msg.Kind)
	assert.Equal(t, "hi", msg.Text)

	fail := chat.Failure(0, chat.Interrupted(chat.ErrAcceptFailure, "accept", nil))
	assert.Equal(t, chat.EventError, fail.Kind)
	assert.Equal(t, "Connection was interrupted (accept)", fail.Reason())
}

func TestEvent_String(t *testing.T) {
	assert.Equal(t, "run ESTABLISHED", chat.Established(0).String())
	assert.Equal(t, "run ESTABLISHED mem:svc-1", chat.Listening("mem:svc-1").String())
	assert.Equal(t, `session-2 MESSAGE "hi"`, chat.Message(2, "hi").String())
	assert.Equal(t, "session-2 ERROR Connection was interrupted (read): EOF",
		chat.Failure(2, chat.Interrupted(chat.ErrIOFailure, "read", io.EOF)).String())
}

func TestInterruptedError(t *testing.T) {
	tests := []struct {
		name string
		err  *chat.InterruptedError
		want string
	}{
		{
			name: "op only",
			err:  chat.Interrupted(chat.ErrAcceptFailure, "accept", nil),
			want: "Connection was interrupted (accept)",
		},
		{
			name: "op and cause",
			err:  chat.Interrupted(chat.ErrIOFailure, "ping", io.ErrClosedPipe),
			want: "Connection was interrupted (ping): io: read/write on closed pipe",
		},
		{
			name: "cause only",
			err:  chat.Interrupted(chat.ErrConnectFailure, "", errors.New("refused")),
			want: "Connection was interrupted: refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestInterruptedError_UnwrapsKindAndCause(t *testing.T) {
	err := chat.Interrupted(chat.ErrIOFailure, "read", io.EOF)

	assert.ErrorIs(t, err, chat.ErrIOFailure)
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, chat.ErrBindFailure)

	var target *chat.InterruptedError
	assert.ErrorAs(t, error(err), &target)
	assert.Equal(t, "read", target.Op)
}
