package protocol_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/linkchat/pkg/protocol"
)

func TestKind_String(t *testing.T) {
	tests := []struct {
		kind protocol.Kind
		want string
	}{
		{protocol.KindText, "TEXT"},
		{protocol.KindGreeting, "GREETING"},
		{protocol.KindPing, "PING"},
		{protocol.KindEcho, "ECHO"},
		{protocol.Kind(99), "UNKNOWN"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		text string
		want protocol.Kind
	}{
		{"greeting", protocol.Greeting, protocol.KindGreeting},
		{"ping", "server.ping: 123456", protocol.KindPing},
		{"echo", "from server: hello", protocol.KindEcho},
		{"plain text", "hello", protocol.KindText},
		{"greeting with suffix is text", protocol.Greeting + "!", protocol.KindText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, protocol.Classify(tt.text))
		})
	}
}

func TestPing(t *testing.T) {
	now := time.UnixMilli(1700000123456)

	got := protocol.Ping(now)

	assert.Equal(t, "server.ping: 123456", got)
}

func TestPing_ShortClock(t *testing.T) {
	got := protocol.Ping(time.UnixMilli(42))

	assert.Equal(t, "server.ping: 42", got)
}

func TestEcho(t *testing.T) {
	got := protocol.Echo("hello")

	assert.Equal(t, "from server: hello", got)
	assert.True(t, strings.HasPrefix(got, protocol.EchoPrefix))
}
