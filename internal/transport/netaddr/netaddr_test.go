package netaddr_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/netaddr"
)

func TestServices_Bind(t *testing.T) {
	s := netaddr.Services{"chat_service": ":7070"}

	tests := []struct {
		name    string
		id      string
		want    string
		wantErr bool
	}{
		{name: "registered", id: "chat_service", want: ":7070"},
		{name: "literal address", id: "127.0.0.1:0", want: "127.0.0.1:0"},
		{name: "unknown", id: "svc-1", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Bind(tt.id)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestServices_Target(t *testing.T) {
	s := netaddr.Services{"chat_service": ":7070"}
	ctx := context.Background()

	tests := []struct {
		name    string
		address string
		want    string
		wantErr bool
	}{
		{name: "host and port", address: "127.0.0.1:9000", want: "127.0.0.1:9000"},
		{name: "bare ip takes service port", address: "127.0.0.1", want: "127.0.0.1:7070"},
		{name: "bare ipv6", address: "::1", want: "[::1]:7070"},
		{name: "localhost", address: "localhost", want: "localhost:7070"},
		{name: "hardware address", address: "AA:BB:CC:DD:EE:FF", wantErr: true},
		{name: "empty host", address: ":9000", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.Target(ctx, tt.address, "chat_service")
			if tt.wantErr {
				assert.ErrorIs(t, err, chat.ErrUnresolvable)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
