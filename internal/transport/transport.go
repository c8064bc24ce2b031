// Package transport selects a chat.Transport implementation by name.
package transport

import (
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/omochice/linkchat/internal/chat"
	"github.com/omochice/linkchat/internal/transport/mem"
	"github.com/omochice/linkchat/internal/transport/netaddr"
	"github.com/omochice/linkchat/internal/transport/quic"
	"github.com/omochice/linkchat/internal/transport/tcp"
	"github.com/omochice/linkchat/internal/transport/unified"
	"github.com/omochice/linkchat/internal/transport/ws"
)

// Kinds lists the supported transport names.
var Kinds = []string{"tcp", "ws", "unified", "quic", "mem"}

// New returns the transport named kind. services maps service ids to bind
// addresses and is ignored by the in-memory transport.
func New(kind string, services map[string]string, log *zap.Logger) (chat.Transport, error) {
	if log == nil {
		log = zap.NewNop()
	}

	switch strings.ToLower(kind) {
	case "tcp", "":
		return tcp.New(netaddr.Services(services), log), nil
	case "ws", "websocket":
		return ws.New(netaddr.Services(services), log), nil
	case "unified":
		return unified.New(netaddr.Services(services), log), nil
	case "quic":
		t, err := quic.New(netaddr.Services(services), log)
		if err != nil {
			return nil, err
		}
		return t, nil
	case "mem":
		return mem.New(), nil
	default:
		return nil, fmt.Errorf("unsupported transport kind %q", kind)
	}
}
