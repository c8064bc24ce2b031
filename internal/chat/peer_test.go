package chat_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/omochice/linkchat/internal/chat"
)

func TestPeerID_SameComparesAddressOnly(t *testing.T) {
	a := chat.PeerID{Name: "phone", Address: "AA:BB"}
	b := chat.PeerID{Name: "", Address: "AA:BB"}
	c := chat.PeerID{Name: "phone", Address: "CC:DD"}

	assert.True(t, a.Same(b))
	assert.False(t, a.Same(c))
}

func TestPeerID_String(t *testing.T) {
	assert.Equal(t, "AA:BB", chat.PeerID{Address: "AA:BB"}.String())
	assert.Equal(t, "phone (AA:BB)", chat.PeerID{Name: "phone", Address: "AA:BB"}.String())
}
