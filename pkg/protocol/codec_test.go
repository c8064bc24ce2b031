package protocol_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/encoding/protowire"

	"github.com/omochice/linkchat/pkg/protocol"
)

func TestCodecByName(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    protocol.Codec
		wantErr bool
	}{
		{name: "empty defaults to raw", input: "", want: protocol.Raw},
		{name: "raw", input: "raw", want: protocol.Raw},
		{name: "delimited ignores case", input: " Delimited ", want: protocol.Delimited},
		{name: "unknown", input: "cbor", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := protocol.CodecByName(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Name(), got.Name())
		})
	}
}

func TestRaw_ChunkIsMessage(t *testing.T) {
	dec := protocol.Raw.NewDecoder()

	msgs, err := dec.Decode([]byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, []string{"hello"}, msgs)

	msgs, err = dec.Decode(nil)
	require.NoError(t, err)
	assert.Empty(t, msgs)

	assert.Equal(t, []byte("hi"), protocol.Raw.Encode("hi"))
}

func TestDelimited_CoalescedFrames(t *testing.T) {
	var wire []byte
	wire = append(wire, protocol.Delimited.Encode("first")...)
	wire = append(wire, protocol.Delimited.Encode("")...)
	wire = append(wire, protocol.Delimited.Encode("third")...)

	msgs, err := protocol.Delimited.NewDecoder().Decode(wire)

	require.NoError(t, err)
	assert.Equal(t, []string{"first", "", "third"}, msgs)
}

func TestDelimited_SplitFrame(t *testing.T) {
	long := strings.Repeat("x", 300)
	wire := protocol.Delimited.Encode(long)
	dec := protocol.Delimited.NewDecoder()

	// The two-byte varint prefix is split across reads as well.
	msgs, err := dec.Decode(wire[:1])
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = dec.Decode(wire[1:100])
	require.NoError(t, err)
	assert.Empty(t, msgs)

	msgs, err = dec.Decode(wire[100:])
	require.NoError(t, err)
	assert.Equal(t, []string{long}, msgs)
}

func TestDelimited_FrameTooLarge(t *testing.T) {
	wire := protowire.AppendVarint(nil, protocol.MaxFrameSize+1)

	_, err := protocol.Delimited.NewDecoder().Decode(wire)

	assert.ErrorIs(t, err, protocol.ErrFrameTooLarge)
}

func TestDelimited_MalformedPrefix(t *testing.T) {
	wire := []byte{0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0x01}

	_, err := protocol.Delimited.NewDecoder().Decode(wire)

	assert.ErrorIs(t, err, protocol.ErrMalformedFrame)
}
