package protocol

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/protobuf/encoding/protowire"
)

// MaxFrameSize bounds a single delimited frame.
const MaxFrameSize = 1 << 20

var (
	// ErrMalformedFrame is returned when a length prefix cannot be parsed.
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrFrameTooLarge is returned when a length prefix exceeds the limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// Codec turns outbound text into bytes and builds per-connection decoders
// for inbound bytes.
type Codec interface {
	Name() string
	Encode(text string) []byte
	NewDecoder() Decoder
}

// Decoder splits inbound chunks into messages. A Decoder keeps state
// between calls and must not be shared between connections.
type Decoder interface {
	Decode(chunk []byte) ([]string, error)
}

var (
	// Raw treats every read as one message and writes text unchanged.
	Raw Codec = rawCodec{}

	// Delimited prefixes every message with its varint-encoded length.
	Delimited Codec = delimitedCodec{limit: MaxFrameSize}
)

// CodecByName returns the codec registered under name.
func CodecByName(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "raw":
		return Raw, nil
	case "delimited":
		return Delimited, nil
	default:
		return nil, fmt.Errorf("unknown framing %q", name)
	}
}

type rawCodec struct{}

func (rawCodec) Name() string { return "raw" }

func (rawCodec) Encode(text string) []byte { return []byte(text) }

func (rawCodec) NewDecoder() Decoder { return rawDecoder{} }

type rawDecoder struct{}

func (rawDecoder) Decode(chunk []byte) ([]string, error) {
	if len(chunk) == 0 {
		return nil, nil
	}
	return []string{string(chunk)}, nil
}

type delimitedCodec struct {
	limit int
}

func (delimitedCodec) Name() string { return "delimited" }

func (delimitedCodec) Encode(text string) []byte {
	b := make([]byte, 0, protowire.SizeBytes(len(text)))
	return protowire.AppendString(b, text)
}

func (c delimitedCodec) NewDecoder() Decoder {
	return &delimitedDecoder{limit: c.limit}
}

type delimitedDecoder struct {
	limit int
	buf   []byte
}

// Decode appends chunk to the pending input and returns every complete
// message. Incomplete trailing input is kept for the next call.
func (d *delimitedDecoder) Decode(chunk []byte) ([]string, error) {
	d.buf = append(d.buf, chunk...)

	var out []string
	for len(d.buf) > 0 {
		size, n := protowire.ConsumeVarint(d.buf)
		if n < 0 {
			err := protowire.ParseError(n)
			if errors.Is(err, io.ErrUnexpectedEOF) {
				break
			}
			return out, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
		if size > uint64(d.limit) {
			return out, fmt.Errorf("%w: %d bytes exceeds %d", ErrFrameTooLarge, size, d.limit)
		}
		end := n + int(size)
		if len(d.buf) < end {
			break
		}
		out = append(out, string(d.buf[n:end]))
		d.buf = d.buf[end:]
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return out, nil
}
