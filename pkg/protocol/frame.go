// Package protocol defines the text frames exchanged between peers and the
// codecs that move them over a byte stream.
package protocol

import (
	"strconv"
	"strings"
	"time"
)

const (
	// Greeting is written by a client right after it connects.
	Greeting = "Hello from Client"

	// PingPrefix starts every server heartbeat frame.
	PingPrefix = "server.ping: "

	// EchoPrefix starts every server echo reply.
	EchoPrefix = "from server: "
)

// Kind represents the type of a text frame
type Kind int

const (
	KindText Kind = iota
	KindGreeting
	KindPing
	KindEcho
)

// String returns the string representation of Kind
func (k Kind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindGreeting:
		return "GREETING"
	case KindPing:
		return "PING"
	case KindEcho:
		return "ECHO"
	default:
		return "UNKNOWN"
	}
}

// Classify reports the kind of a received frame from its content.
func Classify(text string) Kind {
	switch {
	case text == Greeting:
		return KindGreeting
	case strings.HasPrefix(text, PingPrefix):
		return KindPing
	case strings.HasPrefix(text, EchoPrefix):
		return KindEcho
	default:
		return KindText
	}
}

// Ping builds a heartbeat frame carrying the last six digits of the
// millisecond clock.
func Ping(now time.Time) string {
	ms := strconv.FormatInt(now.UnixMilli(), 10)
	if len(ms) > 6 {
		ms = ms[len(ms)-6:]
	}
	return PingPrefix + ms
}

// Echo builds the server reply for a received message.
func Echo(received string) string {
	return EchoPrefix + received
}
