// Package capability gates public entry points on capabilities the host
// has granted, such as permission to open connections.
package capability

import (
	"fmt"

	"github.com/omochice/linkchat/internal/chat"
)

// Capability names something the host may grant or withhold.
type Capability string

const (
	Connect Capability = "connect"
	Listen  Capability = "listen"
	Scan    Capability = "scan"
)

// Checker reports whether a capability has been granted.
type Checker interface {
	Granted(c Capability) bool
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(c Capability) bool

func (f CheckerFunc) Granted(c Capability) bool { return f(c) }

// All grants every capability.
var All Checker = CheckerFunc(func(Capability) bool { return true })

// Set grants exactly the listed capabilities.
type Set map[Capability]bool

func (s Set) Granted(c Capability) bool { return s[c] }

// Require fails with chat.ErrPermissionDenied when c is not granted.
// A nil checker grants everything.
func Require(checker Checker, c Capability) error {
	if checker == nil || checker.Granted(c) {
		return nil
	}
	return fmt.Errorf("%w: %s", chat.ErrPermissionDenied, c)
}
