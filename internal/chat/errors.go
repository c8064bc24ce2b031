package chat

import (
	"errors"
	"strings"
)

// Error kinds surfaced by the session controller.
var (
	ErrPermissionDenied = errors.New("permission denied")
	ErrBindFailure      = errors.New("bind failure")
	ErrAcceptFailure    = errors.New("accept failure")
	ErrConnectFailure   = errors.New("connect failure")
	ErrIOFailure        = errors.New("i/o failure")
)

var (
	// ErrUnresolvable is wrapped by transports when a peer address does not
	// name a reachable endpoint.
	ErrUnresolvable = errors.New("peer address cannot be resolved")

	// ErrAcceptInterrupted marks an accept that returned neither a conn nor
	// an error.
	ErrAcceptInterrupted = errors.New("accept returned no connection")
)

// InterruptedError is the terminal failure of a run or a session.
// Its message is the reason string carried by Error events.
type InterruptedError struct {
	Kind error
	Op   string
	Err  error
}

// Interrupted builds an InterruptedError of the given kind.
func Interrupted(kind error, op string, err error) *InterruptedError {
	return &InterruptedError{Kind: kind, Op: op, Err: err}
}

func (e *InterruptedError) Error() string {
	var b strings.Builder
	b.WriteString("Connection was interrupted")
	if e.Op != "" {
		b.WriteString(" (")
		b.WriteString(e.Op)
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *InterruptedError) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}
