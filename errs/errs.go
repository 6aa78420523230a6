// Package errs classifies the error kinds described in the agent's error
// handling design: transient external failures, invariant violations, fatal
// startup errors, and unexpected errors from a long-running loop.
package errs

import "fmt"

// Kind classifies an Error for the purposes of the degrade/log/exit rules
// each component applies.
type Kind int

const (
	// Transient marks a subprocess failure, timeout, or missing file that a
	// procedure degrades around rather than aborting.
	Transient Kind = iota
	// Invariant marks a caller mistake such as confirming an unknown change
	// id; logged at warn, the operation returns false/error and the daemon
	// continues.
	Invariant
	// Fatal marks a startup error that must surface to the caller and exit
	// the process non-zero.
	Fatal
	// Unexpected marks an error a long-running loop did not anticipate; it
	// is logged at error and the loop continues to its next iteration.
	Unexpected
)

func (k Kind) String() string {
	switch k {
	case Transient:
		return "transient"
	case Invariant:
		return "invariant"
	case Fatal:
		return "fatal"
	case Unexpected:
		return "unexpected"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with the operation that produced it and
// the degrade/log/exit class it belongs to.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Kind)
}

// Unwrap supports errors.Is and errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// New wraps err as the given Kind, tagged with the operation name.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Is reports whether err is an *Error of the given Kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if as, ok := err.(*Error); ok {
		e = as
	} else {
		return false
	}
	return e.Kind == kind
}
