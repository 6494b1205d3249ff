// Package dcerr defines the error taxonomy shared by the hub and C↔C
// session state machines.
package dcerr

import "fmt"

// Kind classifies an error so callers can decide whether to
// disconnect, log-and-drop, or emit a wire-level reply.
type Kind string

const (
	KindIO       Kind = "io"
	KindProtocol Kind = "protocol"
	KindParse    Kind = "parse"
	KindPolicy   Kind = "policy"
	KindAuth     Kind = "auth"
)

// Phase narrows KindIO errors to which leg of a connection's lifecycle
// they occurred in.
type Phase string

const (
	PhaseConnect Phase = "connect"
	PhaseReceive Phase = "receive"
	PhaseSend    Phase = "send"
)

// Error is the concrete error type produced across the module. It is
// comparable via errors.As because it is always handed around as a
// pointer.
type Error struct {
	Kind    Kind
	Phase   Phase // only meaningful when Kind == KindIO
	Message string
	Err     error // underlying cause, optional
}

func (e *Error) Error() string {
	if e.Phase != "" {
		if e.Err != nil {
			return fmt.Sprintf("%s(%s): %s: %v", e.Kind, e.Phase, e.Message, e.Err)
		}
		return fmt.Sprintf("%s(%s): %s", e.Kind, e.Phase, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Cancelled reports whether err is an IO error caused by a cancelled
// operation rather than a genuine failure. Callers use this to avoid
// surfacing a disconnect-in-progress as a user-visible error.
func Cancelled(err error) bool {
	var e *Error
	if !As(err, &e) {
		return false
	}
	return e.Kind == KindIO && e.Message == "cancelled"
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func IO(phase Phase, message string, err error) *Error {
	return &Error{Kind: KindIO, Phase: phase, Message: message, Err: err}
}

func Cancel(phase Phase) *Error {
	return &Error{Kind: KindIO, Phase: phase, Message: "cancelled"}
}

// As is a thin re-export of errors.As specialised for *Error so callers
// in this module don't need a second import for the common case.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
