package session

import (
	"errors"
	"fmt"
)

// Kind classifies a session failure.
type Kind string

const (
	KindConfiguration Kind = "configuration"
	KindDevice        Kind = "device"
	KindTransport     Kind = "transport"
	KindDecode        Kind = "decode"
	KindSend          Kind = "send"
)

var (
	ErrMissingCredential = errors.New("remote service credential is not configured")
	ErrAlreadyActive     = errors.New("a session is already connecting or connected")
	ErrConnectCanceled   = errors.New("connection attempt canceled")
	ErrNoStream          = errors.New("no open session stream")
)

// User-facing messages recorded in the session error field.
const (
	msgConfiguration = "API key is not configured."
	msgDevice        = "Microphone unavailable or permission denied."
	msgTransport     = "Connection error. Please try again."
)

// Error is a classified session failure. Message is safe to show the learner.
type Error struct {
	Kind    Kind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: userMessage(kind), Err: err}
}

func userMessage(kind Kind) string {
	switch kind {
	case KindConfiguration:
		return msgConfiguration
	case KindDevice:
		return msgDevice
	default:
		return msgTransport
	}
}

// IsKind reports whether err is a session Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var se *Error
	return errors.As(err, &se) && se.Kind == kind
}
