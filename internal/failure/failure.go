// Package failure defines the error taxonomy shared by provider adapters,
// the response normalizer, and the generation orchestrator.
package failure

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry purposes.
type Kind int

const (
	// Other covers network faults, 5xx responses, timeouts, and malformed bodies.
	Other Kind = iota
	// Precondition means the run cannot start (no credentials, empty queue).
	Precondition
	// Media means the pre-processor could not produce a payload for an item.
	Media
	// Auth means the upstream rejected the credential.
	Auth
	// RateLimit means the credential is over quota.
	RateLimit
	// Parse means the upstream content could not be coerced into metadata.
	Parse
)

func (k Kind) String() string {
	switch k {
	case Precondition:
		return "PRECONDITION"
	case Media:
		return "MEDIA_ERROR"
	case Auth:
		return "AUTH"
	case RateLimit:
		return "RATE_LIMIT"
	case Parse:
		return "PARSE_ERROR"
	default:
		return "OTHER"
	}
}

// Error is a classified failure.
type Error struct {
	Kind     Kind
	Provider string
	Status   int // upstream HTTP status, 0 when not applicable
	Message  string
	Err      error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Provider != "" {
		if e.Status != 0 {
			return fmt.Sprintf("%s: %s (HTTP %d)", e.Provider, msg, e.Status)
		}
		return fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// New returns a classified error with the given message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap classifies err. The message defaults to err's text.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	e := &Error{Kind: kind, Err: err}
	if format != "" {
		e.Message = fmt.Sprintf(format, args...)
		if err != nil {
			e.Message += ": " + err.Error()
		}
	}
	return e
}

// KindOf returns the classification of err, or Other for unclassified errors.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Other
}

// Is reports whether err is classified as kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}
