package mvola

import (
	"errors"
	"fmt"
)

// Kind is the stable, machine-readable class of an Error.
type Kind string

const (
	KindConfiguration  Kind = "configuration"
	KindAuthentication Kind = "authentication"
	KindValidation     Kind = "validation"
	KindAuthorization  Kind = "authorization"
	KindUpstream       Kind = "upstream"
)

// Error is returned by every Client operation. Upstream failures keep the
// provider status and raw body so callers can tell causes apart; Message
// stays stable per operation and is what HTTP callers get to see.
type Error struct {
	Kind       Kind
	Op         string
	Message    string
	StatusCode int    // upstream status, 0 when no response was received
	Body       []byte // raw upstream body, if any
	Err        error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches the kind sentinels below, so errors.Is(err, ErrUpstream) works on any upstream error.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || t.Op != "" || t.Message != "" {
		return false
	}
	return t.Kind == e.Kind
}

// PublicMessage is the text safe to relay to an HTTP caller.
// Authentication errors rejected by the provider carry the upstream status;
// everything else collapses to the stable message, so transport causes and
// upstream URLs stay in the logs.
func (e *Error) PublicMessage() string {
	if e.Kind == KindAuthentication && e.StatusCode != 0 && e.StatusCode/100 != 2 {
		return fmt.Sprintf("%s: upstream status %d", e.Message, e.StatusCode)
	}
	return e.Message
}

var (
	ErrConfiguration  = &Error{Kind: KindConfiguration}
	ErrAuthentication = &Error{Kind: KindAuthentication}
	ErrValidation     = &Error{Kind: KindValidation}
	ErrAuthorization  = &Error{Kind: KindAuthorization}
	ErrUpstream       = &Error{Kind: KindUpstream}
)

// KindOf extracts the Kind of err, or "" when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
