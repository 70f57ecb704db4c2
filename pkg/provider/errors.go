package provider

import (
	"errors"
	"fmt"
)

// Error kinds. Every error returned by a Client matches exactly one of these
// through errors.Is.
var (
	// ErrUnavailable covers network failures, timeouts and 5xx responses.
	ErrUnavailable = errors.New("provider unavailable")

	// ErrUnauthorized means the provider rejected the credentials, code or token.
	ErrUnauthorized = errors.New("provider rejected credentials")

	// ErrRateLimited means the provider answered 429.
	ErrRateLimited = errors.New("provider rate limit exceeded")

	// ErrMalformedResponse means the payload did not have the expected shape.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Error describes a failed provider call.
type Error struct {
	// Op names the call, e.g. "exchange_code".
	Op string

	// StatusCode is the HTTP status, zero when no response was received.
	StatusCode int

	// Kind is one of the Err* sentinels.
	Kind error

	// Err is the underlying cause, may be nil.
	Err error
}

// NewError builds an Error of the given kind.
func NewError(op string, kind error, status int, cause error) *Error {
	return &Error{Op: op, StatusCode: status, Kind: kind, Err: cause}
}

func (e *Error) Error() string {
	msg := e.Op + ": " + e.Kind.Error()
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status %d)", e.StatusCode)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the kind and the cause to errors.Is and errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf returns the sentinel kind of err, or nil if err is not a provider error.
func KindOf(err error) error {
	for _, kind := range []error{ErrUnavailable, ErrUnauthorized, ErrRateLimited, ErrMalformedResponse} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
