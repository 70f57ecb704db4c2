package auth

import (
	"errors"
	"fmt"
)

// Code is a stable, client-facing failure code.
type Code string

// Failure codes of the authorization flow.
const (
	CodeInvalidState        Code = "invalid_state"
	CodeInvalidRequest      Code = "invalid_request"
	CodeTokenExchangeFailed Code = "token_exchange_failed"
	CodeIdentityFetchFailed Code = "identity_fetch_failed"
	CodeInternal            Code = "internal_error"
)

// Error is a failed authorization flow. Errors compare equal under errors.Is
// when their codes match.
type Error struct {
	Code Code
	Err  error
}

// Sentinels for errors.Is.
var (
	ErrInvalidState        = &Error{Code: CodeInvalidState}
	ErrInvalidRequest      = &Error{Code: CodeInvalidRequest}
	ErrTokenExchangeFailed = &Error{Code: CodeTokenExchangeFailed}
	ErrIdentityFetchFailed = &Error{Code: CodeIdentityFetchFailed}
	ErrInternal            = &Error{Code: CodeInternal}
)

func newError(code Code, err error) *Error {
	return &Error{Code: code, Err: err}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %v", e.Code, e.Err)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
