package provider

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the closed set of failure classes an adapter can report.
type ErrorKind string

const (
	KindAuth           ErrorKind = "auth"
	KindRateLimit      ErrorKind = "rate_limit"
	KindTimeout        ErrorKind = "timeout"
	KindServer         ErrorKind = "server"
	KindQuotaExceeded  ErrorKind = "quota_exceeded"
	KindModelNotFound  ErrorKind = "model_not_found"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindCancelled      ErrorKind = "cancelled"
)

// Error is the only error type that leaves an adapter.
//
// StatusCode is zero when the failure never produced an HTTP response.
// RetryAfter is set for rate limits when the vendor said how long to wait.
type Error struct {
	Kind       ErrorKind
	Provider   string
	StatusCode int
	RetryAfter time.Duration
	Message    string
	Err        error
}

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrAuth           = &Error{Kind: KindAuth}
	ErrRateLimit      = &Error{Kind: KindRateLimit}
	ErrTimeout        = &Error{Kind: KindTimeout}
	ErrServer         = &Error{Kind: KindServer}
	ErrQuotaExceeded  = &Error{Kind: KindQuotaExceeded}
	ErrModelNotFound  = &Error{Kind: KindModelNotFound}
	ErrInvalidRequest = &Error{Kind: KindInvalidRequest}
	ErrCancelled      = &Error{Kind: KindCancelled}
)

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}

	prefix := string(e.Kind)
	if e.Provider != "" {
		prefix = e.Provider + ": " + prefix
	}
	if e.StatusCode != 0 {
		prefix = fmt.Sprintf("%s (status %d)", prefix, e.StatusCode)
	}
	if msg == "" {
		return prefix
	}
	return prefix + ": " + msg
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches sentinels by kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

// IsRetryable reports whether a caller may reasonably retry. The core itself
// never retries.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case KindRateLimit, KindTimeout, KindServer:
		return true
	default:
		return false
	}
}

// AsError extracts a *Error from err's chain.
func AsError(err error) (*Error, bool) {
	var pe *Error
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsCancelled reports whether err is a user-initiated cancellation.
func IsCancelled(err error) bool {
	return errors.Is(err, ErrCancelled)
}
