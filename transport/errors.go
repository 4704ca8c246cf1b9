package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNetworkUnavailable is returned when the backend cannot be reached:
	// connection refused, DNS failure, or request timeout. Callers use it to
	// decide cache-fallback behavior.
	ErrNetworkUnavailable = errors.New("network unavailable")

	// ErrUnauthenticated is returned after a 401 whose follow-up token
	// refresh also failed. The local session has already been cleared by the
	// time this error is observed.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrNotFound is returned for 404 responses.
	ErrNotFound = errors.New("not found")

	// ErrConflict is returned for 409 responses (e.g. a duplicate state
	// transition on an order).
	ErrConflict = errors.New("conflict")

	// ErrDecode is returned when a response body cannot be decoded into the
	// expected envelope shape.
	ErrDecode = errors.New("malformed response")

	// ErrServer is the sentinel wrapped by ServerError. Use errors.Is for
	// coarse checks and errors.As to read the status code and message.
	ErrServer = errors.New("server error")
)

// ServerError carries the status code and backend-provided message of a
// non-2xx response that is not covered by a more specific sentinel.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: status %d", ErrServer.Error(), e.Code)
	}
	return fmt.Sprintf("%s: status %d: %s", ErrServer.Error(), e.Code, e.Message)
}

func (e *ServerError) Unwrap() error { return ErrServer }
