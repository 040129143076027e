package console

import (
	"errors"
	"fmt"
)

// ErrDecode marks a malformed credential. The token codec never returns it;
// it only appears in wrapped log and audit errors.
var ErrDecode = errors.New("console: malformed credential")

// ErrUnauthorized is returned when the backend rejects the credential.
var ErrUnauthorized = errors.New("console: authorization failure")

// ErrNoSession is returned by operations that need a signed-in operator.
var ErrNoSession = errors.New("console: no active session")

// NetworkError wraps a transport failure. It never affects session state.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("console: network failure during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ValidationError is a form-level failure reported before any request is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("console: invalid %s: %s", e.Field, e.Message)
}

// APIError is a non-success response from the backend.
type APIError struct {
	Status  int
	Code    int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("console: backend returned %d", e.Status)
	}
	return fmt.Sprintf("console: backend returned %d: %s", e.Status, e.Message)
}

// IsUnauthorized reports whether err is an authorization failure.
func IsUnauthorized(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}

// IsNetwork reports whether err is a transport failure.
func IsNetwork(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}
