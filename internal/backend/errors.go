package backend

import (
	"errors"
	"fmt"
)

// Transport failure causes.
var (
	// ErrTimeout indicates the request did not complete in time.
	ErrTimeout = errors.New("request timed out")

	// ErrStatus indicates the server answered with a non-success status.
	ErrStatus = errors.New("unexpected status")

	// ErrMalformedResponse indicates the response body could not be decoded.
	ErrMalformedResponse = errors.New("malformed response")
)

// TransportError represents a failed exchange with the conversation API.
type TransportError struct {
	Err        error
	Op         string
	StatusCode int
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %v (HTTP %d)", e.Op, e.Err, e.StatusCode)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsTransportError checks if an error is a transport error.
func IsTransportError(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
