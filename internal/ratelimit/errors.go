package ratelimit

import (
	"errors"
	"fmt"

	"github.com/guildwire/guildwire/internal/http"
)

var (
	// ErrDeadlineExceeded is returned when a request's deadline passed before
	// its turn in the bucket arrived. No call was made.
	ErrDeadlineExceeded = errors.New("request deadline exceeded before execution")

	// ErrClosed is returned for requests still queued when the dispatcher closes.
	ErrClosed = errors.New("dispatcher closed")
)

// NetworkError reports a call that produced no HTTP response.
type NetworkError struct {
	Route string
	Err   error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%s: network error: %v", e.Route, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Timeout reports whether the failure was timeout-class.
func (e *NetworkError) Timeout() bool {
	return http.IsTimeout(e.Err)
}

// StatusError is the default failure for a non-2xx terminal response when no
// decoder is configured.
type StatusError struct {
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.StatusCode)
}
