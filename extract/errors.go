package extract

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound means the API has no title matching the request. It is terminal for a movie.
	ErrNotFound = errors.New("movie not found")

	// ErrUnauthorized means the API key was rejected. No further request can succeed.
	ErrUnauthorized = errors.New("api key rejected")
)

// RateLimitError is returned when the API refuses a request because of its
// request quota. RetryAfter is zero when the server gave no hint.
type RateLimitError struct {
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s): %s", e.RetryAfter, e.Message)
	}
	return "rate limited: " + e.Message
}

// TransientError covers failures that may succeed on a later attempt:
// network errors, timeouts, 5xx responses and bodies that could not be understood.
type TransientError struct {
	StatusCode int
	Err        error
}

func (e *TransientError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transient error (HTTP %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("transient error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }
