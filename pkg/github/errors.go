package github

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound indicates the repository or resource does not exist.
	ErrNotFound = errors.New("repository not found")

	// ErrUnauthorized indicates the token was rejected.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrRateLimitExhausted indicates the local token bucket could not
	// grant a request within the configured wait ceiling.
	ErrRateLimitExhausted = errors.New("rate limit exhausted")
)

// TransientError wraps an upstream failure that persisted through all
// retry attempts.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("upstream failure after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error {
	return e.Err
}

// MalformedError wraps a response whose body did not match the expected
// schema.
type MalformedError struct {
	Endpoint string
	Err      error
}

func (e *MalformedError) Error() string {
	return fmt.Sprintf("malformed response from %s: %v", e.Endpoint, e.Err)
}

func (e *MalformedError) Unwrap() error {
	return e.Err
}
