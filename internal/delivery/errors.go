package delivery

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured means no webhook URL is set. It is a deployment fault
	// and is never retried.
	ErrNotConfigured = errors.New("webhook URL not configured")

	ErrNotFound = errors.New("transcript not found")
)

// ValidationError reports a malformed request that the caller must fix.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// UpstreamError is a non-2xx answer from the webhook.
type UpstreamError struct {
	StatusCode int
	Status     string
	Body       string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("webhook returned %d %s", e.StatusCode, e.Status)
}

// NetworkError means the webhook could not be reached at all.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "webhook unreachable: " + e.Err.Error() }

func (e *NetworkError) Unwrap() error { return e.Err }
