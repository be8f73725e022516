package resilience

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// StatusError is a non-2xx HTTP response.
type StatusError struct {
	URL  string
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("GET %s: unexpected status %d %s", e.URL, e.Code, http.StatusText(e.Code))
}

// RetryableHTTP classifies an HTTP call's error for Retry: server errors
// and 429 are retried, other statuses are not, and any remaining error is
// treated as a transport failure. Context cancellation is never retried.
func RetryableHTTP(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500 || se.Code == http.StatusTooManyRequests
	}
	var perm *PermanentError
	return !errors.As(err, &perm)
}

// PermanentError marks a failure that retrying cannot fix, such as a
// malformed request or an undecodable body.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so RetryableHTTP rejects it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}
