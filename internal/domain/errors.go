package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrMalformed marks a response whose shape does not match the expected
	// schema. Retrying cannot fix it.
	ErrMalformed = errors.New("malformed response")
	// ErrRejected marks a request the source refused outright (4xx).
	ErrRejected = errors.New("request rejected")
	// ErrChannelClosed is returned to a producer whose consumer has gone away.
	ErrChannelClosed = errors.New("result channel closed")
	ErrConfig        = errors.New("configuration error")
	ErrPluginLoad    = errors.New("plugin load error")
	ErrUnsupported   = errors.New("unsupported")
)

// APIError is returned when a data source answers with a non-2xx status.
type APIError struct {
	StatusCode int
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("api error %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether the status is worth another attempt.
func (e *APIError) IsRetryable() bool {
	return e.StatusCode >= 500 || e.StatusCode == 429
}

// Unwrap lets errors.Is(err, ErrRejected) match non-retryable statuses.
func (e *APIError) Unwrap() error {
	if e.IsRetryable() {
		return nil
	}
	return ErrRejected
}

// Retryable classifies err for the retry executor. Network failures and
// 5xx/429 responses are transient; schema, rejection, configuration,
// channel and context errors are not.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable()
	}
	for _, fatal := range []error{ErrMalformed, ErrRejected, ErrConfig, ErrChannelClosed, ErrUnsupported} {
		if errors.Is(err, fatal) {
			return false
		}
	}
	return true
}
