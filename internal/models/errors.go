package models

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Sentinel errors for the crawler core. Callers classify failures with
// errors.Is so that retry policies and health scoring can react uniformly
// regardless of which layer produced the error.
var (
	// ErrValidation indicates malformed input (empty query, bad ranges).
	// Fatal to the call, never retried.
	ErrValidation = errors.New("validation error")

	// ErrRateLimit indicates the remote platform throttled us.
	// Retryable with backoff; decreases platform health.
	ErrRateLimit = errors.New("rate limited")

	// ErrNetwork indicates a transient I/O failure. Retryable.
	ErrNetwork = errors.New("network error")

	// ErrTimeout indicates a deadline was exceeded. Retryable.
	ErrTimeout = errors.New("timeout")

	// ErrBlocked indicates the platform presented a challenge, captcha or
	// explicit block. Not retryable; health decreases sharply.
	ErrBlocked = errors.New("blocked by platform")

	// ErrBudgetExceeded indicates the cost gate refused a billable call.
	// Fatal, never retried.
	ErrBudgetExceeded = errors.New("budget exceeded")

	// ErrStorage indicates a persistence failure. Retryable per the API
	// profile; final failure marks the item failed without corrupting the
	// pipeline.
	ErrStorage = errors.New("storage error")

	// ErrParse indicates a selector miss or unexpected DOM. Item-level,
	// skipped, not retried.
	ErrParse = errors.New("parse error")
)

// ValidationError wraps a field-level validation failure.
func ValidationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Fatal reports whether an error belongs to the never-retry classes. Unlike
// the inverse of Retryable, unrecognized errors are not fatal; callers with
// a retry budget may still replay them.
func Fatal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrBlocked) ||
		errors.Is(err, ErrBudgetExceeded) ||
		errors.Is(err, ErrParse)
}

// Retryable reports whether an error is eligible for another attempt under
// the default retry classification. Validation, blocked, budget and parse
// errors short-circuit; rate limits, network faults, timeouts and storage
// failures back off and retry.
func Retryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrBlocked),
		errors.Is(err, ErrBudgetExceeded),
		errors.Is(err, ErrParse):
		return false
	case errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrNetwork),
		errors.Is(err, ErrTimeout),
		errors.Is(err, ErrStorage):
		return true
	}

	// Context deadline counts as a timeout
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}

	// Temporary network errors from the standard library
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}
