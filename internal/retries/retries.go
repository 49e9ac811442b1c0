// Package retries provides a small bounded-retry helper with exponential
// backoff, used around DynamoDB calls and platform HTTP calls.
package retries

import (
	"context"
	"errors"
	"net"
	"strings"
	"time"
)

const (
	DefaultAttempts  = 3
	DefaultBaseDelay = 100 * time.Millisecond

	// TransientAttempts is the policy for upstream platform calls:
	// one local retry on transient failure before surfacing.
	TransientAttempts = 2
)

// Retry runs fn up to attempts times, backing off exponentially from
// baseDelay between tries. Retries only when isRetriable returns true;
// non-retriable errors surface immediately.
func Retry(ctx context.Context, attempts int, baseDelay time.Duration, fn func() error, isRetriable func(error) bool) error {
	var lastErr error

	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		if i > 0 {
			backoff := baseDelay * time.Duration(1<<uint(i-1))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if isRetriable != nil && !isRetriable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

// IsRetriableDbError reports whether a DynamoDB error is worth retrying:
// throttling, internal server errors, and network-level failures.
func IsRetriableDbError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"ProvisionedThroughputExceeded",
		"ThrottlingException",
		"InternalServerError",
		"RequestLimitExceeded",
		"connection refused",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsTransientNetError reports whether an upstream HTTP error is a
// network-level transient, as opposed to a structured rejection.
func IsTransientNetError(err error) bool {
	if err == nil {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	msg := err.Error()
	for _, marker := range []string{
		"connection refused",
		"connection reset",
		"no such host",
		"i/o timeout",
		"EOF",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
