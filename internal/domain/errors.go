package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for the failure taxonomy. Boundaries test with errors.Is;
// upstream detail travels in a wrapping ClientError.
var (
	// ErrRateLimitExceeded is an upstream-signalled or locally enforced
	// rate limit that survived the retry budget.
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrAuthentication is an invalid or expired token. The client refreshes
	// once and retries before surfacing this.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTransientUpstream is a network failure, timeout, or 5xx.
	ErrTransientUpstream = errors.New("transient upstream error")

	// Domain errors; never retried.
	ErrInvalidAsset        = errors.New("invalid asset")
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrOrderNotFound       = errors.New("order not found")
	ErrMarketClosed        = errors.New("market closed")

	// ErrConfiguration is missing credentials or missing required session
	// state; fails the session with a clear reason.
	ErrConfiguration = errors.New("configuration error")

	// ErrBusinessRule is a violated trading rule, e.g. add without an
	// existing position. Fails the operation, never auto-retried.
	ErrBusinessRule = errors.New("business rule violation")
)

// ClientError carries the upstream numeric code alongside the taxonomy kind.
type ClientError struct {
	Code    int    // Upstream numeric error code, 0 when local
	Op      string // Operation id, e.g. "get_asset"
	Message string
	Kind    error // One of the sentinel errors above
}

func (e *ClientError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: [%d] %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

// Unwrap exposes the taxonomy kind for errors.Is.
func (e *ClientError) Unwrap() error {
	return e.Kind
}

// NewClientError builds a ClientError for the given taxonomy kind.
func NewClientError(kind error, op string, code int, message string) *ClientError {
	return &ClientError{Kind: kind, Op: op, Code: code, Message: message}
}

// IsRetryable reports whether an error should be retried at the exchange
// client layer (transient upstream and rate-limit kinds only).
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientUpstream) || errors.Is(err, ErrRateLimitExceeded)
}
