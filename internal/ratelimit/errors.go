package ratelimit

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited matches any *RateLimitError.
	ErrRateLimited = errors.New("ratelimit.rate_limited")
	// ErrRetriesExhausted indicates the retry budget ran out; the last failure is wrapped alongside it.
	ErrRetriesExhausted = errors.New("ratelimit.retries_exhausted")
	// ErrTransport matches any *TransportError.
	ErrTransport = errors.New("ratelimit.transport")
)

// RateLimitError describes a 429 response.
type RateLimitError struct {
	Window     *Window
	RetryAfter time.Duration
}

func (rateLimitError *RateLimitError) Error() string {
	if rateLimitError.Window != nil {
		return fmt.Sprintf("rate limited, window resets at %s", rateLimitError.Window.ResetAt().Format(time.RFC3339))
	}
	return fmt.Sprintf("rate limited, retry after %s", rateLimitError.RetryAfter)
}

// Is lets errors.Is(err, ErrRateLimited) match.
func (rateLimitError *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}

// StatusError describes a retriable server-side failure.
type StatusError struct {
	StatusCode int
}

func (statusError *StatusError) Error() string {
	return fmt.Sprintf("upstream server error: status %d", statusError.StatusCode)
}

// TransportError wraps a network-level failure.
type TransportError struct {
	Err error
}

func (transportError *TransportError) Error() string {
	return fmt.Sprintf("transport failure: %v", transportError.Err)
}

func (transportError *TransportError) Unwrap() error {
	return transportError.Err
}

// Is lets errors.Is(err, ErrTransport) match.
func (transportError *TransportError) Is(target error) bool {
	return target == ErrTransport
}
