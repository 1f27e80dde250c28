package ratelimit

import (
	"fmt"
	"math"
	"net/http"
	"time"
)

// Policy bounds the retry loop.
type Policy struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	// JitterRatio caps the random extra delay as a fraction of the exponential delay.
	JitterRatio float64
	// WarnRemainingBelow triggers a warning log when a response reports fewer remaining calls.
	WarnRemainingBelow int
}

// DefaultPolicy returns five attempts, 1s initial delay, 60s cap, 30% jitter.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:         5,
		InitialDelay:       time.Second,
		MaxDelay:           60 * time.Second,
		JitterRatio:        0.3,
		WarnRemainingBelow: 10,
	}
}

func (policy Policy) normalized() Policy {
	defaults := DefaultPolicy()
	if policy.MaxRetries <= 0 {
		policy.MaxRetries = defaults.MaxRetries
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = defaults.InitialDelay
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = defaults.MaxDelay
	}
	if policy.JitterRatio < 0 {
		policy.JitterRatio = 0
	}
	return policy
}

// Action is the verdict for one attempt.
type Action int

const (
	// ActionSucceed hands the response to the caller.
	ActionSucceed Action = iota
	// ActionRetry sleeps Decision.Delay then tries again.
	ActionRetry
	// ActionFail stops with Decision.Err.
	ActionFail
)

// Reason labels why an attempt was retried or failed.
const (
	ReasonRateLimited = "rate_limited"
	ReasonServerError = "server_error"
	ReasonTransport   = "transport"
)

// Outcome is what a single request attempt produced.
type Outcome struct {
	StatusCode int
	Window     *Window
	Err        error
}

// Decision tells the executor what to do next.
type Decision struct {
	Action Action
	Delay  time.Duration
	Reason string
	Err    error
}

// Decide maps one attempt to a retry, success, or failure verdict.
// attempt is zero-based; jitter is a uniform sample in [0, 1).
func Decide(policy Policy, attempt int, outcome Outcome, now time.Time, jitter float64) Decision {
	policy = policy.normalized()

	var lastErr error
	var delay time.Duration
	var reason string

	switch {
	case outcome.Err != nil:
		reason = ReasonTransport
		lastErr = &TransportError{Err: outcome.Err}
		delay = ExponentialDelay(policy, attempt, jitter)
	case outcome.StatusCode == http.StatusTooManyRequests:
		reason = ReasonRateLimited
		if outcome.Window != nil {
			delay = WaitUntilReset(outcome.Window.Reset, now)
		} else {
			delay = ExponentialDelay(policy, attempt, jitter)
		}
		lastErr = &RateLimitError{Window: outcome.Window, RetryAfter: delay}
	case outcome.StatusCode >= http.StatusInternalServerError:
		reason = ReasonServerError
		lastErr = &StatusError{StatusCode: outcome.StatusCode}
		delay = ExponentialDelay(policy, attempt, jitter)
	default:
		return Decision{Action: ActionSucceed}
	}

	if attempt+1 >= policy.MaxRetries {
		return Decision{
			Action: ActionFail,
			Reason: reason,
			Err:    fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempt+1, lastErr),
		}
	}
	return Decision{Action: ActionRetry, Delay: delay, Reason: reason, Err: lastErr}
}

// ExponentialDelay returns min(initial*2^attempt + jitter, max).
func ExponentialDelay(policy Policy, attempt int, jitter float64) time.Duration {
	policy = policy.normalized()
	if attempt < 0 {
		attempt = 0
	}
	if jitter < 0 {
		jitter = 0
	}
	if jitter >= 1 {
		jitter = math.Nextafter(1, 0)
	}
	base := float64(policy.InitialDelay) * math.Pow(2, float64(attempt))
	withJitter := base + base*policy.JitterRatio*jitter
	if withJitter >= float64(policy.MaxDelay) {
		return policy.MaxDelay
	}
	return time.Duration(withJitter)
}

// WaitUntilReset returns max(0, reset-now+1) whole seconds.
func WaitUntilReset(resetEpochSeconds int64, now time.Time) time.Duration {
	seconds := resetEpochSeconds - now.Unix() + 1
	if seconds < 0 {
		seconds = 0
	}
	return time.Duration(seconds) * time.Second
}
