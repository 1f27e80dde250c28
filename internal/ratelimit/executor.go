package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// RequestFunc performs one attempt. It must build a fresh request each call.
type RequestFunc func(ctx context.Context) (*http.Response, error)

// Sleeper blocks for the given duration or until ctx is done.
type Sleeper func(ctx context.Context, duration time.Duration) error

// Clock supplies the current time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// ContextSleeper waits on a timer and aborts when ctx is cancelled.
func ContextSleeper(ctx context.Context, duration time.Duration) error {
	if duration <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(duration)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Result is the successful response of Do together with its parsed quota window.
type Result struct {
	Response *http.Response
	Window   *Window
	Attempts int
}

// Executor schedules attempts according to Decide.
type Executor struct {
	policy  Policy
	logger  *zap.Logger
	clock   Clock
	sleep   Sleeper
	jitter  func() float64
	metrics *Metrics
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLogger sets the logger used for quota warnings and retries.
func WithLogger(logger *zap.Logger) Option {
	return func(executor *Executor) {
		if logger != nil {
			executor.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(clock Clock) Option {
	return func(executor *Executor) {
		if clock != nil {
			executor.clock = clock
		}
	}
}

// WithSleeper overrides how backoff delays are waited out.
func WithSleeper(sleeper Sleeper) Option {
	return func(executor *Executor) {
		if sleeper != nil {
			executor.sleep = sleeper
		}
	}
}

// WithJitter overrides the jitter sample source.
func WithJitter(source func() float64) Option {
	return func(executor *Executor) {
		if source != nil {
			executor.jitter = source
		}
	}
}

// WithMetrics attaches prometheus collectors.
func WithMetrics(metrics *Metrics) Option {
	return func(executor *Executor) {
		executor.metrics = metrics
	}
}

// NewExecutor constructs an Executor with the supplied policy.
func NewExecutor(policy Policy, options ...Option) *Executor {
	executor := &Executor{
		policy: policy.normalized(),
		logger: zap.NewNop(),
		clock:  systemClock{},
		sleep:  ContextSleeper,
		jitter: rand.Float64,
	}
	for _, option := range options {
		option(executor)
	}
	return executor
}

// Policy returns the normalized policy in effect.
func (executor *Executor) Policy() Policy {
	return executor.policy
}

// Do runs request until it succeeds, fails terminally, or the retry budget is spent.
// endpoint labels logs and metrics.
func (executor *Executor) Do(ctx context.Context, endpoint string, request RequestFunc) (*Result, error) {
	if request == nil {
		return nil, errors.New("ratelimit.do: nil request")
	}
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("ratelimit.do: %w", err)
		}
		response, requestErr := request(ctx)
		outcome := Outcome{Err: requestErr}
		if requestErr == nil && response != nil {
			outcome.StatusCode = response.StatusCode
			outcome.Window, _ = ParseWindow(response.Header)
			executor.observeWindow(endpoint, outcome.Window)
		} else if requestErr == nil {
			outcome.Err = errors.New("nil response")
		}
		if outcome.Err != nil && ctx.Err() != nil {
			return nil, fmt.Errorf("ratelimit.do: %w", ctx.Err())
		}

		decision := Decide(executor.policy, attempt, outcome, executor.clock.Now(), executor.jitter())
		switch decision.Action {
		case ActionSucceed:
			executor.metrics.observeAttempt(endpoint, "success")
			return &Result{Response: response, Window: outcome.Window, Attempts: attempt + 1}, nil
		case ActionFail:
			executor.metrics.observeAttempt(endpoint, "exhausted")
			discardBody(response)
			executor.logger.Warn("upstream retries exhausted",
				zap.String("code", "ratelimit.retries_exhausted"),
				zap.String("endpoint", endpoint),
				zap.String("reason", decision.Reason),
				zap.Int("attempts", attempt+1),
				zap.Error(decision.Err),
			)
			return nil, decision.Err
		}

		executor.metrics.observeAttempt(endpoint, decision.Reason)
		executor.metrics.observeRetry(endpoint, decision.Reason)
		discardBody(response)
		executor.logger.Info("retrying upstream request",
			zap.String("endpoint", endpoint),
			zap.String("reason", decision.Reason),
			zap.Int("attempt", attempt+1),
			zap.Duration("delay", decision.Delay),
			zap.Error(decision.Err),
		)
		if err := executor.sleep(ctx, decision.Delay); err != nil {
			return nil, fmt.Errorf("ratelimit.do: backoff interrupted: %w", err)
		}
	}
}

func (executor *Executor) observeWindow(endpoint string, window *Window) {
	if window == nil {
		return
	}
	executor.metrics.observeRemaining(endpoint, window.Remaining)
	if window.Remaining < executor.policy.WarnRemainingBelow {
		executor.logger.Warn("upstream rate limit nearly exhausted",
			zap.String("code", "ratelimit.low_remaining"),
			zap.String("endpoint", endpoint),
			zap.Int("limit", window.Limit),
			zap.Int("remaining", window.Remaining),
			zap.Time("reset_at", window.ResetAt()),
		)
	}
}

func discardBody(response *http.Response) {
	if response == nil || response.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(response.Body, 64<<10))
	_ = response.Body.Close()
}
