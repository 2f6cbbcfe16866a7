package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/torosent/crankfeed/internal/source"
)

// HTTPError represents an HTTP action failure with status details.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.Body)
}

// FailureLogger logs failed items.
type FailureLogger interface {
	LogFailure(rec source.Record, err error)
}

// RetryPolicy configures retry behavior.
type RetryPolicy struct {
	MaxAttempts int                                        // total attempts including initial try
	Delay       time.Duration                              // fixed delay between retries (used if DelayFunc nil)
	ShouldRetry func(error) bool                           // predicate; if nil, all errors retried
	DelayFunc   func(attempt int, err error) time.Duration // dynamic backoff; attempt is 1-based
}

// retryActor wraps an Actor with retry logic.
type retryActor struct {
	inner  Actor
	policy RetryPolicy
}

// WithRetry wraps an Actor with retry capability.
func WithRetry(actor Actor, policy RetryPolicy) Actor {
	if policy.MaxAttempts <= 1 {
		return actor
	}
	return &retryActor{
		inner:  actor,
		policy: policy,
	}
}

func (r *retryActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	var lastErr error
	for attempt := 1; attempt <= r.policy.MaxAttempts; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		out, err := r.inner.Do(ctx, rec)
		if err == nil {
			return out, nil
		}
		lastErr = err

		// Don't delay after the last attempt.
		if attempt < r.policy.MaxAttempts {
			if r.policy.ShouldRetry != nil && !r.policy.ShouldRetry(lastErr) {
				return nil, lastErr
			}
			delay := r.policy.Delay
			if r.policy.DelayFunc != nil {
				delay = r.policy.DelayFunc(attempt, lastErr)
			}
			if delay > 0 {
				timer := time.NewTimer(delay)
				select {
				case <-timer.C:
				case <-ctx.Done():
					timer.Stop()
					return nil, ctx.Err()
				}
			}
		}
	}
	return nil, lastErr
}

// loggingActor wraps an Actor with failure logging.
type loggingActor struct {
	inner  Actor
	logger FailureLogger
}

// WithLogging wraps an Actor to log failures.
func WithLogging(actor Actor, logger FailureLogger) Actor {
	if logger == nil {
		return actor
	}
	return &loggingActor{
		inner:  actor,
		logger: logger,
	}
}

func (l *loggingActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	out, err := l.inner.Do(ctx, rec)
	if err != nil {
		l.logger.LogFailure(rec, err)
	}
	return out, err
}
