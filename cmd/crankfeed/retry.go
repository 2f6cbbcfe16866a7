package main

import (
	"context"
	"errors"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/websocket"
)

const (
	baseRetryDelay = 100 * time.Millisecond
	maxRetryDelay  = 5 * time.Second
)

type jitterSource struct {
	mu  sync.Mutex
	rnd *rand.Rand
}

func (j *jitterSource) jitter(max time.Duration) time.Duration {
	if j == nil || max <= 0 {
		return 0
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return time.Duration(j.rnd.Int63n(int64(max)))
}

// newRetryPolicy retries throttling, server errors and transport failures
// with capped exponential backoff. Client errors and cancellation are final.
func newRetryPolicy(retries int) runner.RetryPolicy {
	source := &jitterSource{rnd: rand.New(rand.NewSource(time.Now().UnixNano()))}

	return runner.RetryPolicy{
		MaxAttempts: retries + 1,
		ShouldRetry: shouldRetry,
		DelayFunc: func(attempt int, err error) time.Duration {
			return retryDelay(attempt) + source.jitter(retryDelay(attempt)/2)
		},
	}
}

func shouldRetry(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, runner.ErrAborted) {
		return false
	}

	var httpErr *runner.HTTPError
	if errors.As(err, &httpErr) {
		if httpErr.StatusCode == http.StatusTooManyRequests {
			return true
		}
		return httpErr.StatusCode >= 500
	}

	var hsErr *websocket.HandshakeError
	if errors.As(err, &hsErr) {
		return hsErr.StatusCode == http.StatusTooManyRequests || hsErr.StatusCode >= 500
	}

	return true
}

func retryDelay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		return maxRetryDelay
	}
	backoff := time.Duration(1<<uint(attempt-1)) * baseRetryDelay
	if backoff > maxRetryDelay {
		backoff = maxRetryDelay
	}
	return backoff
}
