package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/websocket"
)

func TestShouldRetry(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", fmt.Errorf("get: %w", context.DeadlineExceeded), false},
		{"aborted", runner.ErrAborted, false},
		{"throttled", &runner.HTTPError{StatusCode: http.StatusTooManyRequests}, true},
		{"server error", &runner.HTTPError{StatusCode: http.StatusBadGateway}, true},
		{"client error", &runner.HTTPError{StatusCode: http.StatusBadRequest}, false},
		{"wrapped client error", fmt.Errorf("item 3: %w", &runner.HTTPError{StatusCode: http.StatusNotFound}), false},
		{"handshake forbidden", &websocket.HandshakeError{StatusCode: http.StatusForbidden, Err: errors.New("bad handshake")}, false},
		{"handshake unavailable", &websocket.HandshakeError{StatusCode: http.StatusServiceUnavailable, Err: errors.New("bad handshake")}, true},
		{"transport", errors.New("connection reset by peer"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := shouldRetry(tt.err); got != tt.want {
				t.Errorf("shouldRetry(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestRetryDelay(t *testing.T) {
	tests := map[int]time.Duration{
		0:  100 * time.Millisecond,
		1:  100 * time.Millisecond,
		2:  200 * time.Millisecond,
		4:  800 * time.Millisecond,
		6:  3200 * time.Millisecond,
		7:  5 * time.Second,
		40: 5 * time.Second,
	}
	for attempt, want := range tests {
		if got := retryDelay(attempt); got != want {
			t.Errorf("retryDelay(%d) = %s, want %s", attempt, got, want)
		}
	}
}

func TestNewRetryPolicy(t *testing.T) {
	p := newRetryPolicy(3)
	if p.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", p.MaxAttempts)
	}
	for attempt := 1; attempt <= 8; attempt++ {
		base := retryDelay(attempt)
		got := p.DelayFunc(attempt, errors.New("x"))
		if got < base || got >= base+base/2+1 {
			t.Errorf("attempt %d delay %s outside [%s, %s]", attempt, got, base, base+base/2)
		}
	}
}
