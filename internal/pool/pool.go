// Package pool keeps idle connections for reuse across records.
package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
)

// Poolable represents any client that can be pooled and reused.
type Poolable interface {
	Connect(ctx context.Context) error
	Close() error
}

// ConnectionPool keeps up to size idle connections per key. Keys are built
// with MakePoolKey from a target and its headers.
type ConnectionPool[T Poolable] struct {
	mu     sync.Mutex
	idle   map[string][]T
	size   int
	closed bool
}

// NewConnectionPool creates a pool that keeps at most size idle connections
// per key.
func NewConnectionPool[T Poolable](size int) *ConnectionPool[T] {
	if size <= 0 {
		size = 10 // default size
	}
	return &ConnectionPool[T]{
		idle: make(map[string][]T),
		size: size,
	}
}

// Get takes an idle connection for key, or returns a new unconnected one
// from factory. reused reports which.
func (p *ConnectionPool[T]) Get(key string, factory func() T) (client T, reused bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conns := p.idle[key]; len(conns) > 0 {
		client = conns[len(conns)-1]
		p.idle[key] = conns[:len(conns)-1]
		return client, true
	}
	return factory(), false
}

// Acquire returns a connected client for key, dialing a new one when no idle
// connection is available.
func (p *ConnectionPool[T]) Acquire(ctx context.Context, key string, factory func() T) (client T, reused bool, err error) {
	client, reused = p.Get(key, factory)
	if reused {
		return client, true, nil
	}
	if err := client.Connect(ctx); err != nil {
		var zero T
		return zero, false, err
	}
	return client, false, nil
}

// Put returns a connection for reuse. It is closed instead when the pool is
// full or closed.
func (p *ConnectionPool[T]) Put(key string, client T) error {
	p.mu.Lock()
	if p.closed || len(p.idle[key]) >= p.size {
		p.mu.Unlock()
		return client.Close()
	}
	p.idle[key] = append(p.idle[key], client)
	p.mu.Unlock()
	return nil
}

// Reconnect closes a stale connection and dials a replacement once.
func (p *ConnectionPool[T]) Reconnect(ctx context.Context, stale T, factory func() T) (T, error) {
	_ = stale.Close()

	fresh := factory()
	if err := fresh.Connect(ctx); err != nil {
		var zero T
		return zero, fmt.Errorf("reconnect: %w", err)
	}
	return fresh, nil
}

// idleCount returns the number of idle connections held for key.
func (p *ConnectionPool[T]) idleCount(key string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.idle[key])
}

// Close closes every idle connection. Later Puts close their client.
func (p *ConnectionPool[T]) Close() error {
	p.mu.Lock()
	idle := p.idle
	p.idle = make(map[string][]T)
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for _, conns := range idle {
		for _, client := range conns {
			if err := client.Close(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("pool close errors: %w", errors.Join(errs...))
	}
	return nil
}

// MakePoolKey generates a deterministic key from a target URL and headers.
func MakePoolKey(target string, headers http.Header) string {
	var sb strings.Builder
	sb.WriteString(target)
	sb.WriteString("|")

	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteString("=")
		sb.WriteString(strings.Join(headers[k], ","))
		sb.WriteString(";")
	}
	return sb.String()
}
