package pool

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
)

type mockClient struct {
	mu          sync.Mutex
	connected   bool
	closed      bool
	failConnect bool
}

func (m *mockClient) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failConnect {
		return fmt.Errorf("connection failed")
	}
	m.connected = true
	return nil
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.connected = false
	return nil
}

func (m *mockClient) isClosed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func newMock() *mockClient { return &mockClient{} }

func TestConnectionPool_GetPut(t *testing.T) {
	pool := NewConnectionPool[*mockClient](5)

	client1, reused := pool.Get("key1", newMock)
	if reused {
		t.Error("Expected new client, got reused")
	}
	if err := pool.Put("key1", client1); err != nil {
		t.Errorf("Put failed: %v", err)
	}
	if pool.idleCount("key1") != 1 {
		t.Fatalf("expected 1 idle connection, got %d", pool.idleCount("key1"))
	}

	client2, reused := pool.Get("key1", newMock)
	if !reused || client2 != client1 {
		t.Error("Expected the same client to be reused")
	}

	other, reused := pool.Get("key2", newMock)
	if reused || other == client1 {
		t.Error("keys must not share connections")
	}
}

func TestConnectionPool_PutClosesWhenFull(t *testing.T) {
	pool := NewConnectionPool[*mockClient](1)

	first, second := newMock(), newMock()
	if err := pool.Put("k", first); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := pool.Put("k", second); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if first.isClosed() {
		t.Error("first client should stay pooled")
	}
	if !second.isClosed() {
		t.Error("overflow client should be closed")
	}
}

func TestConnectionPool_Acquire(t *testing.T) {
	pool := NewConnectionPool[*mockClient](2)
	ctx := context.Background()

	client, reused, err := pool.Acquire(ctx, "k", newMock)
	if err != nil || reused || !client.connected {
		t.Fatalf("Acquire() = %v, %v, %v", client, reused, err)
	}
	_ = pool.Put("k", client)

	again, reused, err := pool.Acquire(ctx, "k", newMock)
	if err != nil || !reused || again != client {
		t.Fatalf("expected pooled client, got %v, %v, %v", again, reused, err)
	}

	_, _, err = pool.Acquire(ctx, "bad", func() *mockClient { return &mockClient{failConnect: true} })
	if err == nil {
		t.Fatal("expected connect error")
	}
}

func TestConnectionPool_Close(t *testing.T) {
	pool := NewConnectionPool[*mockClient](5)
	client := newMock()
	_ = pool.Put("key1", client)

	if err := pool.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if !client.isClosed() {
		t.Error("Expected client to be closed")
	}

	late := newMock()
	if err := pool.Put("key1", late); err != nil {
		t.Errorf("Put after Close failed: %v", err)
	}
	if !late.isClosed() {
		t.Error("Put after Close should close the client")
	}
}

func TestConnectionPool_Reconnect(t *testing.T) {
	pool := NewConnectionPool[*mockClient](5)
	stale := newMock()

	fresh, err := pool.Reconnect(context.Background(), stale, newMock)
	if err != nil {
		t.Fatalf("Reconnect failed: %v", err)
	}
	if !stale.isClosed() {
		t.Error("stale client should be closed")
	}
	if fresh == stale || !fresh.connected {
		t.Error("expected a new connected client")
	}

	_, err = pool.Reconnect(context.Background(), newMock(), func() *mockClient { return &mockClient{failConnect: true} })
	if err == nil {
		t.Fatal("expected reconnect error")
	}
}

func TestConnectionPool_Concurrent(t *testing.T) {
	pool := NewConnectionPool[*mockClient](4)
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				c, _, err := pool.Acquire(context.Background(), "k", newMock)
				if err != nil {
					t.Error(err)
					return
				}
				_ = pool.Put("k", c)
			}
		}()
	}
	wg.Wait()
	if idle := pool.idleCount("k"); idle > 4 {
		t.Errorf("pool exceeded its size: %d idle", idle)
	}
}

type failingCloser struct{ mockClient }

func (f *failingCloser) Close() error { return errors.New("close failed") }

func TestConnectionPool_CloseReportsErrors(t *testing.T) {
	pool := NewConnectionPool[*failingCloser](2)
	_ = pool.Put("k", &failingCloser{})
	if err := pool.Close(); err == nil {
		t.Fatal("expected close error")
	}
}

func TestMakePoolKey(t *testing.T) {
	h1 := http.Header{}
	h1.Set("B", "2")
	h1.Set("A", "1")
	h2 := http.Header{}
	h2.Set("A", "1")
	h2.Set("B", "2")

	if MakePoolKey("ws://x", h1) != MakePoolKey("ws://x", h2) {
		t.Error("keys should not depend on header insertion order")
	}
	if got := MakePoolKey("ws://x", h1); got != "ws://x|A=1;B=2;" {
		t.Errorf("unexpected key %q", got)
	}
	if MakePoolKey("ws://x", nil) == MakePoolKey("ws://y", nil) {
		t.Error("different targets must produce different keys")
	}
}
