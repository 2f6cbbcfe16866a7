package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/torosent/crankfeed/internal/config"
)

// tokenServer is a test OAuth2 token endpoint that counts requests.
type tokenServer struct {
	server   *httptest.Server
	requests int32

	mu        sync.Mutex
	token     string
	expiresIn int
	status    int
	delay     time.Duration
}

func newTokenServer() *tokenServer {
	ts := &tokenServer{token: "test-token-123", expiresIn: 3600, status: http.StatusOK}
	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&ts.requests, 1)
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		ts.mu.Lock()
		token, expiresIn, status, delay := ts.token, ts.expiresIn, ts.status, ts.delay
		ts.mu.Unlock()

		if delay > 0 {
			time.Sleep(delay)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"access_token": token,
			"token_type":   "Bearer",
			"expires_in":   expiresIn,
		})
	}))
	return ts
}

func (ts *tokenServer) set(token string, expiresIn int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.token, ts.expiresIn = token, expiresIn
}

func (ts *tokenServer) setStatus(code int) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.status = code
}

func (ts *tokenServer) setDelay(d time.Duration) {
	ts.mu.Lock()
	defer ts.mu.Unlock()
	ts.delay = d
}

func (ts *tokenServer) count() int {
	return int(atomic.LoadInt32(&ts.requests))
}

func newProvider(t *testing.T, ts *tokenServer, refresh time.Duration) *OAuth2ClientCredentialsProvider {
	t.Helper()
	p, err := NewOAuth2ClientCredentialsProvider(ts.server.URL, "test-client", "test-secret", []string{"read"}, refresh)
	if err != nil {
		t.Fatalf("NewOAuth2ClientCredentialsProvider() error = %v", err)
	}
	t.Cleanup(func() { p.Close() })
	return p
}

func TestClientCredentialsCachesToken(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	p := newProvider(t, ts, 0)

	for i := 0; i < 3; i++ {
		token, err := p.Token(context.Background())
		if err != nil {
			t.Fatalf("Token() error = %v", err)
		}
		if token != "test-token-123" {
			t.Errorf("Token() = %q, want test-token-123", token)
		}
	}
	if ts.count() != 1 {
		t.Errorf("expected 1 token request, got %d", ts.count())
	}
}

func TestClientCredentialsRefreshesBeforeExpiry(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	ts.set("token-expires-soon", 2)
	p := newProvider(t, ts, time.Second)

	token, err := p.Token(context.Background())
	if err != nil || token != "token-expires-soon" {
		t.Fatalf("Token() = %q, %v", token, err)
	}

	time.Sleep(1200 * time.Millisecond)
	ts.set("refreshed-token", 3600)

	token, err = p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() after refresh window error = %v", err)
	}
	if token != "refreshed-token" {
		t.Errorf("Token() = %q, want refreshed-token", token)
	}
	if ts.count() != 2 {
		t.Errorf("expected 2 token requests, got %d", ts.count())
	}
}

func TestClientCredentialsServerError(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	ts.setStatus(http.StatusInternalServerError)
	p := newProvider(t, ts, 0)

	if _, err := p.Token(context.Background()); err == nil {
		t.Fatal("expected error for 500 response")
	}

	// Failures are not cached.
	ts.setStatus(http.StatusOK)
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() after recovery error = %v", err)
	}
	if ts.count() != 2 {
		t.Errorf("expected 2 token requests, got %d", ts.count())
	}
}

func TestConcurrentTokenAccessSharesOneFetch(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	ts.setDelay(50 * time.Millisecond)
	p := newProvider(t, ts, 0)

	const callers = 50
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	wg.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer wg.Done()
			token, err := p.Token(context.Background())
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	if ts.count() != 1 {
		t.Errorf("expected 1 token request for %d callers, got %d", callers, ts.count())
	}
	for i, token := range tokens {
		if token != "test-token-123" {
			t.Errorf("caller %d got %q", i, token)
		}
	}
}

func TestTokenHonorsCallerContext(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	p := newProvider(t, ts, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.Token(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}

	// A waiter gives up at its own deadline while the fetch continues for others.
	ts.setDelay(300 * time.Millisecond)
	ctx, cancel = context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	start := time.Now()
	if _, err := p.Token(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected context.DeadlineExceeded, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("waiter did not return at its deadline: %s", elapsed)
	}

	token, err := p.Token(context.Background())
	if err != nil || token != "test-token-123" {
		t.Fatalf("Token() = %q, %v", token, err)
	}
}

func TestInjectHeaderSetsBearer(t *testing.T) {
	ts := newTokenServer()
	defer ts.server.Close()
	p := newProvider(t, ts, 0)

	for _, method := range []string{http.MethodGet, http.MethodPost, http.MethodPut} {
		req := httptest.NewRequest(method, "http://example.com/api", nil)
		if err := p.InjectHeader(context.Background(), req); err != nil {
			t.Fatalf("InjectHeader() error = %v", err)
		}
		if got := req.Header.Get("Authorization"); got != "Bearer test-token-123" {
			t.Errorf("%s Authorization = %q", method, got)
		}
	}
}

func TestNewFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		cfg     config.AuthConfig
		want    string
		wantErr bool
	}{
		{name: "none", cfg: config.AuthConfig{}},
		{name: "static", cfg: config.AuthConfig{Type: config.AuthTypeStatic, StaticToken: "abc"}, want: "*auth.StaticTokenProvider"},
		{
			name: "client credentials",
			cfg: config.AuthConfig{
				Type:     config.AuthTypeOAuth2ClientCredentials,
				TokenURL: "http://idp.example.com/token",
				ClientID: "id",
			},
			want: "*auth.OAuth2ClientCredentialsProvider",
		},
		{name: "client credentials without url", cfg: config.AuthConfig{Type: config.AuthTypeOAuth2ClientCredentials, ClientID: "id"}, wantErr: true},
		{name: "unknown", cfg: config.AuthConfig{Type: "kerberos"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if tt.want == "" {
				if p != nil {
					t.Fatalf("expected nil provider, got %T", p)
				}
				return
			}
			if got := typeName(p); got != tt.want {
				t.Errorf("New() = %s, want %s", got, tt.want)
			}
			p.Close()
		})
	}
}

func typeName(p Provider) string {
	switch p.(type) {
	case *StaticTokenProvider:
		return "*auth.StaticTokenProvider"
	case *OAuth2ClientCredentialsProvider:
		return "*auth.OAuth2ClientCredentialsProvider"
	}
	return "unknown"
}
