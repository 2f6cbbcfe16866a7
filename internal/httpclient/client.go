package httpclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/torosent/crankfeed/internal/config"
	"github.com/torosent/crankfeed/internal/placeholders"
)

// AuthProvider supplies authentication tokens and injects them into HTTP requests.
type AuthProvider interface {
	Token(ctx context.Context) (string, error)
	InjectHeader(ctx context.Context, req *http.Request) error
	Close() error
}

// RequestBuilder renders one request per record from a templated method,
// URL, header set and body.
type RequestBuilder struct {
	method       string
	target       string
	headers      http.Header
	body         bodyTemplate
	authProvider AuthProvider
}

func NewRequestBuilder(cfg *config.ActionConfig) (*RequestBuilder, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}

	target := strings.TrimSpace(cfg.URL)
	if target == "" {
		return nil, errors.New("target URL is required")
	}

	method := strings.TrimSpace(cfg.Method)
	if method == "" {
		method = http.MethodGet
	}
	method = strings.ToUpper(method)

	body, err := loadBodyTemplate(cfg)
	if err != nil {
		return nil, err
	}

	headers, err := CanonicalHeaders(cfg.Headers)
	if err != nil {
		return nil, err
	}

	return &RequestBuilder{
		method:  method,
		target:  target,
		headers: headers,
		body:    body,
	}, nil
}

// NewRequestBuilderWithAuth creates a RequestBuilder with an auth provider for automatic token injection.
func NewRequestBuilderWithAuth(cfg *config.ActionConfig, provider AuthProvider) (*RequestBuilder, error) {
	builder, err := NewRequestBuilder(cfg)
	if err != nil {
		return nil, err
	}
	builder.authProvider = provider
	return builder, nil
}

// CanonicalHeaders validates header names and values and returns them in
// canonical form.
func CanonicalHeaders(in map[string]string) (http.Header, error) {
	headers := http.Header{}
	for key, value := range in {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || strings.ContainsAny(trimmedKey, "\r\n") {
			return nil, fmt.Errorf("invalid header key %q", key)
		}
		canonicalKey := http.CanonicalHeaderKey(trimmedKey)
		if strings.ContainsAny(value, "\r\n") {
			return nil, fmt.Errorf("invalid header value for %s", canonicalKey)
		}
		headers.Set(canonicalKey, value)
	}
	return headers, nil
}

// Build renders the request for record. Placeholders in the URL, header
// values and body are replaced with record fields.
func (b *RequestBuilder) Build(ctx context.Context, record map[string]string) (*http.Request, error) {
	if b == nil {
		return nil, errors.New("builder cannot be nil")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	target := placeholders.Apply(b.target, record)

	var body io.Reader
	data := b.body.render(record)
	if data != nil {
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, b.method, target, body)
	if err != nil {
		return nil, err
	}

	req.Header = make(http.Header, len(b.headers))
	for key, values := range b.headers {
		for _, val := range values {
			req.Header.Add(key, placeholders.Apply(val, record))
		}
	}

	if b.authProvider != nil {
		if err := b.authProvider.InjectHeader(ctx, req); err != nil {
			return nil, fmt.Errorf("auth provider inject header: %w", err)
		}
	}

	return req, nil
}

func NewClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}

	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   32,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
	}
}
