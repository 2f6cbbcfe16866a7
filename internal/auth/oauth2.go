package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// OAuth2ClientCredentialsProvider implements the OAuth2 client credentials
// flow. Tokens are cached until refreshBeforeExpiry ahead of their expiry;
// concurrent callers share one token request.
type OAuth2ClientCredentialsProvider struct {
	tokenURL            string
	clientID            string
	clientSecret        string
	scopes              []string
	refreshBeforeExpiry time.Duration
	httpClient          *http.Client

	fetches singleflight.Group

	mu          sync.RWMutex
	cachedToken string
	tokenExpiry time.Time
}

type oauth2TokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error,omitempty"`
	ErrorDesc   string `json:"error_description,omitempty"`
}

// NewOAuth2ClientCredentialsProvider creates a new OAuth2 client credentials provider.
func NewOAuth2ClientCredentialsProvider(
	tokenURL string,
	clientID string,
	clientSecret string,
	scopes []string,
	refreshBeforeExpiry time.Duration,
) (*OAuth2ClientCredentialsProvider, error) {
	if strings.TrimSpace(tokenURL) == "" {
		return nil, fmt.Errorf("token URL is required")
	}
	if clientID == "" {
		return nil, fmt.Errorf("client ID is required")
	}
	return &OAuth2ClientCredentialsProvider{
		tokenURL:            tokenURL,
		clientID:            clientID,
		clientSecret:        clientSecret,
		scopes:              scopes,
		refreshBeforeExpiry: refreshBeforeExpiry,
		httpClient:          &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Token retrieves a valid OAuth2 access token, using cache when available.
func (p *OAuth2ClientCredentialsProvider) Token(ctx context.Context) (string, error) {
	if token, ok := p.cached(); ok {
		return token, nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	ch := p.fetches.DoChan("token", func() (interface{}, error) {
		if token, ok := p.cached(); ok {
			return token, nil
		}
		// Detached from the first caller so its cancellation does not fail
		// the others waiting on the same fetch.
		token, expiresIn, err := p.fetchToken(context.WithoutCancel(ctx))
		if err != nil {
			return "", err
		}
		p.mu.Lock()
		p.cachedToken = token
		p.tokenExpiry = time.Now().Add(time.Duration(expiresIn)*time.Second - p.refreshBeforeExpiry)
		p.mu.Unlock()
		return token, nil
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (p *OAuth2ClientCredentialsProvider) cached() (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cachedToken != "" && time.Now().Before(p.tokenExpiry) {
		return p.cachedToken, true
	}
	return "", false
}

func (p *OAuth2ClientCredentialsProvider) fetchToken(ctx context.Context) (string, int, error) {
	data := url.Values{}
	data.Set("grant_type", "client_credentials")
	if len(p.scopes) > 0 {
		data.Set("scope", strings.Join(p.scopes, " "))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return "", 0, fmt.Errorf("failed to create token request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.SetBasicAuth(url.QueryEscape(p.clientID), url.QueryEscape(p.clientSecret))

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", 0, fmt.Errorf("failed to fetch token: %w", err)
	}
	defer resp.Body.Close()

	var tokenResp oauth2TokenResponse
	decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&tokenResp)

	if resp.StatusCode != http.StatusOK {
		if decodeErr == nil && tokenResp.Error != "" {
			return "", 0, fmt.Errorf("token request failed with status %d: %s", resp.StatusCode, tokenResp.Error)
		}
		return "", 0, fmt.Errorf("token request failed with status %d", resp.StatusCode)
	}
	if decodeErr != nil {
		return "", 0, fmt.Errorf("failed to decode token response: %w", decodeErr)
	}
	if tokenResp.Error != "" {
		return "", 0, fmt.Errorf("oauth2 error: %s - %s", tokenResp.Error, tokenResp.ErrorDesc)
	}
	if tokenResp.AccessToken == "" {
		return "", 0, fmt.Errorf("no access token in response")
	}

	return tokenResp.AccessToken, tokenResp.ExpiresIn, nil
}

// InjectHeader injects the OAuth2 token into the Authorization header.
func (p *OAuth2ClientCredentialsProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	if err := InjectInto(ctx, p, req.Header); err != nil {
		return fmt.Errorf("failed to get token: %w", err)
	}
	return nil
}

// Close releases resources held by the provider.
func (p *OAuth2ClientCredentialsProvider) Close() error {
	p.httpClient.CloseIdleConnections()
	return nil
}
