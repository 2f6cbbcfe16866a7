// Package auth supplies Authorization headers for actions.
package auth

import (
	"context"
	"fmt"
	"net/http"

	"github.com/torosent/crankfeed/internal/config"
)

// Provider defines the interface for authentication providers that can
// obtain tokens and inject them into HTTP requests.
type Provider interface {
	// Token retrieves a valid authentication token, using cached values
	// when available and valid.
	Token(ctx context.Context) (string, error)

	// InjectHeader injects the authentication token into the Authorization
	// header of the provided HTTP request.
	InjectHeader(ctx context.Context, req *http.Request) error

	// Close releases any resources held by the provider.
	Close() error
}

// New builds the provider described by cfg. It returns nil when cfg has no
// type.
func New(cfg config.AuthConfig) (Provider, error) {
	switch cfg.Type {
	case "":
		return nil, nil
	case config.AuthTypeStatic:
		return NewStaticTokenProvider(cfg.StaticToken), nil
	case config.AuthTypeOAuth2ClientCredentials:
		return NewOAuth2ClientCredentialsProvider(cfg.TokenURL, cfg.ClientID, cfg.ClientSecret, cfg.Scopes, cfg.RefreshBeforeExpiry)
	default:
		return nil, fmt.Errorf("unsupported auth type %q", cfg.Type)
	}
}

// InjectInto sets the Authorization header on headers, for transports that
// do not build an *http.Request (such as the WebSocket handshake).
func InjectInto(ctx context.Context, p Provider, headers http.Header) error {
	if p == nil {
		return nil
	}
	token, err := p.Token(ctx)
	if err != nil {
		return err
	}
	headers.Set("Authorization", "Bearer "+token)
	return nil
}
