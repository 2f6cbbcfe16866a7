package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
)

var errEmptyToken = errors.New("static token is empty")

// StaticTokenProvider serves a token obtained outside crankfeed, such as an
// OIDC token issued to a CI job. It never refreshes.
type StaticTokenProvider struct {
	token string
}

// NewStaticTokenProvider trims surrounding whitespace from token, so values
// read from files or environment variables can be passed as-is.
func NewStaticTokenProvider(token string) *StaticTokenProvider {
	return &StaticTokenProvider{token: strings.TrimSpace(token)}
}

func (p *StaticTokenProvider) Token(context.Context) (string, error) {
	if p.token == "" {
		return "", errEmptyToken
	}
	return p.token, nil
}

func (p *StaticTokenProvider) InjectHeader(ctx context.Context, req *http.Request) error {
	return InjectInto(ctx, p, req.Header)
}

func (p *StaticTokenProvider) Close() error { return nil }
