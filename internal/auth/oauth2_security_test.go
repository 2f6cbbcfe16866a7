package auth

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

// Client credentials travel in the Basic Auth header, never in the form body.
func TestOAuth2ClientCredentials_UsesBasicAuth(t *testing.T) {
	var receivedAuth, receivedBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		receivedAuth = r.Header.Get("Authorization")
		body, _ := io.ReadAll(r.Body)
		receivedBody = string(body)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"access_token":"test-token","token_type":"Bearer","expires_in":3600}`))
	}))
	defer server.Close()

	p, err := NewOAuth2ClientCredentialsProvider(server.URL, "test-client-id", "test-client-secret", []string{"read", "write"}, 30*time.Second)
	if err != nil {
		t.Fatalf("NewOAuth2ClientCredentialsProvider() error = %v", err)
	}
	defer p.Close()

	token, err := p.Token(context.Background())
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if token != "test-token" {
		t.Errorf("Token() = %q, want test-token", token)
	}

	if !strings.HasPrefix(receivedAuth, "Basic ") {
		t.Fatalf("expected Basic Auth header, got %q", receivedAuth)
	}
	creds, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(receivedAuth, "Basic "))
	if err != nil {
		t.Fatalf("decode Basic Auth: %v", err)
	}
	if string(creds) != "test-client-id:test-client-secret" {
		t.Errorf("credentials = %q", creds)
	}

	for _, leaked := range []string{"client_id", "client_secret"} {
		if strings.Contains(receivedBody, leaked) {
			t.Errorf("%s should not be in form body", leaked)
		}
	}
	for _, want := range []string{"grant_type=client_credentials", "scope=read+write"} {
		if !strings.Contains(receivedBody, want) {
			t.Errorf("form body %q missing %q", receivedBody, want)
		}
	}
}

func TestOAuth2ClientCredentials_EscapesCredentials(t *testing.T) {
	var user, pass string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, _ = r.BasicAuth()
		w.Write([]byte(`{"access_token":"t","expires_in":60}`))
	}))
	defer server.Close()

	p, err := NewOAuth2ClientCredentialsProvider(server.URL, "id:with colon", "s&cret", nil, 0)
	if err != nil {
		t.Fatalf("NewOAuth2ClientCredentialsProvider() error = %v", err)
	}
	defer p.Close()
	if _, err := p.Token(context.Background()); err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if user != "id%3Awith+colon" || pass != "s%26cret" {
		t.Errorf("basic auth = %q:%q, want form-escaped values", user, pass)
	}
}

func TestOAuth2ErrorHandling(t *testing.T) {
	tests := []struct {
		name          string
		statusCode    int
		responseBody  string
		expectedError string
	}{
		{
			name:          "non-200 status code",
			statusCode:    401,
			responseBody:  `{"error":"invalid_client"}`,
			expectedError: "token request failed with status 401: invalid_client",
		},
		{
			name:          "non-200 without body",
			statusCode:    503,
			responseBody:  `upstream unavailable`,
			expectedError: "token request failed with status 503",
		},
		{
			name:          "oauth2 error response",
			statusCode:    200,
			responseBody:  `{"error":"invalid_scope","error_description":"Requested scope is invalid"}`,
			expectedError: "oauth2 error: invalid_scope - Requested scope is invalid",
		},
		{
			name:          "missing access token",
			statusCode:    200,
			responseBody:  `{"token_type":"Bearer"}`,
			expectedError: "no access token in response",
		},
		{
			name:          "malformed json",
			statusCode:    200,
			responseBody:  `{"access_token":`,
			expectedError: "failed to decode token response",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.responseBody))
			}))
			defer server.Close()

			p, err := NewOAuth2ClientCredentialsProvider(server.URL, "id", "secret", nil, 30*time.Second)
			if err != nil {
				t.Fatalf("NewOAuth2ClientCredentialsProvider() error = %v", err)
			}
			defer p.Close()

			_, err = p.Token(context.Background())
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.expectedError) {
				t.Errorf("error = %q, want it to contain %q", err, tt.expectedError)
			}
		})
	}
}

func TestNewOAuth2ClientCredentialsProviderValidation(t *testing.T) {
	if _, err := NewOAuth2ClientCredentialsProvider(" ", "id", "", nil, 0); err == nil {
		t.Error("expected error without token URL")
	}
	if _, err := NewOAuth2ClientCredentialsProvider("http://idp/token", "", "", nil, 0); err == nil {
		t.Error("expected error without client ID")
	}
}
