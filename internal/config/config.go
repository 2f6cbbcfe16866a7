package config

import (
	"fmt"
	"os"
	"strings"
	"time"
)

type SourceType string

const (
	SourceCSV   SourceType = "csv"
	SourceJSON  SourceType = "json"
	SourceJSONL SourceType = "jsonl"
	SourceHTTP  SourceType = "http"
)

type ActionType string

const (
	ActionHTTP      ActionType = "http"
	ActionWebSocket ActionType = "websocket"
	ActionEcho      ActionType = "echo"
)

type ReportFormat string

const (
	ReportText ReportFormat = "text"
	ReportJSON ReportFormat = "json"
	ReportYAML ReportFormat = "yaml"
)

type Config struct {
	Source       SourceConfig  `mapstructure:"source"`
	Action       ActionConfig  `mapstructure:"action"`
	Concurrency  int           `mapstructure:"concurrency"`
	BatchSize    int           `mapstructure:"batch_size"`
	Total        int           `mapstructure:"total"`
	Rate         int           `mapstructure:"rate"`
	Duration     time.Duration `mapstructure:"duration"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Retries      int           `mapstructure:"retries"`
	Arrival      ArrivalConfig `mapstructure:"arrival"`
	Auth         AuthConfig    `mapstructure:"auth"`
	Tracing      TracingConfig `mapstructure:"tracing"`
	Extractors   []Extractor   `mapstructure:"extractors"`
	Thresholds   []string      `mapstructure:"thresholds"`
	ReportFormat ReportFormat  `mapstructure:"report_format"`
	ResultsFile  string        `mapstructure:"results_file"`
	Progress     bool          `mapstructure:"progress"`
	Dashboard    bool          `mapstructure:"dashboard"`
	LogErrors    bool          `mapstructure:"log_errors"`
	Verbose      bool          `mapstructure:"verbose"`
	ConfigFile   string        `mapstructure:"-"`
}

type SourceConfig struct {
	Type        SourceType        `mapstructure:"type"`
	Path        string            `mapstructure:"path"`
	URL         string            `mapstructure:"url"`
	Headers     map[string]string `mapstructure:"headers"`
	ItemsPath   string            `mapstructure:"items_path"`
	NextPath    string            `mapstructure:"next_path"`
	CursorParam string            `mapstructure:"cursor_param"`
	Timeout     time.Duration     `mapstructure:"timeout"`
}

type ActionConfig struct {
	Type             ActionType        `mapstructure:"type"`
	Method           string            `mapstructure:"method"`
	URL              string            `mapstructure:"url"`
	Headers          map[string]string `mapstructure:"headers"`
	Body             string            `mapstructure:"body"`
	BodyFile         string            `mapstructure:"body_file"`
	Messages         []string          `mapstructure:"messages"`          // WebSocket messages to send per record
	ExpectReply      bool              `mapstructure:"expect_reply"`      // wait for one reply per message
	ReceiveTimeout   time.Duration     `mapstructure:"receive_timeout"`   // WebSocket reply timeout
	HandshakeTimeout time.Duration     `mapstructure:"handshake_timeout"` // WebSocket handshake timeout
	PoolSize         int               `mapstructure:"pool_size"`         // idle WebSocket connections kept per target
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

type ArrivalConfig struct {
	Model ArrivalModel `mapstructure:"model"`
}

type AuthType string

const (
	AuthTypeStatic                  AuthType = "static"
	AuthTypeOAuth2ClientCredentials AuthType = "oauth2_client_credentials"
)

type AuthConfig struct {
	Type                AuthType      `mapstructure:"type"`
	TokenURL            string        `mapstructure:"token_url"`
	ClientID            string        `mapstructure:"client_id"`
	ClientSecret        string        `mapstructure:"client_secret"`
	Scopes              []string      `mapstructure:"scopes"`
	StaticToken         string        `mapstructure:"static_token"`
	RefreshBeforeExpiry time.Duration `mapstructure:"refresh_before_expiry"`
}

// Extractor pulls a value out of an HTTP response into the item's result.
type Extractor struct {
	JSONPath string `mapstructure:"jsonpath"`
	Regex    string `mapstructure:"regex"`
	Variable string `mapstructure:"var"`
	OnError  bool   `mapstructure:"on_error"`
}

type TracingConfig struct {
	Endpoint    string  `mapstructure:"endpoint"`
	Protocol    string  `mapstructure:"protocol"` // "grpc" or "http"
	ServiceName string  `mapstructure:"service_name"`
	Insecure    bool    `mapstructure:"insecure"`
	SampleRate  float64 `mapstructure:"sample_rate"`
	Propagate   *bool   `mapstructure:"propagate"`
}

// Enabled reports whether an OTLP endpoint is configured, directly or via the
// standard environment variable.
func (t TracingConfig) Enabled() bool {
	return strings.TrimSpace(t.Endpoint) != "" || os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT") != ""
}

// ShouldPropagate defaults to true when tracing is enabled.
func (t TracingConfig) ShouldPropagate() bool {
	if t.Propagate != nil {
		return *t.Propagate
	}
	return t.Enabled()
}

type ValidationError struct {
	issues []string
}

func (e ValidationError) Error() string {
	if len(e.issues) == 0 {
		return "validation failed"
	}
	return fmt.Sprintf("validation failed: %s", strings.Join(e.issues, "; "))
}

func (e ValidationError) Issues() []string {
	return append([]string(nil), e.issues...)
}

func (c Config) Validate() error {
	var issues []string

	issues = append(issues, validateSourceConfig(c.Source)...)
	issues = append(issues, validateActionConfig(c.Action)...)

	if c.Concurrency < 0 {
		issues = append(issues, "concurrency must be zero or greater (0 starts paused)")
	}
	if c.BatchSize < 1 {
		issues = append(issues, "batch size must be at least 1")
	}
	if c.Total < 0 {
		issues = append(issues, "total must be non-negative")
	}
	if c.Rate < 0 {
		issues = append(issues, "rate must be non-negative")
	}
	if c.Duration < 0 {
		issues = append(issues, "duration must be non-negative")
	}
	if c.Timeout < 0 {
		issues = append(issues, "timeout must be non-negative")
	}
	if c.Retries < 0 {
		issues = append(issues, "retries must be non-negative")
	}

	if c.Progress && c.Dashboard {
		issues = append(issues, "progress and dashboard are mutually exclusive")
	}

	switch c.ReportFormat {
	case "", ReportText, ReportJSON, ReportYAML:
	default:
		issues = append(issues, fmt.Sprintf("report format must be text, json or yaml (got %q)", c.ReportFormat))
	}

	issues = append(issues, validateArrivalConfig(c.Arrival)...)
	issues = append(issues, validateAuthConfig(c.Auth)...)
	issues = append(issues, validateExtractors(c.Extractors)...)

	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		issues = append(issues, "tracing sample_rate must be between 0.0 and 1.0")
	}

	if len(issues) > 0 {
		return ValidationError{issues: issues}
	}
	return nil
}

func validateSourceConfig(src SourceConfig) []string {
	var issues []string
	switch src.Type {
	case SourceCSV, SourceJSON, SourceJSONL:
		if strings.TrimSpace(src.Path) == "" {
			issues = append(issues, fmt.Sprintf("source path is required for %s sources", src.Type))
		}
	case SourceHTTP:
		if strings.TrimSpace(src.URL) == "" {
			issues = append(issues, "source url is required for http sources")
		}
		if src.CursorParam != "" && src.NextPath == "" {
			issues = append(issues, "source cursor_param requires next_path")
		}
	case "":
		issues = append(issues, "source type is required (csv, json, jsonl or http)")
	default:
		issues = append(issues, fmt.Sprintf("unsupported source type %q", src.Type))
	}
	if src.Timeout < 0 {
		issues = append(issues, "source timeout must be non-negative")
	}
	return issues
}

func validateActionConfig(act ActionConfig) []string {
	var issues []string
	switch act.Type {
	case ActionHTTP:
		if strings.TrimSpace(act.URL) == "" {
			issues = append(issues, "action url is required for http actions")
		}
		if act.Body != "" && strings.TrimSpace(act.BodyFile) != "" {
			issues = append(issues, "action body and body_file are mutually exclusive")
		}
	case ActionWebSocket:
		url := strings.TrimSpace(act.URL)
		if url == "" {
			issues = append(issues, "action url is required for websocket actions")
		} else if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
			issues = append(issues, "websocket action url must start with ws:// or wss://")
		}
		if len(act.Messages) == 0 {
			issues = append(issues, "websocket actions need at least one message")
		}
		if act.ReceiveTimeout < 0 || act.HandshakeTimeout < 0 {
			issues = append(issues, "websocket timeouts must be non-negative")
		}
	case ActionEcho:
	case "":
		issues = append(issues, "action type is required (http, websocket or echo)")
	default:
		issues = append(issues, fmt.Sprintf("unsupported action type %q", act.Type))
	}
	if act.PoolSize < 0 {
		issues = append(issues, "action pool_size must be non-negative")
	}
	return issues
}

func validateArrivalConfig(arr ArrivalConfig) []string {
	switch arr.Model {
	case "", ArrivalModelUniform, ArrivalModelPoisson:
		return nil
	default:
		return []string{fmt.Sprintf("arrival model must be uniform or poisson (got %q)", arr.Model)}
	}
}

func validateAuthConfig(auth AuthConfig) []string {
	var issues []string
	switch auth.Type {
	case "":
	case AuthTypeStatic:
		if strings.TrimSpace(auth.StaticToken) == "" {
			issues = append(issues, "auth static_token is required for static auth")
		}
	case AuthTypeOAuth2ClientCredentials:
		if strings.TrimSpace(auth.TokenURL) == "" {
			issues = append(issues, "auth token_url is required for oauth2 auth")
		}
		if strings.TrimSpace(auth.ClientID) == "" {
			issues = append(issues, "auth client_id is required for oauth2 auth")
		}
	default:
		issues = append(issues, fmt.Sprintf("unsupported auth type %q", auth.Type))
	}
	if auth.RefreshBeforeExpiry < 0 {
		issues = append(issues, "auth refresh_before_expiry must be non-negative")
	}
	return issues
}

func validateExtractors(extractors []Extractor) []string {
	var issues []string
	for i, ex := range extractors {
		hasPath := strings.TrimSpace(ex.JSONPath) != ""
		hasRegex := strings.TrimSpace(ex.Regex) != ""
		switch {
		case !hasPath && !hasRegex:
			issues = append(issues, fmt.Sprintf("extractors[%d]: jsonpath or regex is required", i))
		case hasPath && hasRegex:
			issues = append(issues, fmt.Sprintf("extractors[%d]: jsonpath and regex are mutually exclusive", i))
		}
		if !isIdentifier(ex.Variable) {
			issues = append(issues, fmt.Sprintf("extractors[%d]: var must be a valid identifier", i))
		}
	}
	return issues
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		letter := r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
		digit := r >= '0' && r <= '9'
		if !letter && !(digit && i > 0) {
			return false
		}
	}
	return true
}
