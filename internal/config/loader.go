package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Loader handles loading configuration from files and command-line arguments.
type Loader struct{}

// ErrHelpRequested is returned when the user requests help via --help flag.
var ErrHelpRequested = errors.New("help requested")

// NewLoader creates a new configuration Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// Defaults applied before the config file and flags are read.
const (
	DefaultConcurrency = 2
	DefaultBatchSize   = 10
	DefaultTimeout     = 30 * time.Second
)

// Load parses command-line arguments and configuration files to produce a Config.
func (Loader) Load(args []string) (*Config, error) {
	cmd := newFlagCommand()
	if err := cmd.Flags().Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
		return nil, err
	}

	flagSet := cmd.Flags()
	if helpFlag := flagSet.Lookup("help"); helpFlag != nil {
		if wantsHelp, err := strconv.ParseBool(helpFlag.Value.String()); err == nil && wantsHelp {
			displayHelp(cmd)
			return nil, ErrHelpRequested
		}
	}

	configPath := flagSet.Lookup("config").Value.String()
	if len(args) == 0 && configPath == "" {
		displayHelp(cmd)
		return nil, ErrHelpRequested
	}
	cfgViper := viper.New()
	if configPath != "" {
		cfgViper.SetConfigFile(configPath)
		if err := cfgViper.ReadInConfig(); err != nil {
			return nil, err
		}
	}

	settings := cfgViper.AllSettings()

	cfg := &Config{
		Action:       ActionConfig{Method: http.MethodPost, Headers: map[string]string{}},
		Concurrency:  DefaultConcurrency,
		BatchSize:    DefaultBatchSize,
		Timeout:      DefaultTimeout,
		Arrival:      ArrivalConfig{Model: ArrivalModelUniform},
		ReportFormat: ReportText,
		ConfigFile:   configPath,
	}

	if err := applyConfigSettings(cfg, settings); err != nil {
		return nil, err
	}

	if err := applyFlagOverrides(cfg, flagSet); err != nil {
		return nil, err
	}

	applyEnvFallbacks(cfg)

	cfg.Action.Method = strings.ToUpper(strings.TrimSpace(cfg.Action.Method))
	if cfg.Action.Method == "" {
		cfg.Action.Method = http.MethodPost
	}
	cfg.Action.URL = strings.TrimSpace(cfg.Action.URL)
	cfg.Action.BodyFile = strings.TrimSpace(cfg.Action.BodyFile)
	if cfg.Action.Headers == nil {
		cfg.Action.Headers = map[string]string{}
	}
	if cfg.Source.Timeout == 0 {
		cfg.Source.Timeout = cfg.Timeout
	}

	return cfg, nil
}

// applyConfigSettings applies settings from a config file to the Config struct.
func applyConfigSettings(cfg *Config, settings map[string]interface{}) error {
	if len(settings) == 0 {
		return nil
	}

	if raw, ok := lookupSetting(settings, "source"); ok {
		src, err := parseSource(raw)
		if err != nil {
			return fmt.Errorf("source: %w", err)
		}
		cfg.Source = src
	}

	if raw, ok := lookupSetting(settings, "action"); ok {
		act, err := parseAction(raw, cfg.Action)
		if err != nil {
			return fmt.Errorf("action: %w", err)
		}
		cfg.Action = act
	}

	intSettings := []struct {
		name string
		keys []string
		dst  *int
	}{
		{"concurrency", []string{"concurrency"}, &cfg.Concurrency},
		{"batch_size", []string{"batchsize", "batch_size", "batch-size"}, &cfg.BatchSize},
		{"total", []string{"total"}, &cfg.Total},
		{"rate", []string{"rate"}, &cfg.Rate},
		{"retries", []string{"retries"}, &cfg.Retries},
	}
	for _, s := range intSettings {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asInt(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			*s.dst = val
		}
	}

	if raw, ok := lookupSetting(settings, "duration"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("duration: %w", err)
		}
		cfg.Duration = dur
	}

	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return fmt.Errorf("timeout: %w", err)
		}
		cfg.Timeout = dur
	}

	if raw, ok := lookupSetting(settings, "arrival"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	} else if raw, ok := lookupSetting(settings, "arrivalmodel", "arrival_model", "arrival-model"); ok {
		arrival, err := parseArrival(raw)
		if err != nil {
			return fmt.Errorf("arrival_model: %w", err)
		}
		if arrival.Model != "" {
			cfg.Arrival = arrival
		}
	}

	if raw, ok := lookupSetting(settings, "auth"); ok {
		auth, err := parseAuth(raw)
		if err != nil {
			return fmt.Errorf("auth: %w", err)
		}
		cfg.Auth = auth
	}

	if raw, ok := lookupSetting(settings, "tracing"); ok {
		tracing, err := parseTracing(raw)
		if err != nil {
			return fmt.Errorf("tracing: %w", err)
		}
		cfg.Tracing = tracing
	}

	if raw, ok := lookupSetting(settings, "extractors"); ok {
		extractors, err := parseExtractors(raw)
		if err != nil {
			return fmt.Errorf("extractors: %w", err)
		}
		cfg.Extractors = extractors
	}

	if raw, ok := lookupSetting(settings, "thresholds"); ok {
		thresholds, err := asStringSlice(raw)
		if err != nil {
			return fmt.Errorf("thresholds: %w", err)
		}
		cfg.Thresholds = thresholds
	}

	if raw, ok := lookupSetting(settings, "reportformat", "report_format", "report-format"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("report_format: %w", err)
		}
		if val = strings.ToLower(strings.TrimSpace(val)); val != "" {
			cfg.ReportFormat = ReportFormat(val)
		}
	}

	if raw, ok := lookupSetting(settings, "resultsfile", "results_file", "results-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return fmt.Errorf("results_file: %w", err)
		}
		cfg.ResultsFile = strings.TrimSpace(val)
	}

	boolSettings := []struct {
		name string
		keys []string
		dst  *bool
	}{
		{"progress", []string{"progress"}, &cfg.Progress},
		{"dashboard", []string{"dashboard"}, &cfg.Dashboard},
		{"log_errors", []string{"logerrors", "log_errors", "log-errors"}, &cfg.LogErrors},
		{"verbose", []string{"verbose"}, &cfg.Verbose},
	}
	for _, s := range boolSettings {
		if raw, ok := lookupSetting(settings, s.keys...); ok {
			val, err := asBool(raw)
			if err != nil {
				return fmt.Errorf("%s: %w", s.name, err)
			}
			*s.dst = val
		}
	}

	return nil
}

// applyEnvFallbacks fills secrets that were left empty from the environment.
func applyEnvFallbacks(cfg *Config) {
	if cfg.Auth.ClientSecret == "" {
		cfg.Auth.ClientSecret = os.Getenv("CRANKFEED_AUTH_CLIENT_SECRET")
	}
	if cfg.Auth.StaticToken == "" {
		cfg.Auth.StaticToken = os.Getenv("CRANKFEED_AUTH_STATIC_TOKEN")
	}
}

func parseSource(value interface{}) (SourceConfig, error) {
	var src SourceConfig
	if value == nil {
		return src, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return src, err
	}

	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return src, fmt.Errorf("type: %w", err)
		}
		src.Type = SourceType(strings.ToLower(strings.TrimSpace(val)))
	}
	stringFields := []struct {
		name string
		keys []string
		dst  *string
	}{
		{"path", []string{"path"}, &src.Path},
		{"url", []string{"url"}, &src.URL},
		{"items_path", []string{"itemspath", "items_path", "items-path"}, &src.ItemsPath},
		{"next_path", []string{"nextpath", "next_path", "next-path"}, &src.NextPath},
		{"cursor_param", []string{"cursorparam", "cursor_param", "cursor-param"}, &src.CursorParam},
	}
	for _, f := range stringFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return src, fmt.Errorf("%s: %w", f.name, err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return src, fmt.Errorf("headers: %w", err)
		}
		src.Headers = canonicalHeaders(hdrs)
	}
	if raw, ok := lookupSetting(settings, "timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return src, fmt.Errorf("timeout: %w", err)
		}
		src.Timeout = dur
	}
	return src, nil
}

func parseAction(value interface{}, act ActionConfig) (ActionConfig, error) {
	if value == nil {
		return act, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return act, err
	}

	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return act, fmt.Errorf("type: %w", err)
		}
		act.Type = ActionType(strings.ToLower(strings.TrimSpace(val)))
	}
	if raw, ok := lookupSetting(settings, "method"); ok {
		val, err := asString(raw)
		if err != nil {
			return act, fmt.Errorf("method: %w", err)
		}
		if val != "" {
			act.Method = val
		}
	}
	if raw, ok := lookupSetting(settings, "url"); ok {
		val, err := asString(raw)
		if err != nil {
			return act, fmt.Errorf("url: %w", err)
		}
		act.URL = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "headers"); ok {
		hdrs, err := asStringMap(raw)
		if err != nil {
			return act, fmt.Errorf("headers: %w", err)
		}
		act.Headers = canonicalHeaders(hdrs)
	}
	if raw, ok := lookupSetting(settings, "body"); ok {
		val, err := asString(raw)
		if err != nil {
			return act, fmt.Errorf("body: %w", err)
		}
		act.Body = val
	}
	if raw, ok := lookupSetting(settings, "bodyfile", "body_file", "body-file"); ok {
		val, err := asString(raw)
		if err != nil {
			return act, fmt.Errorf("body_file: %w", err)
		}
		act.BodyFile = val
	}
	if raw, ok := lookupSetting(settings, "messages"); ok {
		msgs, err := asStringSlice(raw)
		if err != nil {
			return act, fmt.Errorf("messages: %w", err)
		}
		act.Messages = msgs
	}
	if raw, ok := lookupSetting(settings, "expectreply", "expect_reply", "expect-reply"); ok {
		val, err := asBool(raw)
		if err != nil {
			return act, fmt.Errorf("expect_reply: %w", err)
		}
		act.ExpectReply = val
	}
	if raw, ok := lookupSetting(settings, "receivetimeout", "receive_timeout", "receive-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return act, fmt.Errorf("receive_timeout: %w", err)
		}
		act.ReceiveTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "handshaketimeout", "handshake_timeout", "handshake-timeout"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return act, fmt.Errorf("handshake_timeout: %w", err)
		}
		act.HandshakeTimeout = dur
	}
	if raw, ok := lookupSetting(settings, "poolsize", "pool_size", "pool-size"); ok {
		val, err := asInt(raw)
		if err != nil {
			return act, fmt.Errorf("pool_size: %w", err)
		}
		act.PoolSize = val
	}
	return act, nil
}

func canonicalHeaders(hdrs map[string]string) map[string]string {
	out := make(map[string]string, len(hdrs))
	for k, v := range hdrs {
		out[http.CanonicalHeaderKey(strings.TrimSpace(k))] = v
	}
	return out
}

func parseArrival(value interface{}) (ArrivalConfig, error) {
	if value == nil {
		return ArrivalConfig{}, nil
	}
	switch v := value.(type) {
	case string:
		model := strings.ToLower(strings.TrimSpace(v))
		if model == "" {
			return ArrivalConfig{}, nil
		}
		return ArrivalConfig{Model: ArrivalModel(model)}, nil
	default:
		entry, err := toStringKeyMap(value)
		if err != nil {
			return ArrivalConfig{}, err
		}
		if raw, ok := lookupSetting(entry, "model"); ok {
			val, err := asString(raw)
			if err != nil {
				return ArrivalConfig{}, fmt.Errorf("model: %w", err)
			}
			return ArrivalConfig{Model: ArrivalModel(strings.ToLower(strings.TrimSpace(val)))}, nil
		}
		return ArrivalConfig{}, fmt.Errorf("model field is required")
	}
}

func parseExtractors(value interface{}) ([]Extractor, error) {
	if value == nil {
		return nil, nil
	}
	items, err := toInterfaceSlice(value)
	if err != nil {
		return nil, err
	}
	extractors := make([]Extractor, 0, len(items))
	for idx, item := range items {
		entry, err := toStringKeyMap(item)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		extractor, err := buildExtractor(entry)
		if err != nil {
			return nil, fmt.Errorf("index %d: %w", idx, err)
		}
		extractors = append(extractors, extractor)
	}
	return extractors, nil
}

func buildExtractor(settings map[string]interface{}) (Extractor, error) {
	var extractor Extractor
	if raw, ok := lookupSetting(settings, "jsonpath"); ok {
		val, err := asString(raw)
		if err != nil {
			return Extractor{}, fmt.Errorf("jsonpath: %w", err)
		}
		extractor.JSONPath = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "regex"); ok {
		val, err := asString(raw)
		if err != nil {
			return Extractor{}, fmt.Errorf("regex: %w", err)
		}
		extractor.Regex = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "var"); ok {
		val, err := asString(raw)
		if err != nil {
			return Extractor{}, fmt.Errorf("var: %w", err)
		}
		extractor.Variable = strings.TrimSpace(val)
	}
	if raw, ok := lookupSetting(settings, "onerror", "on_error", "on-error"); ok {
		val, err := asBool(raw)
		if err != nil {
			return Extractor{}, fmt.Errorf("on_error: %w", err)
		}
		extractor.OnError = val
	}
	return extractor, nil
}

func parseAuth(value interface{}) (AuthConfig, error) {
	if value == nil {
		return AuthConfig{}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return AuthConfig{}, err
	}

	var auth AuthConfig
	if raw, ok := lookupSetting(settings, "type"); ok {
		val, err := asString(raw)
		if err != nil {
			return AuthConfig{}, fmt.Errorf("type: %w", err)
		}
		auth.Type = AuthType(strings.ToLower(strings.TrimSpace(val)))
	}
	stringFields := []struct {
		name string
		keys []string
		dst  *string
	}{
		{"token_url", []string{"tokenurl", "token_url", "token-url"}, &auth.TokenURL},
		{"client_id", []string{"clientid", "client_id", "client-id"}, &auth.ClientID},
		{"client_secret", []string{"clientsecret", "client_secret", "client-secret"}, &auth.ClientSecret},
		{"static_token", []string{"statictoken", "static_token", "static-token"}, &auth.StaticToken},
	}
	for _, f := range stringFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return AuthConfig{}, fmt.Errorf("%s: %w", f.name, err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "scopes"); ok {
		scopes, err := asStringSlice(raw)
		if err != nil {
			return AuthConfig{}, fmt.Errorf("scopes: %w", err)
		}
		auth.Scopes = scopes
	}
	if raw, ok := lookupSetting(settings, "refreshbeforeexpiry", "refresh_before_expiry", "refresh-before-expiry"); ok {
		dur, err := asDuration(raw)
		if err != nil {
			return AuthConfig{}, fmt.Errorf("refresh_before_expiry: %w", err)
		}
		auth.RefreshBeforeExpiry = dur
	}
	return auth, nil
}

func parseTracing(value interface{}) (TracingConfig, error) {
	if value == nil {
		return TracingConfig{}, nil
	}
	settings, err := toStringKeyMap(value)
	if err != nil {
		return TracingConfig{}, err
	}

	var tc TracingConfig
	stringFields := []struct {
		name string
		keys []string
		dst  *string
	}{
		{"endpoint", []string{"endpoint"}, &tc.Endpoint},
		{"protocol", []string{"protocol"}, &tc.Protocol},
		{"service_name", []string{"servicename", "service_name", "service-name"}, &tc.ServiceName},
	}
	for _, f := range stringFields {
		if raw, ok := lookupSetting(settings, f.keys...); ok {
			val, err := asString(raw)
			if err != nil {
				return TracingConfig{}, fmt.Errorf("%s: %w", f.name, err)
			}
			*f.dst = strings.TrimSpace(val)
		}
	}
	if raw, ok := lookupSetting(settings, "insecure"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("insecure: %w", err)
		}
		tc.Insecure = val
	}
	if raw, ok := lookupSetting(settings, "samplerate", "sample_rate", "sample-rate"); ok {
		val, err := asFloat64(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("sample_rate: %w", err)
		}
		tc.SampleRate = val
	}
	if raw, ok := lookupSetting(settings, "propagate"); ok {
		val, err := asBool(raw)
		if err != nil {
			return TracingConfig{}, fmt.Errorf("propagate: %w", err)
		}
		tc.Propagate = &val
	}
	return tc, nil
}
