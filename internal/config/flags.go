package config

import (
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// RegisterFlags registers all CLI flags to a cobra command.
func RegisterFlags(cmd *cobra.Command) {
	configureFlags(cmd.Flags())
}

// newFlagCommand creates a cobra command with all flags configured.
func newFlagCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "crankfeed",
		SilenceErrors: true,
		SilenceUsage:  true,
	}
	cmd.SetOut(os.Stdout)
	configureFlags(cmd.Flags())
	return cmd
}

// configureFlags sets up all CLI flags on the provided flag set.
func configureFlags(flags *pflag.FlagSet) {
	// Source flags
	flags.String("source", "", "Source type: 'csv', 'json', 'jsonl' or 'http'")
	flags.String("source-path", "", "Path to the CSV, JSON or JSONL source file")
	flags.String("source-url", "", "First page URL of an HTTP source")
	flags.StringSlice("source-header", nil, "Header sent with HTTP source requests in key=value form")
	flags.String("source-items", "", "JSON path to the item array in each HTTP source page")
	flags.String("source-next", "", "JSON path to the next page URL or cursor in each HTTP source page")
	flags.String("source-cursor-param", "", "Query parameter carrying the cursor read from --source-next")

	// Action flags
	flags.String("action", "", "Action per item: 'http', 'websocket' or 'echo'")
	flags.String("url", "", "Action target URL; {{field}} placeholders are filled from each item")
	flags.String("method", http.MethodPost, "HTTP method for http actions")
	flags.StringSlice("header", nil, "Action request header in key=value form")
	flags.String("body", "", "Inline action body template")
	flags.String("body-file", "", "Path to file containing the action body template")
	flags.StringArray("ws-messages", nil, "WebSocket message template to send per item (repeatable; commas are kept)")
	flags.Bool("ws-expect-reply", false, "Wait for one reply per WebSocket message")
	flags.Duration("ws-receive-timeout", 10*time.Second, "WebSocket receive timeout")
	flags.Duration("ws-handshake-timeout", 30*time.Second, "WebSocket handshake timeout")

	// Flow control flags
	flags.IntP("concurrency", "c", DefaultConcurrency, "Maximum items processed at once (0 starts paused)")
	flags.IntP("batch-size", "b", DefaultBatchSize, "Items requested from the source per fetch")
	flags.IntP("total", "t", 0, "Stop after this many items (0 means the whole source)")
	flags.IntP("rate", "r", 0, "Items started per second (0 means unlimited)")
	flags.DurationP("duration", "d", 0, "Abort the run after this long (e.g. 30s, 1m)")
	flags.Duration("timeout", DefaultTimeout, "Per-item and per-page timeout")
	flags.Int("retries", 0, "Number of retries per item")
	flags.String("arrival-model", string(ArrivalModelUniform), "Arrival model used when --rate is set (uniform or poisson)")

	// Output flags
	flags.String("report", string(ReportText), "Final report format: 'text', 'json' or 'yaml'")
	flags.String("results-file", "", "Append one JSON line per processed item to this file")
	flags.Bool("progress", false, "Print live progress to stderr")
	flags.Bool("dashboard", false, "Show a live terminal dashboard (p pauses, +/- adjust concurrency, q aborts)")
	flags.Bool("log-errors", false, "Log each failed item to stderr")
	flags.BoolP("verbose", "v", false, "Enable debug logging")
	flags.String("config", "", "Path to configuration file (JSON or YAML)")

	// Tracing flags
	flags.String("otlp-endpoint", "", "OTLP collector endpoint; enables tracing")
	flags.String("otlp-protocol", "grpc", "OTLP protocol: 'grpc' or 'http'")

	// Threshold flags
	flags.StringSlice("threshold", nil, "Pass/fail thresholds (repeatable, e.g., 'item_duration:p95 < 500')")
}

// displayHelp prints the help message for a command.
func displayHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Usage: %s\n\nFlags:\n", cmd.UseLine())
	fs := cmd.Flags()
	fs.SetOutput(out)
	fs.PrintDefaults()
}

// applyFlagOverrides applies command-line flag values to the config, overriding
// values from the config file.
func applyFlagOverrides(cfg *Config, fs *pflag.FlagSet) error {
	stringFlags := []struct {
		name string
		set  func(string)
	}{
		{"source", func(v string) { cfg.Source.Type = SourceType(strings.ToLower(v)) }},
		{"source-path", func(v string) { cfg.Source.Path = v }},
		{"source-url", func(v string) { cfg.Source.URL = v }},
		{"source-items", func(v string) { cfg.Source.ItemsPath = v }},
		{"source-next", func(v string) { cfg.Source.NextPath = v }},
		{"source-cursor-param", func(v string) { cfg.Source.CursorParam = v }},
		{"action", func(v string) { cfg.Action.Type = ActionType(strings.ToLower(v)) }},
		{"url", func(v string) { cfg.Action.URL = v }},
		{"method", func(v string) { cfg.Action.Method = v }},
		{"body", func(v string) { cfg.Action.Body = v; cfg.Action.BodyFile = "" }},
		{"body-file", func(v string) { cfg.Action.BodyFile = v; cfg.Action.Body = "" }},
		{"arrival-model", func(v string) { cfg.Arrival.Model = ArrivalModel(strings.ToLower(v)) }},
		{"report", func(v string) { cfg.ReportFormat = ReportFormat(strings.ToLower(v)) }},
		{"results-file", func(v string) { cfg.ResultsFile = v }},
		{"otlp-endpoint", func(v string) { cfg.Tracing.Endpoint = v }},
		{"otlp-protocol", func(v string) { cfg.Tracing.Protocol = strings.ToLower(v) }},
	}
	for _, f := range stringFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetString(f.name)
		if err != nil {
			return err
		}
		// Bodies are templates; keep their whitespace.
		if f.name != "body" {
			val = strings.TrimSpace(val)
		}
		f.set(val)
	}

	intFlags := []struct {
		name string
		dst  *int
	}{
		{"concurrency", &cfg.Concurrency},
		{"batch-size", &cfg.BatchSize},
		{"total", &cfg.Total},
		{"rate", &cfg.Rate},
		{"retries", &cfg.Retries},
	}
	for _, f := range intFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetInt(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	durationFlags := []struct {
		name string
		dst  *time.Duration
	}{
		{"duration", &cfg.Duration},
		{"timeout", &cfg.Timeout},
		{"ws-receive-timeout", &cfg.Action.ReceiveTimeout},
		{"ws-handshake-timeout", &cfg.Action.HandshakeTimeout},
	}
	for _, f := range durationFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetDuration(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	boolFlags := []struct {
		name string
		dst  *bool
	}{
		{"ws-expect-reply", &cfg.Action.ExpectReply},
		{"progress", &cfg.Progress},
		{"dashboard", &cfg.Dashboard},
		{"log-errors", &cfg.LogErrors},
		{"verbose", &cfg.Verbose},
	}
	for _, f := range boolFlags {
		if !fs.Changed(f.name) {
			continue
		}
		val, err := fs.GetBool(f.name)
		if err != nil {
			return err
		}
		*f.dst = val
	}

	if fs.Changed("ws-messages") {
		msgs, err := fs.GetStringArray("ws-messages")
		if err != nil {
			return err
		}
		cfg.Action.Messages = msgs
	}

	if fs.Changed("threshold") {
		thresholds, err := fs.GetStringSlice("threshold")
		if err != nil {
			return err
		}
		cfg.Thresholds = thresholds
	}

	if err := mergeHeaderFlag(fs, "header", &cfg.Action.Headers); err != nil {
		return err
	}
	return mergeHeaderFlag(fs, "source-header", &cfg.Source.Headers)
}

// mergeHeaderFlag adds key=value entries from a repeatable flag to dst.
func mergeHeaderFlag(fs *pflag.FlagSet, name string, dst *map[string]string) error {
	vals, err := fs.GetStringSlice(name)
	if err != nil {
		return err
	}
	if len(vals) == 0 {
		return nil
	}
	if *dst == nil {
		*dst = map[string]string{}
	}
	for _, entry := range vals {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("%s must be in key=value format: %s", name, entry)
		}
		key := http.CanonicalHeaderKey(strings.TrimSpace(parts[0]))
		if key == "" {
			return fmt.Errorf("%s key cannot be empty", name)
		}
		(*dst)[key] = strings.TrimSpace(parts[1])
	}
	return nil
}
