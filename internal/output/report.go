package output

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankfeed/internal/metrics"
	"github.com/torosent/crankfeed/internal/threshold"
)

// Report is the final summary of a run.
type Report struct {
	metrics.Stats `yaml:",inline"`
	Interrupted   bool               `json:"interrupted" yaml:"interrupted"`
	SourceError   string             `json:"source_error,omitempty" yaml:"source_error,omitempty"`
	Thresholds    []threshold.Result `json:"thresholds,omitempty" yaml:"thresholds,omitempty"`
}

// Write renders the report in the given format: "text", "json" or "yaml".
// An empty format means text.
func Write(w io.Writer, format string, r Report) error {
	switch strings.ToLower(format) {
	case "", "text":
		PrintReport(w, r)
		return nil
	case "json":
		return PrintJSONReport(w, r)
	case "yaml":
		return PrintYAMLReport(w, r)
	default:
		return fmt.Errorf("unsupported report format %q", format)
	}
}

// PrintReport outputs a human-readable summary report.
func PrintReport(w io.Writer, r Report) {
	stats := r.Stats
	fmt.Fprintln(w, "\n--- Feed Results ---")
	fmt.Fprintf(w, "Total Items:       %d\n", stats.Total)
	fmt.Fprintf(w, "Completed:         %d\n", stats.Completed)
	fmt.Fprintf(w, "Failed:            %d\n", stats.Failed)
	if stats.Aborted > 0 {
		fmt.Fprintf(w, "  Aborted:         %d\n", stats.Aborted)
	}
	fmt.Fprintf(w, "Duration:          %s\n", stats.Duration)
	fmt.Fprintf(w, "Items/sec:         %.2f\n", stats.ItemsPerSec)
	if r.Interrupted {
		fmt.Fprintln(w, "Interrupted:       yes")
	}
	if r.SourceError != "" {
		fmt.Fprintf(w, "Source Error:      %s\n", r.SourceError)
	}

	fmt.Fprintln(w, "\nLatency:")
	fmt.Fprintf(w, "  Min:             %s\n", stats.MinLatency)
	fmt.Fprintf(w, "  Max:             %s\n", stats.MaxLatency)
	fmt.Fprintf(w, "  Mean:            %s\n", stats.MeanLatency)
	fmt.Fprintf(w, "  P50:             %s\n", stats.P50Latency)
	fmt.Fprintf(w, "  P90:             %s\n", stats.P90Latency)
	fmt.Fprintf(w, "  P95:             %s\n", stats.P95Latency)
	fmt.Fprintf(w, "  P99:             %s\n", stats.P99Latency)

	b := stats.Batches
	fmt.Fprintln(w, "\nBatches:")
	fmt.Fprintf(w, "  Fetched:         %d (%d records, mean size %.1f)\n", b.Count, b.Records, b.MeanSize)
	fmt.Fprintf(w, "  Fetch Latency:   mean %.2fms, p99 %.2fms\n", b.MeanFetchMs, b.P99FetchMs)
	if b.Errors > 0 {
		fmt.Fprintf(w, "  Fetch Errors:    %d\n", b.Errors)
	}

	if len(stats.Errors) > 0 {
		fmt.Fprintln(w, "\nErrors:")
		names := make([]string, 0, len(stats.Errors))
		for name := range stats.Errors {
			names = append(names, name)
		}
		sort.Slice(names, func(i, j int) bool {
			if stats.Errors[names[i]] == stats.Errors[names[j]] {
				return names[i] < names[j]
			}
			return stats.Errors[names[i]] > stats.Errors[names[j]]
		})
		for _, name := range names {
			fmt.Fprintf(w, "  %s: %d\n", name, stats.Errors[name])
		}
	}

	if len(stats.StatusBuckets) > 0 {
		fmt.Fprintln(w, "\nStatus Buckets:")
		writeStatusBuckets(w, stats.StatusBuckets, "  ")
	}

	if len(r.Thresholds) > 0 {
		passed := 0
		for _, t := range r.Thresholds {
			if t.Pass {
				passed++
			}
		}
		fmt.Fprintf(w, "\nThresholds (%d/%d passed):\n", passed, len(r.Thresholds))
		for _, t := range r.Thresholds {
			fmt.Fprintf(w, "  %s\n", t.Message)
		}
	}
}

// PrintJSONReport outputs a JSON-formatted report.
func PrintJSONReport(w io.Writer, r Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(r)
}

// PrintYAMLReport outputs a YAML-formatted report.
func PrintYAMLReport(w io.Writer, r Report) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(r); err != nil {
		return err
	}
	return enc.Close()
}

func writeStatusBuckets(w io.Writer, buckets map[string]map[string]int, indent string) {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		fmt.Fprintf(w, "%sNone\n", indent)
		return
	}
	for _, row := range rows {
		fmt.Fprintf(
			w,
			"%s%s %s: %d\n",
			indent,
			strings.ToUpper(row.Protocol),
			row.Code,
			row.Count,
		)
	}
}
