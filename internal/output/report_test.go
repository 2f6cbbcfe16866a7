package output

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/torosent/crankfeed/internal/metrics"
	"github.com/torosent/crankfeed/internal/threshold"
)

func sampleReport() Report {
	return Report{
		Stats: metrics.Stats{
			Total:         100,
			Completed:     95,
			Failed:        5,
			Aborted:       2,
			ItemsPerSec:   50.0,
			Duration:      2 * time.Second,
			DurationMs:    2000,
			P99LatencyMs:  12.5,
			Batches:       metrics.BatchStats{Count: 10, Records: 100, MeanSize: 10, Errors: 1},
			Errors:        map[string]int{"Aborted": 2, "HTTP error response": 3},
			StatusBuckets: map[string]map[string]int{"http": {"503": 3}},
		},
		Interrupted: true,
		SourceError: "fetch batch: connection reset",
		Thresholds: []threshold.Result{
			{Expr: "items:count > 50", Actual: 100, Pass: true, Message: "✓ items:count > 50: 100.00 > 50.00"},
			{Expr: "item_failed:count == 0", Actual: 5, Pass: false, Message: "✗ item_failed:count == 0: 5.00 == 0.00"},
		},
	}
}

func TestPrintReportBasic(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, sampleReport())

	output := buf.String()
	for _, want := range []string{
		"Total Items:       100",
		"Completed:         95",
		"Aborted:         2",
		"Interrupted:       yes",
		"Source Error:      fetch batch: connection reset",
		"Fetched:         10 (100 records, mean size 10.0)",
		"Fetch Errors:    1",
		"HTTP error response: 3",
		"HTTP 503: 3",
		"Thresholds (1/2 passed):",
		"✗ item_failed:count == 0",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("expected %q in output:\n%s", want, output)
		}
	}
}

func TestPrintReportOmitsEmptySections(t *testing.T) {
	var buf bytes.Buffer
	PrintReport(&buf, Report{Stats: metrics.Stats{Total: 1, Completed: 1}})

	output := buf.String()
	for _, unwanted := range []string{"Aborted", "Interrupted", "Source Error", "Errors:", "Status Buckets", "Thresholds"} {
		if strings.Contains(output, unwanted) {
			t.Errorf("unexpected %q in output:\n%s", unwanted, output)
		}
	}
}

func TestPrintJSONReportFlattensStats(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintJSONReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintJSONReport failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := json.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed["total"] != float64(100) {
		t.Errorf("expected total at top level, got %v", parsed["total"])
	}
	if parsed["interrupted"] != true {
		t.Errorf("expected interrupted=true, got %v", parsed["interrupted"])
	}
	thresholds, ok := parsed["thresholds"].([]interface{})
	if !ok || len(thresholds) != 2 {
		t.Fatalf("expected 2 thresholds, got %v", parsed["thresholds"])
	}
	first := thresholds[0].(map[string]interface{})
	if first["threshold"] != "items:count > 50" || first["pass"] != true {
		t.Errorf("unexpected threshold entry %v", first)
	}
}

func TestPrintYAMLReport(t *testing.T) {
	var buf bytes.Buffer
	if err := PrintYAMLReport(&buf, sampleReport()); err != nil {
		t.Fatalf("PrintYAMLReport failed: %v", err)
	}

	var parsed map[string]interface{}
	if err := yaml.Unmarshal(buf.Bytes(), &parsed); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if parsed["total"] != 100 {
		t.Errorf("expected total 100, got %v", parsed["total"])
	}
	if parsed["source_error"] != "fetch batch: connection reset" {
		t.Errorf("unexpected source_error %v", parsed["source_error"])
	}
	batches, ok := parsed["batches"].(map[string]interface{})
	if !ok || batches["count"] != 10 {
		t.Errorf("unexpected batches %v", parsed["batches"])
	}
}

func TestWriteDispatchesOnFormat(t *testing.T) {
	tests := []struct {
		format string
		want   string
	}{
		{"", "--- Feed Results ---"},
		{"text", "--- Feed Results ---"},
		{"JSON", `"total": 100`},
		{"yaml", "total: 100"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := Write(&buf, tt.format, sampleReport()); err != nil {
			t.Fatalf("Write(%q) error = %v", tt.format, err)
		}
		if !strings.Contains(buf.String(), tt.want) {
			t.Errorf("Write(%q) missing %q:\n%s", tt.format, tt.want, buf.String())
		}
	}

	if err := Write(&bytes.Buffer{}, "html", sampleReport()); err == nil {
		t.Error("expected error for unsupported format")
	}
}
