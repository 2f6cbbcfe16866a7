package threshold

import (
	"fmt"
	"math"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/torosent/crankfeed/internal/metrics"
)

// Threshold represents an assertion on run metrics that can pass or fail.
type Threshold struct {
	Metric    string  // e.g., "item_duration", "item_failed"
	Aggregate string  // e.g., "p95", "p99", "avg", "max", "rate"
	Operator  string  // e.g., "<", "<=", ">", ">=", "=="
	Value     float64 // The threshold value to compare against
	Raw       string  // Original threshold string for display
}

// Result represents the outcome of evaluating a threshold.
type Result struct {
	Threshold Threshold `json:"-" yaml:"-"`
	Expr      string    `json:"threshold" yaml:"threshold"`
	Actual    float64   `json:"actual" yaml:"actual"`
	Pass      bool      `json:"pass" yaml:"pass"`
	Message   string    `json:"message" yaml:"message"`
}

type extractFunc func(metrics.Stats) float64

// catalog maps metric -> aggregate -> value. Durations are in milliseconds.
var catalog = map[string]map[string]extractFunc{
	"item_duration": {
		"p50":  func(s metrics.Stats) float64 { return s.P50LatencyMs },
		"p90":  func(s metrics.Stats) float64 { return s.P90LatencyMs },
		"p95":  func(s metrics.Stats) float64 { return s.P95LatencyMs },
		"p99":  func(s metrics.Stats) float64 { return s.P99LatencyMs },
		"avg":  func(s metrics.Stats) float64 { return s.MeanLatencyMs },
		"mean": func(s metrics.Stats) float64 { return s.MeanLatencyMs },
		"min":  func(s metrics.Stats) float64 { return s.MinLatencyMs },
		"max":  func(s metrics.Stats) float64 { return s.MaxLatencyMs },
	},
	"item_failed": {
		"count": func(s metrics.Stats) float64 { return float64(s.Failed) },
		"rate":  func(s metrics.Stats) float64 { return s.FailureRate },
	},
	"item_aborted": {
		"count": func(s metrics.Stats) float64 { return float64(s.Aborted) },
	},
	"items": {
		"count": func(s metrics.Stats) float64 { return float64(s.Total) },
		"rate":  func(s metrics.Stats) float64 { return s.ItemsPerSec },
	},
	"batch_fetch": {
		"avg":   func(s metrics.Stats) float64 { return s.Batches.MeanFetchMs },
		"p99":   func(s metrics.Stats) float64 { return s.Batches.P99FetchMs },
		"count": func(s metrics.Stats) float64 { return float64(s.Batches.Count) },
	},
	"batch_failed": {
		"count": func(s metrics.Stats) float64 { return float64(s.Batches.Errors) },
	},
}

var pattern = regexp.MustCompile(`^([a-z_]+):([a-z0-9]+)\s*([<>=!]+)\s*([0-9.]+)$`)

// Evaluator evaluates thresholds against collected metrics.
type Evaluator struct {
	thresholds []Threshold
}

// NewEvaluator creates a new threshold evaluator.
func NewEvaluator(thresholds []Threshold) *Evaluator {
	return &Evaluator{
		thresholds: thresholds,
	}
}

// Evaluate checks all thresholds against the provided stats.
func (e *Evaluator) Evaluate(stats metrics.Stats) []Result {
	if len(e.thresholds) == 0 {
		return nil
	}

	results := make([]Result, 0, len(e.thresholds))
	for _, t := range e.thresholds {
		results = append(results, evaluateOne(t, stats))
	}
	return results
}

// AllPassed reports whether every result passed.
func AllPassed(results []Result) bool {
	for _, r := range results {
		if !r.Pass {
			return false
		}
	}
	return true
}

func evaluateOne(t Threshold, stats metrics.Stats) Result {
	actual, err := extractMetricValue(t, stats)
	if err != nil {
		return Result{
			Threshold: t,
			Expr:      t.Raw,
			Message:   fmt.Sprintf("error: %v", err),
		}
	}

	pass := compareValues(actual, t.Operator, t.Value)
	status := "✓"
	if !pass {
		status = "✗"
	}

	return Result{
		Threshold: t,
		Expr:      t.Raw,
		Actual:    actual,
		Pass:      pass,
		Message:   fmt.Sprintf("%s %s: %.2f %s %.2f", status, t.Raw, actual, t.Operator, t.Value),
	}
}

// Parse parses a threshold string into a Threshold struct.
// Supported formats:
// - "item_duration:p95 < 500"   (item latency percentile in ms)
// - "item_duration:avg < 200"   (average item latency in ms)
// - "item_failed:rate < 0.01"   (failure rate as decimal, aborted included)
// - "item_failed:count < 10"    (failure count)
// - "item_aborted:count == 0"   (items never acted on)
// - "items:rate > 100"          (items per second)
// - "batch_fetch:p99 < 250"     (source fetch latency in ms)
// - "batch_failed:count == 0"   (failed source fetches)
func Parse(s string) (Threshold, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Threshold{}, fmt.Errorf("empty threshold string")
	}

	matches := pattern.FindStringSubmatch(s)
	if matches == nil {
		return Threshold{}, fmt.Errorf("invalid threshold format: %q (expected format: metric:aggregate operator value, e.g., 'item_duration:p95 < 500')", s)
	}

	metric, aggregate, operator, valueStr := matches[1], matches[2], matches[3], matches[4]

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return Threshold{}, fmt.Errorf("invalid threshold value %q: %v", valueStr, err)
	}

	aggregates, ok := catalog[metric]
	if !ok {
		return Threshold{}, fmt.Errorf("unsupported metric: %q (supported: %s)", metric, strings.Join(supportedMetrics(), ", "))
	}
	if _, ok := aggregates[aggregate]; !ok {
		return Threshold{}, fmt.Errorf("unsupported aggregate %q for %s (supported: %s)", aggregate, metric, strings.Join(sortedKeys(aggregates), ", "))
	}
	if !isValidOperator(operator) {
		return Threshold{}, fmt.Errorf("unsupported operator: %q (supported: <, <=, >, >=, ==)", operator)
	}

	return Threshold{
		Metric:    metric,
		Aggregate: aggregate,
		Operator:  operator,
		Value:     value,
		Raw:       s,
	}, nil
}

// ParseMultiple parses multiple threshold strings.
func ParseMultiple(thresholds []string) ([]Threshold, error) {
	if len(thresholds) == 0 {
		return nil, nil
	}

	result := make([]Threshold, 0, len(thresholds))
	var errs []string

	for i, s := range thresholds {
		t, err := Parse(s)
		if err != nil {
			errs = append(errs, fmt.Sprintf("threshold[%d]: %v", i, err))
			continue
		}
		result = append(result, t)
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("threshold parsing errors: %s", strings.Join(errs, "; "))
	}

	return result, nil
}

func supportedMetrics() []string {
	return sortedKeys(catalog)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isValidOperator(operator string) bool {
	switch operator {
	case "<", "<=", ">", ">=", "==":
		return true
	}
	return false
}

func extractMetricValue(t Threshold, stats metrics.Stats) (float64, error) {
	aggregates, ok := catalog[t.Metric]
	if !ok {
		return 0, fmt.Errorf("unknown metric: %s", t.Metric)
	}
	fn, ok := aggregates[t.Aggregate]
	if !ok {
		return 0, fmt.Errorf("unsupported aggregate %q for %s", t.Aggregate, t.Metric)
	}
	return fn(stats), nil
}

func compareValues(actual float64, operator string, expected float64) bool {
	epsilon := 1e-9

	switch operator {
	case "<":
		return actual < expected
	case "<=":
		return actual <= expected || math.Abs(actual-expected) < epsilon
	case ">":
		return actual > expected
	case ">=":
		return actual >= expected || math.Abs(actual-expected) < epsilon
	case "==":
		return math.Abs(actual-expected) < epsilon
	default:
		return false
	}
}
