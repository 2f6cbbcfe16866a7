package metrics

import (
	"errors"
	"strconv"
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"

	"github.com/torosent/crankfeed/internal/runner"
)

// maxHistory bounds the number of retained snapshots.
const maxHistory = 600

// Collector aggregates item and batch outcomes in a thread-safe manner. It
// implements runner.Observer.
type Collector struct {
	mu sync.Mutex

	itemHist   *hdrhistogram.Histogram
	completed  int64
	failed     int64
	aborted    int64
	minLatency time.Duration
	maxLatency time.Duration
	sumLatency time.Duration

	fetchHist    *hdrhistogram.Histogram
	batches      int64
	batchRecords int64
	batchErrors  int64

	errorsByType  map[string]int64
	statusBuckets map[string]map[string]int

	start     time.Time
	history   []DataPoint
	lastTotal int64
	lastAt    time.Time
}

// Stats represents aggregated metrics.
type Stats struct {
	Total       int64         `json:"total" yaml:"total"`
	Completed   int64         `json:"completed" yaml:"completed"`
	Failed      int64         `json:"failed" yaml:"failed"`
	Aborted     int64         `json:"aborted" yaml:"aborted"`
	MinLatency  time.Duration `json:"-" yaml:"-"`
	MaxLatency  time.Duration `json:"-" yaml:"-"`
	MeanLatency time.Duration `json:"-" yaml:"-"`
	P50Latency  time.Duration `json:"-" yaml:"-"`
	P90Latency  time.Duration `json:"-" yaml:"-"`
	P95Latency  time.Duration `json:"-" yaml:"-"`
	P99Latency  time.Duration `json:"-" yaml:"-"`
	Duration    time.Duration `json:"-" yaml:"-"`
	ItemsPerSec float64       `json:"items_per_sec" yaml:"items_per_sec"`
	FailureRate float64       `json:"failure_rate" yaml:"failure_rate"`

	// JSON-friendly millisecond fields.
	MinLatencyMs  float64 `json:"min_latency_ms" yaml:"min_latency_ms"`
	MaxLatencyMs  float64 `json:"max_latency_ms" yaml:"max_latency_ms"`
	MeanLatencyMs float64 `json:"mean_latency_ms" yaml:"mean_latency_ms"`
	P50LatencyMs  float64 `json:"p50_latency_ms" yaml:"p50_latency_ms"`
	P90LatencyMs  float64 `json:"p90_latency_ms" yaml:"p90_latency_ms"`
	P95LatencyMs  float64 `json:"p95_latency_ms" yaml:"p95_latency_ms"`
	P99LatencyMs  float64 `json:"p99_latency_ms" yaml:"p99_latency_ms"`
	DurationMs    float64 `json:"duration_ms" yaml:"duration_ms"`

	Batches       BatchStats                `json:"batches" yaml:"batches"`
	Errors        map[string]int            `json:"errors,omitempty" yaml:"errors,omitempty"`
	StatusBuckets map[string]map[string]int `json:"status_buckets,omitempty" yaml:"status_buckets,omitempty"`
}

// BatchStats summarizes source fetches.
type BatchStats struct {
	Count       int64   `json:"count" yaml:"count"`
	Records     int64   `json:"records" yaml:"records"`
	Errors      int64   `json:"errors" yaml:"errors"`
	MeanSize    float64 `json:"mean_size" yaml:"mean_size"`
	MeanFetchMs float64 `json:"mean_fetch_ms" yaml:"mean_fetch_ms"`
	P99FetchMs  float64 `json:"p99_fetch_ms" yaml:"p99_fetch_ms"`
}

// DataPoint is one time-series sample taken by Snapshot.
type DataPoint struct {
	Timestamp   time.Time
	Total       int64
	Failed      int64
	ItemsPerSec float64 // over the interval since the previous snapshot
	P99Ms       float64
}

func NewCollector() *Collector {
	now := time.Now()
	return &Collector{
		// Track latencies from 1µs up to 60s with 3 significant figures.
		itemHist:      hdrhistogram.New(1, 60_000_000, 3),
		fetchHist:     hdrhistogram.New(1, 60_000_000, 3),
		errorsByType:  make(map[string]int64),
		statusBuckets: make(map[string]map[string]int),
		start:         now,
		lastAt:        now,
	}
}

// Start resets the clock used for throughput calculations.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.start = time.Now()
	c.lastAt = c.start
}

// Elapsed returns the time since Start.
func (c *Collector) Elapsed() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.start)
}

// ObserveItem records one processed item.
func (c *Collector) ObserveItem(r runner.ItemResult) {
	c.RecordItem(r.Duration, r.Err)
}

// ObserveBatch records one source fetch.
func (c *Collector) ObserveBatch(b runner.BatchResult) {
	c.RecordBatch(b.Size, b.Duration, b.Err)
}

// RecordItem records a single item's latency and outcome. Aborted items are
// counted as failures but kept out of the latency distribution.
func (c *Collector) RecordItem(latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if errors.Is(err, runner.ErrAborted) {
		c.failed++
		c.aborted++
		c.errorsByType[LabelAborted]++
		return
	}

	recordValue(c.itemHist, latency)
	c.sumLatency += latency
	if c.minLatency == 0 || latency < c.minLatency {
		c.minLatency = latency
	}
	if latency > c.maxLatency {
		c.maxLatency = latency
	}

	if err == nil {
		c.completed++
		return
	}
	c.failed++
	c.errorsByType[ErrorLabel(err)]++
	if protocol, code, ok := statusOf(err); ok {
		c.bucket(protocol, code)
	}
}

// bucket must be called with c.mu held.
func (c *Collector) bucket(protocol string, code int) {
	codes := c.statusBuckets[protocol]
	if codes == nil {
		codes = make(map[string]int)
		c.statusBuckets[protocol] = codes
	}
	codes[strconv.Itoa(code)]++
}

// RecordBatch records a single fetch from the source.
func (c *Collector) RecordBatch(size int, latency time.Duration, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	recordValue(c.fetchHist, latency)
	if err != nil {
		c.batchErrors++
	}
	if size > 0 {
		c.batches++
		c.batchRecords += int64(size)
	}
}

func recordValue(h *hdrhistogram.Histogram, latency time.Duration) {
	if latency <= 0 {
		return
	}
	us := latency.Microseconds()
	if us < h.LowestTrackableValue() {
		us = h.LowestTrackableValue()
	}
	if us > h.HighestTrackableValue() {
		us = h.HighestTrackableValue()
	}
	_ = h.RecordValue(us)
}

// Stats computes and returns current aggregated statistics.
func (c *Collector) Stats(elapsed time.Duration) Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.completed + c.failed
	stats := Stats{
		Total:      total,
		Completed:  c.completed,
		Failed:     c.failed,
		Aborted:    c.aborted,
		MinLatency: c.minLatency,
		MaxLatency: c.maxLatency,
	}

	if measured := total - c.aborted; measured > 0 {
		stats.MeanLatency = time.Duration(int64(c.sumLatency) / measured)
	}
	if c.itemHist.TotalCount() > 0 {
		stats.P50Latency = quantile(c.itemHist, 50)
		stats.P90Latency = quantile(c.itemHist, 90)
		stats.P95Latency = quantile(c.itemHist, 95)
		stats.P99Latency = quantile(c.itemHist, 99)
	}

	stats.MinLatencyMs = ms(stats.MinLatency)
	stats.MaxLatencyMs = ms(stats.MaxLatency)
	stats.MeanLatencyMs = ms(stats.MeanLatency)
	stats.P50LatencyMs = ms(stats.P50Latency)
	stats.P90LatencyMs = ms(stats.P90Latency)
	stats.P95LatencyMs = ms(stats.P95Latency)
	stats.P99LatencyMs = ms(stats.P99Latency)

	stats.Duration = elapsed
	stats.DurationMs = ms(elapsed)
	if elapsed > 0 && total > 0 {
		stats.ItemsPerSec = float64(total) / elapsed.Seconds()
	}
	if total > 0 {
		stats.FailureRate = float64(c.failed) / float64(total)
	}

	stats.Batches = BatchStats{
		Count:   c.batches,
		Records: c.batchRecords,
		Errors:  c.batchErrors,
	}
	if c.batches > 0 {
		stats.Batches.MeanSize = float64(c.batchRecords) / float64(c.batches)
	}
	if c.fetchHist.TotalCount() > 0 {
		stats.Batches.MeanFetchMs = c.fetchHist.Mean() / 1000
		stats.Batches.P99FetchMs = ms(quantile(c.fetchHist, 99))
	}

	if len(c.errorsByType) > 0 {
		stats.Errors = make(map[string]int, len(c.errorsByType))
		for k, v := range c.errorsByType {
			stats.Errors[k] = int(v)
		}
	}
	if len(c.statusBuckets) > 0 {
		stats.StatusBuckets = make(map[string]map[string]int, len(c.statusBuckets))
		for proto, codes := range c.statusBuckets {
			cp := make(map[string]int, len(codes))
			for code, n := range codes {
				cp[code] = n
			}
			stats.StatusBuckets[proto] = cp
		}
	}

	return stats
}

func quantile(h *hdrhistogram.Histogram, q float64) time.Duration {
	return time.Duration(h.ValueAtQuantile(q)) * time.Microsecond
}

func ms(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

// Snapshot appends a time-series sample. Call it periodically.
func (c *Collector) Snapshot() DataPoint {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	total := c.completed + c.failed
	point := DataPoint{Timestamp: now, Total: total, Failed: c.failed}
	if interval := now.Sub(c.lastAt); interval > 0 {
		point.ItemsPerSec = float64(total-c.lastTotal) / interval.Seconds()
	}
	if c.itemHist.TotalCount() > 0 {
		point.P99Ms = ms(quantile(c.itemHist, 99))
	}
	c.lastTotal = total
	c.lastAt = now

	c.history = append(c.history, point)
	if len(c.history) > maxHistory {
		c.history = c.history[len(c.history)-maxHistory:]
	}
	return point
}

// History returns a copy of the snapshots taken so far.
func (c *Collector) History() []DataPoint {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]DataPoint(nil), c.history...)
}
