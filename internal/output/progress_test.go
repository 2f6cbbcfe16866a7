package output

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/torosent/crankfeed/internal/feeder"
	"github.com/torosent/crankfeed/internal/metrics"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (s *syncBuffer) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *syncBuffer) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.String()
}

func TestProgressLine(t *testing.T) {
	stats := metrics.Stats{Total: 12, Completed: 10, Failed: 2, P99LatencyMs: 4.25}
	point := metrics.DataPoint{ItemsPerSec: 6}

	line := progressLine(stats, point, nil)
	if line != "Items: 12 | Completed: 10 | Failed: 2 | Items/sec: 6.0 | P99 4.2ms" &&
		line != "Items: 12 | Completed: 10 | Failed: 2 | Items/sec: 6.0 | P99 4.3ms" {
		t.Errorf("unexpected line %q", line)
	}

	line = progressLine(stats, point, &feeder.Stats{Buffered: 7, Processing: 3, Getting: true})
	if !strings.Contains(line, "Buffered: 7 | In flight: 3 | Fetching") {
		t.Errorf("expected pipeline counters, got %q", line)
	}
}

func TestProgressReporterStopWithoutStart(t *testing.T) {
	reporter := NewProgressReporter(metrics.NewCollector(), nil, 100*time.Millisecond, nil)
	if reporter == nil {
		t.Fatal("Expected non-nil reporter")
	}
	reporter.Stop()
}

func TestProgressReporterWritesUpdates(t *testing.T) {
	collector := metrics.NewCollector()
	collector.Start()
	collector.RecordItem(50*time.Millisecond, nil)

	var buf syncBuffer
	pipeline := func() feeder.Stats { return feeder.Stats{Buffered: 4, Processing: 1} }
	reporter := NewProgressReporter(collector, pipeline, 20*time.Millisecond, &buf)
	reporter.Start()
	reporter.Start()

	time.Sleep(100 * time.Millisecond)
	reporter.Stop()
	reporter.Stop()

	output := buf.String()
	if !strings.Contains(output, "Items: 1") {
		t.Errorf("Expected 'Items: 1' in progress output, got %q", output)
	}
	if !strings.Contains(output, "Buffered: 4") {
		t.Errorf("Expected pipeline stats in progress output, got %q", output)
	}
	if len(collector.History()) == 0 {
		t.Error("expected reporter to take snapshots")
	}
}
