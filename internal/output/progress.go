package output

import (
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/torosent/crankfeed/internal/feeder"
	"github.com/torosent/crankfeed/internal/metrics"
)

// PipelineFunc reports the live feeder counters of the run.
type PipelineFunc func() feeder.Stats

// ProgressReporter displays real-time progress updates.
type ProgressReporter struct {
	collector *metrics.Collector
	pipeline  PipelineFunc
	ticker    *time.Ticker
	done      chan struct{}
	finished  chan struct{}
	writer    io.Writer
	active    int32
}

// NewProgressReporter creates a progress reporter that updates at the given
// interval. pipeline may be nil.
func NewProgressReporter(collector *metrics.Collector, pipeline PipelineFunc, interval time.Duration, writer io.Writer) *ProgressReporter {
	if writer == nil {
		writer = io.Discard
	}
	return &ProgressReporter{
		collector: collector,
		pipeline:  pipeline,
		ticker:    time.NewTicker(interval),
		done:      make(chan struct{}),
		finished:  make(chan struct{}),
		writer:    writer,
	}
}

// Start begins displaying progress updates in a background goroutine.
func (p *ProgressReporter) Start() {
	if !atomic.CompareAndSwapInt32(&p.active, 0, 1) {
		return // already running
	}
	go p.run()
}

// Stop halts progress updates.
func (p *ProgressReporter) Stop() {
	if atomic.CompareAndSwapInt32(&p.active, 1, 0) {
		close(p.done)
		p.ticker.Stop()
		<-p.finished
	}
}

func (p *ProgressReporter) run() {
	defer close(p.finished)
	for {
		select {
		case <-p.ticker.C:
			point := p.collector.Snapshot()
			stats := p.collector.Stats(p.collector.Elapsed())
			var pipe *feeder.Stats
			if p.pipeline != nil {
				s := p.pipeline()
				pipe = &s
			}
			fmt.Fprint(p.writer, "\r"+progressLine(stats, point, pipe))
		case <-p.done:
			return
		}
	}
}

func progressLine(stats metrics.Stats, point metrics.DataPoint, pipe *feeder.Stats) string {
	line := fmt.Sprintf("Items: %d | Completed: %d | Failed: %d | Items/sec: %.1f",
		stats.Total, stats.Completed, stats.Failed, point.ItemsPerSec)
	if pipe != nil {
		line += fmt.Sprintf(" | Buffered: %d | In flight: %d", pipe.Buffered, pipe.Processing)
		if pipe.Getting {
			line += " | Fetching"
		}
	}
	if stats.P99LatencyMs > 0 {
		line += fmt.Sprintf(" | P99 %.1fms", stats.P99LatencyMs)
	}
	return line
}
