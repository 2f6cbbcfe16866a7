// Package dashboard renders a live terminal view of a feed run and lets the
// operator pause, resume and resize its concurrency.
package dashboard

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/torosent/crankfeed/internal/feeder"
	"github.com/torosent/crankfeed/internal/metrics"
	"github.com/torosent/crankfeed/internal/runner"
)

const (
	refreshInterval = 500 * time.Millisecond
	sparklinePoints = 100
	maxListRows     = 10
)

// RunConfig describes the run for the summary panel.
type RunConfig struct {
	Source      string // e.g. "csv users.csv"
	Action      string // e.g. "http POST https://api/users"
	Concurrency int
	BatchSize   int
	Total       int
	Rate        int
	Duration    time.Duration
	Timeout     time.Duration
	Retries     int
	ConfigFile  string
}

// Controls connects the dashboard to the running pipeline.
type Controls struct {
	Pipeline func() feeder.Stats // live feeder counters
	Limit    *runner.Limit       // adjusted by the p, + and - keys
	Shutdown func()              // called on q or Ctrl-C
}

// Dashboard renders a live terminal UI for feed metrics.
type Dashboard struct {
	collector *metrics.Collector
	controls  Controls
	cfg       RunConfig
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.Mutex
	startTime time.Time

	grid         *ui.Grid
	summaryPara  *widgets.Paragraph
	pipelinePara *widgets.Paragraph
	limitGauge   *widgets.Gauge
	throughput   *widgets.SparklineGroup
	latencyPara  *widgets.Paragraph
	batchPara    *widgets.Paragraph
	errorList    *widgets.List
	statusList   *widgets.List
}

// New initializes the terminal and lays out the widgets.
func New(collector *metrics.Collector, cfg RunConfig, controls Controls) (*Dashboard, error) {
	if err := ui.Init(); err != nil {
		return nil, fmt.Errorf("failed to initialize termui: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dashboard{
		collector: collector,
		controls:  controls,
		cfg:       cfg,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	d.initWidgets()
	d.setupGrid()
	return d, nil
}

func (d *Dashboard) initWidgets() {
	d.summaryPara = widgets.NewParagraph()
	d.summaryPara.Title = "Feed"
	d.summaryPara.Text = "Initializing..."
	d.summaryPara.BorderStyle.Fg = ui.ColorCyan

	d.pipelinePara = widgets.NewParagraph()
	d.pipelinePara.Title = "Pipeline"
	d.pipelinePara.Text = "Waiting for first batch..."
	d.pipelinePara.BorderStyle.Fg = ui.ColorCyan

	d.limitGauge = widgets.NewGauge()
	d.limitGauge.Title = "In Flight / Limit  [p] pause  [+/-] resize  [q] quit"
	d.limitGauge.BarColor = ui.ColorBlue
	d.limitGauge.BorderStyle.Fg = ui.ColorCyan
	d.limitGauge.LabelStyle = ui.NewStyle(ui.ColorWhite)

	spark := widgets.NewSparkline()
	spark.Title = "items/sec"
	spark.LineColor = ui.ColorGreen
	spark.Data = []float64{0}
	d.throughput = widgets.NewSparklineGroup(spark)
	d.throughput.Title = "Throughput"
	d.throughput.BorderStyle.Fg = ui.ColorCyan

	d.latencyPara = widgets.NewParagraph()
	d.latencyPara.Title = "Item Latency"
	d.latencyPara.BorderStyle.Fg = ui.ColorCyan

	d.batchPara = widgets.NewParagraph()
	d.batchPara.Title = "Source Fetches"
	d.batchPara.BorderStyle.Fg = ui.ColorCyan

	d.errorList = widgets.NewList()
	d.errorList.Title = "Errors"
	d.errorList.Rows = []string{"[No failures](fg:green)"}
	d.errorList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.errorList.BorderStyle.Fg = ui.ColorCyan

	d.statusList = widgets.NewList()
	d.statusList.Title = "Status Buckets"
	d.statusList.Rows = []string{"[No failures](fg:green)"}
	d.statusList.TextStyle = ui.NewStyle(ui.ColorYellow)
	d.statusList.BorderStyle.Fg = ui.ColorCyan
}

func (d *Dashboard) setupGrid() {
	termWidth, termHeight := ui.TerminalDimensions()

	d.grid = ui.NewGrid()
	d.grid.SetRect(0, 0, termWidth, termHeight)
	d.grid.Set(
		ui.NewRow(0.14,
			ui.NewCol(1.0, d.summaryPara),
		),
		ui.NewRow(0.18,
			ui.NewCol(0.5, d.pipelinePara),
			ui.NewCol(0.5, d.limitGauge),
		),
		ui.NewRow(0.28,
			ui.NewCol(0.65, d.throughput),
			ui.NewCol(0.35, d.latencyPara),
		),
		ui.NewRow(0.40,
			ui.NewCol(0.3, d.batchPara),
			ui.NewCol(0.4, d.errorList),
			ui.NewCol(0.3, d.statusList),
		),
	)
}

// Start begins the update loop.
func (d *Dashboard) Start() {
	d.wg.Add(1)
	go d.run()
}

// Stop ends the update loop and restores the terminal.
func (d *Dashboard) Stop() {
	d.cancel()
	d.wg.Wait()
	ui.Close()
	time.Sleep(100 * time.Millisecond)
}

func (d *Dashboard) run() {
	defer d.wg.Done()

	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()

	uiEvents := ui.PollEvents()
	d.render()

	for {
		select {
		case <-d.ctx.Done():
			return
		case e := <-uiEvents:
			if e.ID == "<Resize>" {
				payload := e.Payload.(ui.Resize)
				d.mu.Lock()
				d.grid.SetRect(0, 0, payload.Width, payload.Height)
				d.mu.Unlock()
				ui.Clear()
				d.render()
				continue
			}
			if d.handleKey(e.ID) {
				d.update()
				d.render()
			}
		case <-ticker.C:
			d.update()
			d.render()
		}
	}
}

// handleKey applies an operator key and reports whether it changed anything.
func (d *Dashboard) handleKey(id string) bool {
	switch id {
	case "q", "<C-c>":
		if d.controls.Shutdown != nil {
			d.controls.Shutdown()
		}
		return true
	}

	limit := d.controls.Limit
	if limit == nil {
		return false
	}
	switch id {
	case "p", "<Space>":
		if limit.Paused() {
			limit.Resume()
		} else {
			limit.Pause()
		}
	case "+", "=":
		if limit.Paused() {
			limit.Resume()
		} else {
			limit.Set(limit.Get() + 1)
		}
	case "-", "_":
		// Dropping to zero is a pause; use p for that.
		if n := limit.Get(); n > 1 {
			limit.Set(n - 1)
		}
	default:
		return false
	}
	return true
}

func (d *Dashboard) update() {
	point := d.collector.Snapshot()
	stats := d.collector.Stats(d.collector.Elapsed())

	var pipe feeder.Stats
	if d.controls.Pipeline != nil {
		pipe = d.controls.Pipeline()
	}
	limit, paused := 0, false
	if d.controls.Limit != nil {
		limit, paused = d.controls.Limit.Get(), d.controls.Limit.Paused()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.summaryPara.Text = fmt.Sprintf("%s\n%s\nElapsed: %s | Items: %d | Completed: %d | Failed: %d",
		d.cfg.Source+"  ->  "+d.cfg.Action,
		formatRunParams(d.cfg),
		time.Since(d.startTime).Round(time.Second),
		stats.Total, stats.Completed, stats.Failed,
	)

	d.pipelinePara.Text = pipelineText(pipe, limit, paused)
	d.limitGauge.Percent = limitPercent(pipe.Processing, limit)
	d.limitGauge.Label = limitLabel(pipe.Processing, limit, paused)
	if paused {
		d.limitGauge.BarColor = ui.ColorYellow
	} else {
		d.limitGauge.BarColor = ui.ColorBlue
	}

	d.throughput.Sparklines[0].Data = throughputSeries(d.collector.History(), sparklinePoints)
	d.throughput.Title = fmt.Sprintf("Throughput | Now: %.1f/s | Overall: %.1f/s", point.ItemsPerSec, stats.ItemsPerSec)

	d.latencyPara.Text = fmt.Sprintf(
		"Min:  %.2fms\nMean: %.2fms\nP50:  %.2fms\nP90:  %.2fms\nP95:  %.2fms\nP99:  %.2fms\nMax:  %.2fms",
		stats.MinLatencyMs, stats.MeanLatencyMs, stats.P50LatencyMs,
		stats.P90LatencyMs, stats.P95LatencyMs, stats.P99LatencyMs, stats.MaxLatencyMs,
	)

	d.batchPara.Text = fmt.Sprintf(
		"Batches:    %d\nRecords:    %d\nMean size:  %.1f\nMean fetch: %.2fms\nP99 fetch:  %.2fms\nErrors:     %d",
		stats.Batches.Count, stats.Batches.Records, stats.Batches.MeanSize,
		stats.Batches.MeanFetchMs, stats.Batches.P99FetchMs, stats.Batches.Errors,
	)

	d.errorList.Rows = formatErrorRows(stats.Errors)
	d.statusList.Rows = formatStatusListRows(stats.StatusBuckets)
}

func (d *Dashboard) render() {
	d.mu.Lock()
	defer d.mu.Unlock()
	ui.Render(d.grid)
}

func pipelineText(pipe feeder.Stats, limit int, paused bool) string {
	state := "running"
	switch {
	case paused:
		state = "[paused](fg:yellow)"
	case pipe.Getting:
		state = "fetching"
	}
	return fmt.Sprintf("State:      %s\nBuffered:   %d\nIn flight:  %d / %d\nRemaining:  %d\nDone:       %d ok, %d failed",
		state, pipe.Buffered, pipe.Processing, limit, pipe.Remaining, pipe.Completed, pipe.Failed)
}

func limitPercent(inFlight, limit int) int {
	if limit <= 0 {
		return 0
	}
	pct := inFlight * 100 / limit
	if pct > 100 {
		return 100
	}
	return pct
}

func limitLabel(inFlight, limit int, paused bool) string {
	if paused {
		return fmt.Sprintf("paused (%d in flight)", inFlight)
	}
	return fmt.Sprintf("%d / %d", inFlight, limit)
}

// throughputSeries returns the last n items/sec samples, never empty.
func throughputSeries(history []metrics.DataPoint, n int) []float64 {
	if len(history) > n {
		history = history[len(history)-n:]
	}
	out := make([]float64, 0, len(history))
	for _, p := range history {
		out = append(out, p.ItemsPerSec)
	}
	if len(out) == 0 {
		return []float64{0}
	}
	return out
}

func formatErrorRows(errs map[string]int) []string {
	if len(errs) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	names := make([]string, 0, len(errs))
	for name := range errs {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if errs[names[i]] == errs[names[j]] {
			return names[i] < names[j]
		}
		return errs[names[i]] > errs[names[j]]
	})
	if len(names) > maxListRows {
		names = names[:maxListRows]
	}
	rows := make([]string, 0, len(names))
	for _, name := range names {
		rows = append(rows, fmt.Sprintf("[%s](fg:red) %d", name, errs[name]))
	}
	return rows
}

func formatStatusListRows(buckets map[string]map[string]int) []string {
	rows := metrics.FlattenStatusBuckets(buckets)
	if len(rows) == 0 {
		return []string{"[No failures](fg:green)"}
	}
	if len(rows) > maxListRows {
		rows = rows[:maxListRows]
	}
	formatted := make([]string, 0, len(rows))
	for _, row := range rows {
		formatted = append(formatted, fmt.Sprintf("[%s %s](fg:red) %d", strings.ToUpper(row.Protocol), row.Code, row.Count))
	}
	return formatted
}

func formatRunParams(cfg RunConfig) string {
	var parts []string
	if cfg.Concurrency > 0 {
		parts = append(parts, fmt.Sprintf("Concurrency: %d", cfg.Concurrency))
	}
	if cfg.BatchSize > 0 {
		parts = append(parts, fmt.Sprintf("Batch: %d", cfg.BatchSize))
	}
	if cfg.Rate > 0 {
		parts = append(parts, fmt.Sprintf("Rate: %d/s", cfg.Rate))
	} else {
		parts = append(parts, "Rate: unlimited")
	}
	if cfg.Total > 0 {
		parts = append(parts, fmt.Sprintf("Total: %d", cfg.Total))
	}
	if cfg.Duration > 0 {
		parts = append(parts, fmt.Sprintf("Duration: %s", cfg.Duration))
	}
	if cfg.Timeout > 0 {
		parts = append(parts, fmt.Sprintf("Timeout: %s", cfg.Timeout))
	}
	if cfg.Retries > 0 {
		parts = append(parts, fmt.Sprintf("Retries: %d", cfg.Retries))
	}
	if cfg.ConfigFile != "" {
		parts = append(parts, fmt.Sprintf("Config: %s", cfg.ConfigFile))
	}
	return strings.Join(parts, " | ")
}
