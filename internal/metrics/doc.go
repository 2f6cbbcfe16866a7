// Package metrics aggregates item and batch outcomes of a crankfeed run.
//
// A [Collector] implements runner.Observer, so it can be passed directly as
// the runner's observer:
//
//	collector := metrics.NewCollector()
//	collector.Start()
//	r := runner.New(runner.Options{Source: src, Actor: act, Observer: collector})
//	res, err := r.Run(ctx)
//	stats := collector.Stats(res.Duration)
//
// Item latencies and fetch latencies are tracked in HDR histograms with
// microsecond resolution. Aborted items count as failures but are excluded
// from the latency distribution.
//
// # Time-Series Data
//
// [Collector.Snapshot] appends a sample to a bounded history. The progress
// reporter and dashboard call it once per tick:
//
//	collector.Snapshot()
//	history := collector.History()
package metrics
