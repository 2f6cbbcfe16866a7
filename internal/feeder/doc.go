// Package feeder provides a generic coordinator that pulls items in batches and
// acts on them with bounded concurrency.
//
// A [Feeder] is driven by two caller-supplied operations:
//
//   - Get produces the next batch of items and hands it to a completion
//     callback. An empty batch means the input is exhausted.
//   - Act processes a single item and reports the outcome to a completion
//     callback.
//
// Both callbacks may be invoked synchronously (before Get or Act returns) or
// asynchronously (later, from any goroutine). The Feeder is correct under
// either style and never blocks waiting for work.
//
// # Basic Usage
//
//	f := feeder.New(feeder.Options[int]{
//		Get: func(done func([]int)) {
//			done(source.NextBatch())
//		},
//		Act: func(item int, done func(int, error)) {
//			go func() { done(item, process(item)) }()
//		},
//		Concurrency: func() int { return 4 },
//		OnComplete:  func() { close(finished) },
//	})
//	f.Start()
//	<-finished
//
// # Scheduling
//
// ScheduleGet and ScheduleAct decide where the fetch and dispatch steps run.
// The default runs them inline on the calling goroutine. [SpawnFetch] and
// [SpawnDispatch] run them on fresh goroutines, which keeps stack depth flat
// when Get and Act complete synchronously over many batches.
//
// # Pausing and Cancellation
//
// Concurrency is re-evaluated on every dispatch decision. Returning 0 pauses
// dispatch without touching in-flight work; raise it again and call
// [Feeder.Nudge] to resume. To abort, replace the act operation with
// [Feeder.SetAct] so remaining items report failure immediately.
package feeder
