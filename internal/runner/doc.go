// Package runner drives a record source through an action with bounded
// concurrency.
//
// A Runner pulls records from a [source.Source] in batches and hands each
// one to an [Actor], keeping at most [Limit] items in flight. Batching and
// dispatch are coordinated by [feeder.Feeder]; the runner supplies the get
// and act operations, each running on its own goroutine.
//
// # Basic Usage
//
//	src, _ := source.NewCSVSource("users.csv")
//	r := runner.New(runner.Options{
//		Source:      src,
//		Actor:       myActor,
//		Concurrency: 8,
//		BatchSize:   50,
//	})
//	result, err := r.Run(ctx)
//
// # Actor Interface
//
//	type Actor interface {
//		Do(ctx context.Context, rec source.Record) (source.Record, error)
//	}
//
// The returned record carries values produced by the action, such as fields
// extracted from an HTTP response.
//
// # Flow Control
//
// [Limit] can be changed while a run is in progress. [Limit.Pause] stops new
// dispatches without interrupting in-flight items and [Limit.Resume] restores
// the previous limit. RatePerSecond paces item starts with a uniform
// (token bucket) or Poisson arrival model.
//
// # Errors and Cancellation
//
// A source error ends the run like exhaustion: records already fetched are
// processed and Run returns the error with the result. When the context ends
// or Duration elapses, in-flight items finish and every remaining item is
// reported with [ErrAborted].
//
// # Middleware
//
//   - [WithLogging]: Log item failures
//   - [WithRetry]: Automatic retry with backoff
//
// The [HTTPError] type provides structured error information for HTTP actions:
//
//	var httpErr *runner.HTTPError
//	if errors.As(err, &httpErr) {
//		fmt.Printf("Status: %d, Body: %s\n", httpErr.StatusCode, httpErr.Body)
//	}
package runner
