package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/torosent/crankfeed/internal/feeder"
)

// ErrAborted is reported for items that were not processed because the run
// was cancelled or its duration elapsed.
var ErrAborted = errors.New("aborted")

// Result captures execution summary.
type Result struct {
	Total       int64 // items that reached a final outcome
	Completed   int64
	Failed      int64 // includes Aborted
	Aborted     int64
	Batches     int64 // non-empty fetches
	Duration    time.Duration
	Interrupted bool // the context ended before the source was exhausted
}

// Runner pulls records from a Source in batches and hands each to an Actor,
// keeping at most Limit items in flight.
type Runner struct {
	opt  Options
	pace pacer

	current atomic.Pointer[feeder.Feeder[Item]]
}

func New(opt Options) *Runner {
	opt.normalize()
	return &Runner{opt: opt, pace: newPacer(opt)}
}

// Limit returns the runner's concurrency limit.
func (r *Runner) Limit() *Limit {
	return r.opt.Limit
}

// Stats returns the live counters of the run in progress, or of the last
// run once it has finished.
func (r *Runner) Stats() feeder.Stats {
	if f := r.current.Load(); f != nil {
		return f.Stats()
	}
	return feeder.Stats{}
}

// run holds per-run state shared by fetches and acts.
type run struct {
	fetched   atomic.Int64
	batches   atomic.Int64
	aborted   atomic.Int64
	exhausted atomic.Bool

	errOnce  sync.Once
	fetchErr error
}

func (s *run) fail(err error) {
	s.errOnce.Do(func() { s.fetchErr = err })
}

// Run processes the source until it is exhausted or ctx ends. Source errors
// end the run like exhaustion and are returned alongside the result; items
// already fetched are still processed. When ctx ends, in-flight items finish
// and every buffered item is reported with ErrAborted. Records still in the
// source are not fetched.
func (r *Runner) Run(ctx context.Context) (Result, error) {
	if r.opt.Source == nil || r.opt.Actor == nil {
		return Result{}, errors.New("runner: source and actor are required")
	}

	start := time.Now()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if r.opt.Duration > 0 {
		deadlineCtx, deadlineCancel := context.WithTimeout(ctx, r.opt.Duration)
		ctx = deadlineCtx
		defer deadlineCancel()
	}

	st := &run{}
	finished := make(chan struct{})
	var once sync.Once

	f := feeder.New(feeder.Options[Item]{
		Get: func(deliver func([]Item)) {
			go func() { deliver(r.fetch(ctx, st)) }()
		},
		Act: func(item Item, report func(Item, error)) {
			go func() { report(item, r.process(ctx, st, item)) }()
		},
		Concurrency: r.opt.Limit.Get,
		OnComplete:  func() { once.Do(func() { close(finished) }) },
	})
	r.current.Store(f)
	r.opt.Limit.attach(f.Nudge)
	defer r.opt.Limit.attach(nil)

	f.Start()

	interrupted := false
	select {
	case <-finished:
	case <-ctx.Done():
		interrupted = true
		r.abort(f, st)
		<-finished
	}

	stats := f.Stats()
	res := Result{
		Total:       int64(stats.Completed + stats.Failed),
		Completed:   int64(stats.Completed),
		Failed:      int64(stats.Failed),
		Aborted:     st.aborted.Load(),
		Batches:     st.batches.Load(),
		Duration:    time.Since(start),
		Interrupted: interrupted && !st.exhausted.Load(),
	}
	return res, st.fetchErr
}

// abort makes every later fetch empty and every later dispatch fail fast,
// then makes sure dispatch is not left paused.
func (r *Runner) abort(f *feeder.Feeder[Item], st *run) {
	f.SetGet(func(deliver func([]Item)) { deliver(nil) })
	f.SetAct(func(item Item, report func(Item, error)) {
		st.aborted.Add(1)
		r.opt.Observer.ObserveItem(ItemResult{Item: item, Err: ErrAborted, Started: time.Now()})
		report(item, ErrAborted)
	})
	r.opt.Limit.Resume()
	f.Nudge()
}

func (r *Runner) fetch(ctx context.Context, st *run) []Item {
	if st.exhausted.Load() || ctx.Err() != nil {
		return nil
	}

	want := r.opt.BatchSize
	if r.opt.TotalItems > 0 {
		left := r.opt.TotalItems - int(st.fetched.Load())
		if left <= 0 {
			st.exhausted.Store(true)
			return nil
		}
		if left < want {
			want = left
		}
	}

	started := time.Now()
	recs, err := r.opt.Source.Next(ctx, want)
	if len(recs) > want {
		recs = recs[:want]
	}
	r.opt.Observer.ObserveBatch(BatchResult{Size: len(recs), Duration: time.Since(started), Err: err})

	if err != nil {
		if ctx.Err() == nil {
			st.fail(fmt.Errorf("fetch batch: %w", err))
			st.exhausted.Store(true)
		}
		// Records read before the error are still processed.
	}
	if len(recs) == 0 {
		if err == nil {
			st.exhausted.Store(true)
		}
		return nil
	}

	st.batches.Add(1)
	base := st.fetched.Add(int64(len(recs))) - int64(len(recs))
	items := make([]Item, len(recs))
	for i, rec := range recs {
		items[i] = Item{Seq: base + int64(i) + 1, Record: rec}
	}
	return items
}

func (r *Runner) process(ctx context.Context, st *run, item Item) error {
	if r.pace != nil {
		if err := r.pace.Wait(ctx); err != nil {
			st.aborted.Add(1)
			r.opt.Observer.ObserveItem(ItemResult{Item: item, Err: ErrAborted, Started: time.Now()})
			return ErrAborted
		}
	}
	if ctx.Err() != nil {
		st.aborted.Add(1)
		r.opt.Observer.ObserveItem(ItemResult{Item: item, Err: ErrAborted, Started: time.Now()})
		return ErrAborted
	}

	started := time.Now()
	out, err := r.opt.Actor.Do(withSeq(ctx, item.Seq), item.Record)
	elapsed := time.Since(started)
	if err != nil && ctx.Err() != nil && !errors.Is(err, ErrAborted) {
		err = fmt.Errorf("%w: %v", ErrAborted, err)
	}
	if errors.Is(err, ErrAborted) {
		st.aborted.Add(1)
	}
	r.opt.Observer.ObserveItem(ItemResult{
		Item:     item,
		Output:   out,
		Err:      err,
		Started:  started,
		Duration: elapsed,
	})
	return err
}
