package runner_test

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/source"
)

// sliceSource serves n numbered records, optionally failing after failAt.
type sliceSource struct {
	mu     sync.Mutex
	n      int
	next   int
	failAt int
	calls  int
	sizes  []int
}

func (s *sliceSource) Next(ctx context.Context, max int) ([]source.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	s.sizes = append(s.sizes, max)
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []source.Record
	for len(out) < max && s.next < s.n {
		if s.failAt > 0 && s.next == s.failAt {
			return out, errors.New("source broke")
		}
		out = append(out, source.Record{"id": strconv.Itoa(s.next)})
		s.next++
	}
	return out, nil
}

func (s *sliceSource) Close() error { return nil }

// fakeActor simulates processing with fixed latency.
type fakeActor struct {
	latency  time.Duration
	calls    atomic.Int64
	inFlight atomic.Int64
	peak     atomic.Int64
	fail     func(source.Record) bool
}

func (f *fakeActor) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	f.calls.Add(1)
	cur := f.inFlight.Add(1)
	defer f.inFlight.Add(-1)
	for {
		peak := f.peak.Load()
		if cur <= peak || f.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	if f.latency > 0 {
		select {
		case <-time.After(f.latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.fail != nil && f.fail(rec) {
		return nil, fmt.Errorf("item %s failed", rec["id"])
	}
	return source.Record{"echo": rec["id"]}, nil
}

type recordingObserver struct {
	mu      sync.Mutex
	batches []runner.BatchResult
	items   []runner.ItemResult
}

func (o *recordingObserver) ObserveBatch(b runner.BatchResult) {
	o.mu.Lock()
	o.batches = append(o.batches, b)
	o.mu.Unlock()
}

func (o *recordingObserver) ObserveItem(r runner.ItemResult) {
	o.mu.Lock()
	o.items = append(o.items, r)
	o.mu.Unlock()
}

func TestRunnerProcessesWholeSource(t *testing.T) {
	src := &sliceSource{n: 47}
	actor := &fakeActor{latency: time.Millisecond}
	obs := &recordingObserver{}

	r := runner.New(runner.Options{
		Source:      src,
		Actor:       actor,
		Concurrency: 4,
		BatchSize:   5,
		Observer:    obs,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Total != 47 || res.Completed != 47 || res.Failed != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Batches != 10 {
		t.Errorf("Batches = %d, want 10", res.Batches)
	}
	if actor.calls.Load() != 47 {
		t.Errorf("actor called %d times, want 47", actor.calls.Load())
	}
	if peak := actor.peak.Load(); peak > 4 {
		t.Errorf("peak concurrency %d exceeds limit 4", peak)
	}

	obs.mu.Lock()
	defer obs.mu.Unlock()
	seen := map[int64]bool{}
	for _, item := range obs.items {
		if item.Output["echo"] != item.Item.Record["id"] {
			t.Errorf("output %v does not match input %v", item.Output, item.Item.Record)
		}
		seen[item.Item.Seq] = true
	}
	if len(seen) != 47 || !seen[1] || !seen[47] {
		t.Errorf("sequence numbers not 1..47: %d distinct", len(seen))
	}
}

func TestRunnerEmptySource(t *testing.T) {
	src := &sliceSource{}
	actor := &fakeActor{}
	r := runner.New(runner.Options{Source: src, Actor: actor})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Total != 0 || res.Batches != 0 || actor.calls.Load() != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunnerRespectsTotalItems(t *testing.T) {
	src := &sliceSource{n: 100}
	actor := &fakeActor{}
	r := runner.New(runner.Options{
		Source:     src,
		Actor:      actor,
		BatchSize:  10,
		TotalItems: 25,
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Total != 25 {
		t.Fatalf("expected total 25, got %d", res.Total)
	}
	src.mu.Lock()
	defer src.mu.Unlock()
	if fmt.Sprint(src.sizes) != "[10 10 5]" {
		t.Errorf("requested batch sizes = %v, want [10 10 5]", src.sizes)
	}
}

func TestRunnerCountsFailures(t *testing.T) {
	src := &sliceSource{n: 20}
	actor := &fakeActor{fail: func(rec source.Record) bool {
		id, _ := strconv.Atoi(rec["id"])
		return id%4 == 0
	}}
	r := runner.New(runner.Options{Source: src, Actor: actor, Concurrency: 3, BatchSize: 3})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Completed != 15 || res.Failed != 5 || res.Aborted != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunnerSourceErrorEndsRun(t *testing.T) {
	src := &sliceSource{n: 50, failAt: 12}
	actor := &fakeActor{}
	obs := &recordingObserver{}
	r := runner.New(runner.Options{Source: src, Actor: actor, BatchSize: 5, Observer: obs})

	res, err := r.Run(context.Background())
	if err == nil || !strings.Contains(err.Error(), "source broke") {
		t.Fatalf("expected source error, got %v", err)
	}
	// Records read before the failure are still processed.
	if res.Total != 12 {
		t.Fatalf("expected 12 items processed, got %d", res.Total)
	}
	obs.mu.Lock()
	defer obs.mu.Unlock()
	var failed int
	for _, b := range obs.batches {
		if b.Err != nil {
			failed++
		}
	}
	if failed != 1 {
		t.Errorf("observed %d failed batches, want 1", failed)
	}
}

func TestRunnerHonorsDuration(t *testing.T) {
	src := &sliceSource{n: 1_000_000}
	actor := &fakeActor{latency: 5 * time.Millisecond}
	r := runner.New(runner.Options{
		Source:      src,
		Actor:       actor,
		Concurrency: 10,
		BatchSize:   20,
		Duration:    50 * time.Millisecond,
	})
	start := time.Now()
	res, err := r.Run(context.Background())
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if elapsed < 50*time.Millisecond || elapsed > 500*time.Millisecond {
		t.Fatalf("duration enforcement off: %s", elapsed)
	}
	if !res.Interrupted {
		t.Error("expected Interrupted")
	}
	if res.Completed == 0 {
		t.Error("expected some items completed")
	}
	if res.Total != res.Completed+res.Failed {
		t.Errorf("inconsistent result %+v", res)
	}
}

func TestRunnerCancellationAbortsRemaining(t *testing.T) {
	src := &sliceSource{n: 30}
	block := make(chan struct{})
	started := make(chan struct{}, 30)
	actor := runner.ActorFunc(func(ctx context.Context, rec source.Record) (source.Record, error) {
		started <- struct{}{}
		select {
		case <-block:
			return nil, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	ctx, cancel := context.WithCancel(context.Background())
	r := runner.New(runner.Options{Source: src, Actor: actor, Concurrency: 2, BatchSize: 10})

	done := make(chan runner.Result, 1)
	go func() {
		res, _ := r.Run(ctx)
		done <- res
	}()
	<-started
	<-started
	cancel()

	select {
	case res := <-done:
		if res.Completed != 0 {
			t.Errorf("Completed = %d, want 0", res.Completed)
		}
		if res.Aborted != res.Total || res.Total == 0 {
			t.Errorf("expected every processed item aborted, got %+v", res)
		}
		if res.Total > 10 {
			t.Errorf("fetched past the first batch: %+v", res)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after cancellation")
	}
	close(block)
}

func TestRunnerPauseAndResume(t *testing.T) {
	src := &sliceSource{n: 6}
	actor := &fakeActor{}
	limit := runner.NewLimit(0)
	r := runner.New(runner.Options{Source: src, Actor: actor, Limit: limit, BatchSize: 3})

	done := make(chan runner.Result, 1)
	go func() {
		res, _ := r.Run(context.Background())
		done <- res
	}()

	deadline := time.Now().Add(time.Second)
	for r.Stats().Remaining != 3 {
		if time.Now().After(deadline) {
			t.Fatalf("first batch never buffered: %+v", r.Stats())
		}
		time.Sleep(time.Millisecond)
	}
	select {
	case <-done:
		t.Fatal("run finished while paused")
	case <-time.After(20 * time.Millisecond):
	}
	if actor.calls.Load() != 0 {
		t.Fatalf("actor called while paused")
	}

	limit.Resume()
	select {
	case res := <-done:
		if res.Completed != 6 {
			t.Fatalf("Completed = %d, want 6", res.Completed)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("run did not finish after Resume")
	}
}

func TestRunnerRateLimiterCapsThroughput(t *testing.T) {
	src := &sliceSource{n: 1000}
	actor := &fakeActor{}
	rateLimit := 100
	duration := 100 * time.Millisecond
	r := runner.New(runner.Options{
		Source:         src,
		Actor:          actor,
		Concurrency:    20,
		BatchSize:      50,
		Duration:       duration,
		RatePerSecond:  rateLimit,
		LimiterFactory: func(rps int) *rate.Limiter { return rate.NewLimiter(rate.Limit(rps), 1) },
	})
	res, err := r.Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	maxExpected := int64(float64(rateLimit) * (float64(duration) / float64(time.Second)) * 1.20)
	if res.Completed > maxExpected {
		t.Fatalf("rate limiter exceeded: completed=%d max=%d", res.Completed, maxExpected)
	}
	if actor.calls.Load() != res.Completed {
		t.Fatalf("calls mismatch: %d vs %d", actor.calls.Load(), res.Completed)
	}
}

func TestRunnerRequiresSourceAndActor(t *testing.T) {
	if _, err := runner.New(runner.Options{}).Run(context.Background()); err == nil {
		t.Fatal("expected error without source and actor")
	}
}

func TestRunnerExposesSequenceToActor(t *testing.T) {
	src := &sliceSource{n: 9}
	var mu sync.Mutex
	seen := make(map[int64]bool)
	actor := runner.ActorFunc(func(ctx context.Context, rec source.Record) (source.Record, error) {
		seq, ok := runner.SeqFromContext(ctx)
		if !ok {
			return nil, fmt.Errorf("no sequence for %s", rec["id"])
		}
		mu.Lock()
		seen[seq] = true
		mu.Unlock()
		return nil, nil
	})

	res, err := runner.New(runner.Options{Source: src, Actor: actor, Concurrency: 3, BatchSize: 4}).Run(context.Background())
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Failed != 0 {
		t.Fatalf("expected no failures, got %d", res.Failed)
	}
	for seq := int64(1); seq <= 9; seq++ {
		if !seen[seq] {
			t.Errorf("sequence %d not seen", seq)
		}
	}
	if _, ok := runner.SeqFromContext(context.Background()); ok {
		t.Error("expected no sequence on a bare context")
	}
}
