package feeder

import (
	"sync"
	"sync/atomic"
)

// DefaultConcurrency is the act limit used when Options.Concurrency is nil.
const DefaultConcurrency = 2

// GetFunc produces the next batch of items and must call done exactly once.
type GetFunc[T any] func(done func(items []T))

// ActFunc processes one item and must call done exactly once for it.
type ActFunc[T any] func(item T, done func(item T, err error))

// Options configure a Feeder.
type Options[T any] struct {
	ScheduleGet func(*Feeder[T]) // runs the fetch step; nil means inline
	Get         GetFunc[T]       // required
	ScheduleAct func(*Feeder[T]) // runs the dispatch step; nil means inline
	Act         ActFunc[T]       // required
	Concurrency func() int       // max outstanding acts, sampled per dispatch; nil means DefaultConcurrency
	OnComplete  func()           // called once per run when all work has resolved
}

// Stats is a point-in-time view of the feeder's counters.
type Stats struct {
	Buffered   int
	Remaining  int
	Getting    bool
	Processing int
	Completed  int
	Failed     int
}

// Feeder pulls batches through Get and hands each item to Act, keeping at
// most Concurrency() acts outstanding. It is safe for concurrent use.
type Feeder[T any] struct {
	scheduleGet func(*Feeder[T])
	scheduleAct func(*Feeder[T])
	concurrency func() int
	onComplete  func()

	get atomic.Pointer[GetFunc[T]]
	act atomic.Pointer[ActFunc[T]]

	mu sync.Mutex
	st state[T]
}

type state[T any] struct {
	buffer      []T
	remaining   []T
	getting     bool
	processing  int
	completed   int
	failed      int
	notified    bool
	dispatching bool
}

func (s *state[T]) done() bool {
	return !s.getting && len(s.remaining) == 0 && s.processing == 0
}

// New creates a Feeder. It panics if Get or Act is nil.
func New[T any](opt Options[T]) *Feeder[T] {
	if opt.Get == nil || opt.Act == nil {
		panic("feeder: Get and Act are required")
	}
	f := &Feeder[T]{
		scheduleGet: opt.ScheduleGet,
		scheduleAct: opt.ScheduleAct,
		concurrency: opt.Concurrency,
		onComplete:  opt.OnComplete,
	}
	if f.scheduleGet == nil {
		f.scheduleGet = (*Feeder[T]).Fetch
	}
	if f.scheduleAct == nil {
		f.scheduleAct = (*Feeder[T]).Dispatch
	}
	if f.concurrency == nil {
		f.concurrency = func() int { return DefaultConcurrency }
	}
	if f.onComplete == nil {
		f.onComplete = func() {}
	}
	f.SetGet(opt.Get)
	f.SetAct(opt.Act)
	return f
}

// Start schedules a fetch. A fetch that is already outstanding is not
// duplicated. Calling Start on a finished feeder begins a new run.
func (f *Feeder[T]) Start() {
	f.mu.Lock()
	if f.st.done() {
		f.st.notified = false
	}
	f.mu.Unlock()
	f.scheduleGet(f)
}

// Nudge schedules a dispatch attempt. Use it after raising the concurrency
// limit from zero.
func (f *Feeder[T]) Nudge() {
	f.scheduleAct(f)
}

// IsDone reports whether no fetch is outstanding, no items remain and none
// are in flight.
func (f *Feeder[T]) IsDone() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.st.done()
}

// Stats returns a snapshot of the feeder's counters.
func (f *Feeder[T]) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return Stats{
		Buffered:   len(f.st.buffer),
		Remaining:  len(f.st.remaining),
		Getting:    f.st.getting,
		Processing: f.st.processing,
		Completed:  f.st.completed,
		Failed:     f.st.failed,
	}
}

// SetGet replaces the get operation used by subsequent fetches.
func (f *Feeder[T]) SetGet(get GetFunc[T]) {
	if get != nil {
		f.get.Store(&get)
	}
}

// SetAct replaces the act operation used by subsequent dispatches.
// Items already handed to the previous operation are unaffected.
func (f *Feeder[T]) SetAct(act ActFunc[T]) {
	if act != nil {
		f.act.Store(&act)
	}
}

// Fetch is the fetch step: if nothing remains and no fetch is outstanding it
// calls Get. Custom ScheduleGet strategies must eventually call it.
func (f *Feeder[T]) Fetch() {
	f.mu.Lock()
	if len(f.st.remaining) > 0 || f.st.getting {
		f.mu.Unlock()
		return
	}
	f.st.getting = true
	f.mu.Unlock()

	cb := &inline{open: true}
	get := *f.get.Load()
	get(func(items []T) {
		f.didGet(cb, items)
	})

	var next followUps
	next.add(cb.close())
	next.run(f)
}

// Dispatch is the dispatch step: it hands items to Act until the limit is
// reached or nothing remains. Custom ScheduleAct strategies must eventually
// call it. Only one dispatch loop runs at a time; a call made while one is
// running returns at once and the running loop picks up the change.
func (f *Feeder[T]) Dispatch() {
	var next followUps

	f.mu.Lock()
	if f.st.dispatching {
		f.mu.Unlock()
		return
	}
	f.st.dispatching = true
	for f.st.processing < f.concurrency() && len(f.st.remaining) > 0 {
		item := f.st.remaining[0]
		f.st.remaining = f.st.remaining[1:]
		f.st.processing++
		f.mu.Unlock()

		cb := &inline{open: true}
		act := *f.act.Load()
		act(item, func(_ T, err error) {
			f.didAct(cb, err)
		})
		next.add(cb.close())

		f.mu.Lock()
	}
	f.st.dispatching = false
	f.mu.Unlock()

	next.run(f)
}

func (f *Feeder[T]) didGet(cb *inline, items []T) {
	f.mu.Lock()
	next := f.advanceGet(items)
	f.mu.Unlock()
	if !cb.hold(next) {
		f.follow(next)
	}
}

func (f *Feeder[T]) didAct(cb *inline, err error) {
	f.mu.Lock()
	next := f.advanceAct(err)
	f.mu.Unlock()
	if !cb.hold(next) {
		f.follow(next)
	}
}

// advanceGet installs a fetched batch. Caller holds f.mu.
func (f *Feeder[T]) advanceGet(items []T) followUp {
	s := &f.st
	s.getting = false
	s.buffer = items
	s.remaining = items
	if len(items) > 0 {
		if s.processing < f.concurrency() {
			return followDispatch
		}
		return followNone
	}
	if s.done() && !s.notified {
		s.notified = true
		return followComplete
	}
	return followNone
}

// advanceAct records an act outcome. Caller holds f.mu.
func (f *Feeder[T]) advanceAct(err error) followUp {
	s := &f.st
	s.processing--
	if err == nil {
		s.completed++
	} else {
		s.failed++
	}
	if len(s.remaining) == 0 {
		return followFetch
	}
	return followDispatch
}

func (f *Feeder[T]) follow(next followUp) {
	switch next {
	case followFetch:
		f.scheduleGet(f)
	case followDispatch:
		f.scheduleAct(f)
	case followComplete:
		f.onComplete()
	}
}

// SpawnFetch is a ScheduleGet strategy that runs the fetch step on a new goroutine.
func SpawnFetch[T any](f *Feeder[T]) {
	go f.Fetch()
}

// SpawnDispatch is a ScheduleAct strategy that runs the dispatch step on a new goroutine.
func SpawnDispatch[T any](f *Feeder[T]) {
	go f.Dispatch()
}
