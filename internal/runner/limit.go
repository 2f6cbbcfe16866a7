package runner

import (
	"sync"
	"sync/atomic"
)

// Limit is a concurrency limit that can change while a run is in progress.
// Lowering it takes effect as in-flight items finish; raising it dispatches
// waiting items immediately. A limit of zero pauses dispatch.
type Limit struct {
	value atomic.Int64

	mu    sync.Mutex
	saved int
	nudge func()
}

// NewLimit returns a limit of n. A limit of zero starts paused.
func NewLimit(n int) *Limit {
	l := &Limit{}
	if n < 0 {
		n = 0
	}
	l.value.Store(int64(n))
	return l
}

// Get returns the current limit. It is cheap and safe to call under the
// feeder lock.
func (l *Limit) Get() int {
	return int(l.value.Load())
}

// Set changes the limit. Negative values are treated as zero.
func (l *Limit) Set(n int) {
	if n < 0 {
		n = 0
	}
	l.mu.Lock()
	l.value.Store(int64(n))
	nudge := l.nudge
	l.mu.Unlock()
	if nudge != nil && n > 0 {
		nudge()
	}
}

// Pause sets the limit to zero, remembering the previous value for Resume.
// In-flight items are not interrupted.
func (l *Limit) Pause() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cur := int(l.value.Load()); cur > 0 {
		l.saved = cur
		l.value.Store(0)
	}
}

// Resume restores the limit saved by Pause, or 1 if none was saved, and
// dispatches waiting items. It does nothing if the limit is not zero.
func (l *Limit) Resume() {
	l.mu.Lock()
	if l.value.Load() > 0 {
		l.mu.Unlock()
		return
	}
	n := l.saved
	if n <= 0 {
		n = 1
	}
	l.value.Store(int64(n))
	nudge := l.nudge
	l.mu.Unlock()
	if nudge != nil {
		nudge()
	}
}

// Paused reports whether the limit is zero.
func (l *Limit) Paused() bool {
	return l.value.Load() == 0
}

// attach sets the function called when the limit is raised.
func (l *Limit) attach(nudge func()) {
	l.mu.Lock()
	l.nudge = nudge
	l.mu.Unlock()
}
