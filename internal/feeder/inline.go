package feeder

import "sync"

type followUp int

const (
	followNone followUp = iota
	followFetch
	followDispatch
	followComplete
)

// inline tracks one registered completion callback. While open, the step
// that registered the callback has not returned yet, so a follow-up produced
// by the callback is handed back to that step instead of running on top of
// it. This keeps synchronous completions from recursing into the scheduler.
type inline struct {
	mu   sync.Mutex
	open bool
	next followUp
}

// hold stores next for the registering step if it is still running and
// reports whether it did.
func (c *inline) hold(next followUp) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return false
	}
	c.next = next
	return true
}

// close ends the window and returns any follow-up held for the step.
func (c *inline) close() followUp {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.open = false
	next := c.next
	c.next = followNone
	return next
}

// followUps collects deferred follow-ups, keeping each kind once and in
// first-seen order.
type followUps []followUp

func (n *followUps) add(next followUp) {
	if next == followNone {
		return
	}
	for _, have := range *n {
		if have == next {
			return
		}
	}
	*n = append(*n, next)
}

func (n followUps) run(f interface{ follow(followUp) }) {
	for _, next := range n {
		f.follow(next)
	}
}
