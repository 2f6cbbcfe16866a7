package runner

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// pacer spaces item starts when RatePerSecond is set.
type pacer interface {
	Wait(ctx context.Context) error
}

// newPacer returns nil when pacing is disabled. The uniform model is a
// token bucket from LimiterFactory.
func newPacer(opt Options) pacer {
	if opt.RatePerSecond <= 0 {
		return nil
	}
	if opt.ArrivalModel != ArrivalModelPoisson {
		return opt.LimiterFactory(opt.RatePerSecond)
	}
	sample := opt.PoissonSampler
	if sample == nil {
		sample = rand.New(rand.NewSource(opt.RandomSeed)).ExpFloat64
	}
	return &poissonPacer{rate: float64(opt.RatePerSecond), sample: sample}
}

// poissonPacer draws exponential gaps between starts so arrivals follow a
// Poisson process. Concurrent waiters share one schedule.
type poissonPacer struct {
	mu     sync.Mutex
	rate   float64
	sample func() float64 // guarded by mu
	next   time.Time
}

func (p *poissonPacer) Wait(ctx context.Context) error {
	delay := p.reserve(time.Now())
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// reserve claims the next start slot and returns how long to wait for it.
// A slot claimed by a canceled waiter is not given back.
func (p *poissonPacer) reserve(now time.Time) time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.next.Before(now) {
		p.next = now
	}
	p.next = p.next.Add(time.Duration(float64(time.Second) * p.sample() / p.rate))
	return p.next.Sub(now)
}
