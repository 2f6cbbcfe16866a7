package runner

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"github.com/torosent/crankfeed/internal/feeder"
	"github.com/torosent/crankfeed/internal/source"
)

// DefaultBatchSize is the number of records requested per fetch when
// Options.BatchSize is not set.
const DefaultBatchSize = 10

// Actor abstracts processing a single record. The returned record carries
// values produced by the action (extracted fields, replies) and may be nil.
// Implementations should return an error for failed items.
type Actor interface {
	Do(ctx context.Context, rec source.Record) (source.Record, error)
}

// ActorFunc adapts a function to the Actor interface.
type ActorFunc func(ctx context.Context, rec source.Record) (source.Record, error)

func (f ActorFunc) Do(ctx context.Context, rec source.Record) (source.Record, error) {
	return f(ctx, rec)
}

type ArrivalModel string

const (
	ArrivalModelUniform ArrivalModel = "uniform"
	ArrivalModelPoisson ArrivalModel = "poisson"
)

// Options configure the Runner.
type Options struct {
	Source         source.Source               // record source (required)
	Actor          Actor                       // item processor (required)
	Concurrency    int                         // static limit when Limit is nil
	Limit          *Limit                      // adjustable limit; overrides Concurrency
	BatchSize      int                         // records per fetch
	TotalItems     int                         // stop after this many records (0 means the whole source)
	Duration       time.Duration               // overall time limit (0 means no duration cap)
	RatePerSecond  int                         // item starts per second (0 means unlimited)
	ArrivalModel   ArrivalModel                // pacing model when RatePerSecond > 0
	PoissonSampler func() float64              // optional injection for tests
	RandomSeed     int64                       // seeds the Poisson sampler
	LimiterFactory func(rps int) *rate.Limiter // optional injection for tests
	Observer       Observer                    // optional per-batch and per-item callbacks
}

func (o *Options) normalize() {
	if o.Concurrency <= 0 {
		o.Concurrency = feeder.DefaultConcurrency
	}
	if o.Limit == nil {
		o.Limit = NewLimit(o.Concurrency)
	}
	if o.BatchSize <= 0 {
		o.BatchSize = DefaultBatchSize
	}
	if o.TotalItems < 0 {
		o.TotalItems = 0
	}
	if o.RatePerSecond < 0 {
		o.RatePerSecond = 0
	}
	if o.ArrivalModel == "" {
		o.ArrivalModel = ArrivalModelUniform
	}
	if o.RandomSeed == 0 {
		o.RandomSeed = time.Now().UnixNano()
	}
	if o.LimiterFactory == nil {
		o.LimiterFactory = func(rps int) *rate.Limiter {
			if rps <= 0 {
				return rate.NewLimiter(rate.Inf, 0)
			}
			// Burst equal to rps to smooth pacing under concurrency.
			return rate.NewLimiter(rate.Limit(rps), rps)
		}
	}
	if o.Observer == nil {
		o.Observer = Observers()
	}
}
