package runner

import (
	"context"
	"time"

	"github.com/torosent/crankfeed/internal/source"
)

// Item is one record together with its position in the run.
type Item struct {
	Seq    int64 // 1-based, in fetch order
	Record source.Record
}

type seqKey struct{}

func withSeq(ctx context.Context, seq int64) context.Context {
	return context.WithValue(ctx, seqKey{}, seq)
}

// SeqFromContext returns the sequence number of the item an Actor is
// processing.
func SeqFromContext(ctx context.Context) (int64, bool) {
	seq, ok := ctx.Value(seqKey{}).(int64)
	return seq, ok
}

// BatchResult describes one call to the source.
type BatchResult struct {
	Size     int
	Duration time.Duration
	Err      error
}

// ItemResult describes one processed item.
type ItemResult struct {
	Item     Item
	Output   source.Record
	Err      error
	Started  time.Time
	Duration time.Duration
}

// Observer receives run events. ObserveItem is called from many goroutines
// at once and must be safe for concurrent use.
type Observer interface {
	ObserveBatch(BatchResult)
	ObserveItem(ItemResult)
}

type multiObserver []Observer

// Observers fans events out to every non-nil observer in order.
func Observers(obs ...Observer) Observer {
	out := make(multiObserver, 0, len(obs))
	for _, o := range obs {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multiObserver) ObserveBatch(b BatchResult) {
	for _, o := range m {
		o.ObserveBatch(b)
	}
}

func (m multiObserver) ObserveItem(r ItemResult) {
	for _, o := range m {
		o.ObserveItem(r)
	}
}
