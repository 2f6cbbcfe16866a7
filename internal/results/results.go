// Package results writes one JSON line per processed item.
package results

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/oklog/ulid/v2"

	"github.com/torosent/crankfeed/internal/runner"
	"github.com/torosent/crankfeed/internal/source"
)

// ErrLocked is returned by Open when another run holds the results file.
var ErrLocked = errors.New("results file is locked by another run")

// Item outcomes.
const (
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusAborted   = "aborted"
)

// Entry is one line of the results file.
type Entry struct {
	RunID     string        `json:"run_id"`
	Seq       int64         `json:"seq"`
	Status    string        `json:"status"`
	Error     string        `json:"error,omitempty"`
	Started   time.Time     `json:"started"`
	LatencyMs float64       `json:"latency_ms"`
	Record    source.Record `json:"record"`
	Output    source.Record `json:"output,omitempty"`
}

// Writer appends entries to a results file. It implements runner.Observer
// and is safe for concurrent use.
type Writer struct {
	mu    sync.Mutex
	runID string
	file  *os.File
	lock  *flock.Flock
	buf   *bufio.Writer
	enc   *json.Encoder
	count int64
	err   error
}

// Open appends to path, creating it if needed. The file stays locked until
// Close.
func Open(path string) (*Writer, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock results file: %w", err)
	}
	if !locked {
		return nil, ErrLocked
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("open results file: %w", err)
	}

	buf := bufio.NewWriter(file)
	return &Writer{
		runID: ulid.Make().String(),
		file:  file,
		lock:  lock,
		buf:   buf,
		enc:   json.NewEncoder(buf),
	}, nil
}

// RunID identifies this run in every entry.
func (w *Writer) RunID() string {
	return w.runID
}

// ObserveItem writes one entry.
func (w *Writer) ObserveItem(r runner.ItemResult) {
	entry := Entry{
		RunID:     w.runID,
		Seq:       r.Item.Seq,
		Status:    statusOf(r.Err),
		Started:   r.Started.UTC(),
		LatencyMs: float64(r.Duration) / float64(time.Millisecond),
		Record:    r.Item.Record,
		Output:    r.Output,
	}
	if r.Err != nil {
		entry.Error = r.Err.Error()
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil || w.enc == nil {
		return
	}
	if err := w.enc.Encode(entry); err != nil {
		w.err = fmt.Errorf("write result %d: %w", entry.Seq, err)
		return
	}
	w.count++
}

// ObserveBatch is a no-op; only items are written.
func (w *Writer) ObserveBatch(runner.BatchResult) {}

// Count returns the number of entries written.
func (w *Writer) Count() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Close flushes pending entries and releases the lock. It returns the first
// write error, if any.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return w.err
	}
	w.enc = nil

	if err := w.buf.Flush(); err != nil && w.err == nil {
		w.err = fmt.Errorf("flush results file: %w", err)
	}
	if err := w.file.Close(); err != nil && w.err == nil {
		w.err = fmt.Errorf("close results file: %w", err)
	}
	if err := w.lock.Unlock(); err != nil && w.err == nil {
		w.err = fmt.Errorf("unlock results file: %w", err)
	}
	return w.err
}

func statusOf(err error) string {
	switch {
	case err == nil:
		return StatusCompleted
	case errors.Is(err, runner.ErrAborted):
		return StatusAborted
	default:
		return StatusFailed
	}
}
