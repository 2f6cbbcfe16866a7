package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/torosent/crankfeed/internal/config"
)

// Record represents a single row of data with named fields.
type Record map[string]string

// Source yields records in batches.
// Implementations must be safe for concurrent use.
type Source interface {
	// Next returns up to max records. An empty slice with a nil error means
	// the source is exhausted; later calls keep returning empty slices.
	Next(ctx context.Context, max int) ([]Record, error)

	// Close releases any resources held by the source.
	Close() error
}

// ErrUnsupported is returned by New for an unknown source type.
var ErrUnsupported = errors.New("unsupported source type")

// New builds the source described by cfg.
func New(cfg config.SourceConfig) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(string(cfg.Type))) {
	case string(config.SourceCSV):
		return NewCSVSource(cfg.Path)
	case string(config.SourceJSON):
		return NewJSONSource(cfg.Path)
	case string(config.SourceJSONL):
		return NewJSONLSource(cfg.Path)
	case string(config.SourceHTTP):
		return NewHTTPSource(HTTPOptions{
			URL:         cfg.URL,
			Headers:     cfg.Headers,
			ItemsPath:   cfg.ItemsPath,
			NextPath:    cfg.NextPath,
			CursorParam: cfg.CursorParam,
			Timeout:     cfg.Timeout,
		})
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupported, cfg.Type)
	}
}

// checkContext returns ctx.Err() without blocking.
func checkContext(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}

// take removes up to max records from the front of *pending.
func take(pending *[]Record, max int) []Record {
	if max <= 0 || len(*pending) == 0 {
		return nil
	}
	n := min(max, len(*pending))
	out := (*pending)[:n:n]
	*pending = (*pending)[n:]
	return out
}

// recordFromObject converts a decoded JSON object into a Record. Strings are
// kept verbatim, numbers keep their original text, nested values are
// re-encoded as JSON and null becomes an empty string.
func recordFromObject(obj map[string]interface{}) (Record, error) {
	record := make(Record, len(obj))
	for key, value := range obj {
		switch v := value.(type) {
		case nil:
			record[key] = ""
		case string:
			record[key] = v
		case json.Number:
			record[key] = v.String()
		case bool:
			record[key] = fmt.Sprintf("%t", v)
		default:
			raw, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("field %q: %w", key, err)
			}
			record[key] = string(raw)
		}
	}
	return record, nil
}
