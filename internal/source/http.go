package source

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/tidwall/gjson"
)

// maxPageBytes bounds a single page response.
const maxPageBytes = 32 * 1024 * 1024

// HTTPOptions configure an HTTPSource.
type HTTPOptions struct {
	URL         string            // first page
	Headers     map[string]string // sent with every page request
	ItemsPath   string            // gjson path to the item array; empty means the body itself
	NextPath    string            // gjson path to the next page URL or cursor; empty disables paging
	CursorParam string            // query parameter carrying a cursor; empty means NextPath holds a URL
	Timeout     time.Duration     // per page request
	Client      *http.Client      // optional, for tests
}

// HTTPSource pages through a JSON API. Each page is fetched lazily when the
// previous one has been handed out. It is safe for concurrent access.
type HTTPSource struct {
	opt     HTTPOptions
	client  *http.Client
	maxPage int64

	mu      sync.Mutex
	pending []Record
	next    string
	seen    map[string]bool
	pages   int
}

// NewHTTPSource validates opt and prepares the first page request.
func NewHTTPSource(opt HTTPOptions) (*HTTPSource, error) {
	first := strings.TrimSpace(opt.URL)
	if first == "" {
		return nil, errors.New("http source: url is required")
	}
	if _, err := url.Parse(first); err != nil {
		return nil, fmt.Errorf("http source: invalid url: %w", err)
	}
	client := opt.Client
	if client == nil {
		timeout := opt.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	opt.URL = first
	return &HTTPSource{
		opt:     opt,
		client:  client,
		maxPage: maxPageBytes,
		next:    first,
		seen:    map[string]bool{},
	}, nil
}

// Next returns up to max records, fetching pages as needed. Pages holding no
// items are skipped.
func (s *HTTPSource) Next(ctx context.Context, max int) ([]Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for len(s.pending) == 0 && s.next != "" {
		if err := s.fetchPage(ctx); err != nil {
			return nil, err
		}
	}
	return take(&s.pending, max), nil
}

// Pages reports how many pages have been fetched.
func (s *HTTPSource) Pages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages
}

// Close releases idle connections.
func (s *HTTPSource) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

func (s *HTTPSource) fetchPage(ctx context.Context) error {
	target := s.next
	s.next = ""
	s.seen[target] = true

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return fmt.Errorf("build page request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range s.opt.Headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch page %s: %w", target, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, s.maxPage+1))
	if err != nil {
		return fmt.Errorf("read page %s: %w", target, err)
	}
	if int64(len(body)) > s.maxPage {
		return fmt.Errorf("page %s exceeds %d bytes", target, s.maxPage)
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("fetch page %s: HTTP %d", target, resp.StatusCode)
	}
	if !gjson.ValidBytes(body) {
		return fmt.Errorf("page %s is not valid JSON", target)
	}
	s.pages++

	items := gjson.ParseBytes(body)
	if s.opt.ItemsPath != "" {
		items = gjson.GetBytes(body, s.opt.ItemsPath)
	}
	if items.Exists() && !items.IsArray() {
		return fmt.Errorf("page %s: %q is not an array", target, s.opt.ItemsPath)
	}
	items.ForEach(func(_, item gjson.Result) bool {
		s.pending = append(s.pending, recordFromResult(item))
		return true
	})

	next, err := s.nextPage(target, body)
	if err != nil {
		return err
	}
	if next != "" && !s.seen[next] {
		s.next = next
	}
	return nil
}

func (s *HTTPSource) nextPage(current string, body []byte) (string, error) {
	if s.opt.NextPath == "" {
		return "", nil
	}
	value := strings.TrimSpace(gjson.GetBytes(body, s.opt.NextPath).String())
	if value == "" {
		return "", nil
	}

	base, err := url.Parse(current)
	if err != nil {
		return "", fmt.Errorf("parse page url: %w", err)
	}

	if s.opt.CursorParam != "" {
		first, err := url.Parse(s.opt.URL)
		if err != nil {
			return "", fmt.Errorf("parse source url: %w", err)
		}
		q := first.Query()
		q.Set(s.opt.CursorParam, value)
		first.RawQuery = q.Encode()
		return first.String(), nil
	}

	ref, err := url.Parse(value)
	if err != nil {
		return "", fmt.Errorf("parse next page %q: %w", value, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// recordFromResult flattens one item. Objects map key by key, with nested
// values kept as raw JSON; scalars land under "value".
func recordFromResult(item gjson.Result) Record {
	record := Record{}
	if !item.IsObject() {
		record["value"] = item.String()
		return record
	}
	item.ForEach(func(key, value gjson.Result) bool {
		if value.IsObject() || value.IsArray() {
			record[key.String()] = value.Raw
		} else {
			record[key.String()] = value.String()
		}
		return true
	})
	return record
}
