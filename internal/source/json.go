package source

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// JSONSource serves records from a file containing a JSON array of objects.
// The whole array is decoded up front. It is safe for concurrent access.
type JSONSource struct {
	mu      sync.Mutex
	pending []Record
}

// NewJSONSource decodes the array in path.
func NewJSONSource(path string) (*JSONSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSON file: %w", err)
	}
	defer file.Close()

	var raw []map[string]interface{}
	decoder := json.NewDecoder(file)
	decoder.UseNumber()
	if err := decoder.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode JSON: %w", err)
	}

	records := make([]Record, 0, len(raw))
	for i, obj := range raw {
		if len(obj) == 0 {
			return nil, fmt.Errorf("record %d is empty", i)
		}
		record, err := recordFromObject(obj)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		records = append(records, record)
	}

	return &JSONSource{pending: records}, nil
}

// Next returns up to max of the remaining records.
func (s *JSONSource) Next(ctx context.Context, max int) ([]Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return take(&s.pending, max), nil
}

// Close is a no-op; the file is closed after decoding.
func (s *JSONSource) Close() error {
	return nil
}

// JSONLSource streams newline-delimited JSON objects. Blank lines are skipped.
// It is safe for concurrent access.
type JSONLSource struct {
	mu      sync.Mutex
	file    *os.File
	scanner *bufio.Scanner
	line    int
	eof     bool
}

// maxJSONLLine bounds the length of a single JSONL record.
const maxJSONLLine = 4 * 1024 * 1024

// NewJSONLSource opens path for streaming.
func NewJSONLSource(path string) (*JSONLSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open JSONL file: %w", err)
	}
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), maxJSONLLine)
	return &JSONLSource{file: file, scanner: scanner}, nil
}

// Next reads up to max objects.
func (s *JSONLSource) Next(ctx context.Context, max int) ([]Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	for len(records) < max && !s.eof {
		if !s.scanner.Scan() {
			s.eof = true
			if err := s.scanner.Err(); err != nil {
				return records, fmt.Errorf("read JSONL line %d: %w", s.line+1, err)
			}
			break
		}
		s.line++
		line := bytes.TrimSpace(s.scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var obj map[string]interface{}
		decoder := json.NewDecoder(bytes.NewReader(line))
		decoder.UseNumber()
		if err := decoder.Decode(&obj); err != nil {
			return records, fmt.Errorf("decode JSONL line %d: %w", s.line, err)
		}
		record, err := recordFromObject(obj)
		if err != nil {
			return records, fmt.Errorf("line %d: %w", s.line, err)
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes the underlying file.
func (s *JSONLSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	s.eof = true
	return err
}
