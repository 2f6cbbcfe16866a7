package source

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
)

// CSVSource streams records from a CSV file. The first row is the header
// holding field names. It is safe for concurrent access.
type CSVSource struct {
	mu     sync.Mutex
	file   *os.File
	reader *csv.Reader
	header []string
	row    int
	eof    bool
}

// NewCSVSource opens path and reads its header row.
func NewCSVSource(path string) (*CSVSource, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open CSV file: %w", err)
	}

	reader := csv.NewReader(file)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		file.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("CSV file is empty")
		}
		return nil, fmt.Errorf("read CSV header: %w", err)
	}

	return &CSVSource{
		file:   file,
		reader: reader,
		header: header,
		row:    1,
	}, nil
}

// Next reads up to max data rows.
func (s *CSVSource) Next(ctx context.Context, max int) ([]Record, error) {
	if err := checkContext(ctx); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var records []Record
	for len(records) < max && !s.eof {
		row, err := s.reader.Read()
		if errors.Is(err, io.EOF) {
			s.eof = true
			break
		}
		s.row++
		if err != nil {
			return records, fmt.Errorf("read CSV row %d: %w", s.row, err)
		}
		if len(row) != len(s.header) {
			return records, fmt.Errorf("row %d has %d fields, expected %d", s.row, len(row), len(s.header))
		}

		record := make(Record, len(s.header))
		for j, field := range s.header {
			record[field] = row[j]
		}
		records = append(records, record)
	}
	return records, nil
}

// Close closes the underlying file.
func (s *CSVSource) Close() error {
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
