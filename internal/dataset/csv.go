package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var errEmptyCSV = errors.New("csv has no header")

// ChunkReader reads a CSV file in fixed-size chunks of records keyed by the header row.
type ChunkReader struct {
	reader  *csv.Reader
	header  []string
	size    int
	line    int
	skipped int
}

// NewChunkReader reads the header row and prepares to return chunks of at most size records.
// An unnamed leading column (a pandas index) is kept under the key "index".
func NewChunkReader(r io.Reader, size int) (*ChunkReader, error) {
	if size <= 0 {
		return nil, fmt.Errorf("invalid chunk size %d", size)
	}

	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = false

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errEmptyCSV
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	for i, col := range header {
		col = strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))
		if col == "" {
			col = "index"
		}
		header[i] = col
	}

	return &ChunkReader{reader: reader, header: header, size: size, line: 1}, nil
}

// Header returns the column names.
func (c *ChunkReader) Header() []string {
	return c.header
}

// Skipped returns the number of malformed lines dropped so far.
func (c *ChunkReader) Skipped() int {
	return c.skipped
}

// Next returns the next chunk. It returns io.EOF, with no records, once the file is exhausted.
// Lines with fewer fields than the header or with CSV syntax errors are skipped.
func (c *ChunkReader) Next() ([]Record, error) {
	chunk := make([]Record, 0, c.size)

	for len(chunk) < c.size {
		fields, err := c.reader.Read()
		c.line++
		if err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			var parseErr *csv.ParseError
			if errors.As(err, &parseErr) {
				c.skipped++
				continue
			}
			return nil, fmt.Errorf("failed to read CSV line %d: %w", c.line, err)
		}

		if len(fields) < len(c.header) {
			c.skipped++
			continue
		}

		rec := make(Record, len(c.header))
		for i, col := range c.header {
			rec[col] = fields[i]
		}
		chunk = append(chunk, rec)
	}

	if len(chunk) == 0 {
		return nil, io.EOF
	}

	return chunk, nil
}

// ReadAll drains the reader into a single slice.
func (c *ChunkReader) ReadAll() ([]Record, error) {
	var all []Record
	for {
		chunk, err := c.Next()
		if errors.Is(err, io.EOF) {
			return all, nil
		}
		if err != nil {
			return nil, err
		}
		all = append(all, chunk...)
	}
}
