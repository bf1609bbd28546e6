// Package csv reads water readings from CSV files with a header row.
//
// Columns are matched by name: ph, turbidity and temperature are required,
// do_level, timestamp and hour are optional. A blank measurement cell is a
// missing value and is returned as NaN.
package csv

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	lgio "github.com/hed1ad/lakeguard/pkg/io"
	"github.com/hed1ad/lakeguard/pkg/water"
)

const (
	timestampColumn = "timestamp"
	hourColumn      = "hour"
)

// ErrMissingColumn is returned when a required column is absent.
var ErrMissingColumn = errors.New("missing required column")

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

// Reader reads readings from a CSV stream.
type Reader struct {
	closer  io.Closer
	reader  *csv.Reader
	headers []string
	columns map[water.Metric]int
	tsCol   int
	hourCol int
	skipped int
	sorted  bool
}

var _ lgio.ReadingSource = (*Reader)(nil)

// Option configures a CSV reader.
type Option func(*Reader)

// WithComma sets the field delimiter.
func WithComma(r rune) Option {
	return func(rd *Reader) {
		rd.reader.Comma = r
	}
}

// WithoutSorting keeps file order in Read even when every row has a timestamp.
func WithoutSorting() Option {
	return func(rd *Reader) {
		rd.sorted = false
	}
}

// NewReader opens filename and reads its header.
func NewReader(filename string, opts ...Option) (*Reader, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	r, err := New(file, opts...)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	r.closer = file
	return r, nil
}

// New reads the header from src.
func New(src io.Reader, opts ...Option) (*Reader, error) {
	r := &Reader{
		reader:  csv.NewReader(src),
		columns: make(map[water.Metric]int, len(water.Metrics)),
		tsCol:   -1,
		hourCol: -1,
		sorted:  true,
	}
	r.reader.TrimLeadingSpace = true

	for _, opt := range opts {
		opt(r)
	}

	headers, err := r.reader.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	r.headers = headers
	for i, h := range headers {
		name := strings.ToLower(strings.TrimSpace(h))
		if m, ok := water.ParseMetric(name); ok {
			r.columns[m] = i
			continue
		}
		switch name {
		case timestampColumn:
			r.tsCol = i
		case hourColumn:
			r.hourCol = i
		}
	}
	for _, m := range water.PatternMetrics {
		if _, ok := r.columns[m]; !ok {
			return nil, fmt.Errorf("%w %q", ErrMissingColumn, m)
		}
	}
	return r, nil
}

// Headers returns the column headers.
func (r *Reader) Headers() []string {
	return r.headers
}

// HasDissolvedOxygen reports whether the file has a do_level column.
func (r *Reader) HasDissolvedOxygen() bool {
	_, ok := r.columns[water.DissolvedOxygen]
	return ok
}

// Skipped returns how many malformed rows were dropped so far.
func (r *Reader) Skipped() int {
	return r.skipped
}

// Read returns every well-formed row. When every row has a timestamp the
// result is ordered by time.
func (r *Reader) Read() ([]water.Reading, error) {
	var data []water.Reading
	for {
		reading, err := r.next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, err
		}
		data = append(data, reading)
	}

	if r.sorted && allTimestamped(data) {
		sort.SliceStable(data, func(i, j int) bool {
			return data[i].Timestamp.Before(data[j].Timestamp)
		})
	}
	return data, nil
}

// Stream returns a channel of rows in file order.
func (r *Reader) Stream(ctx context.Context) (<-chan water.Reading, error) {
	out := make(chan water.Reading, 100)

	go func() {
		defer close(out)
		for {
			reading, err := r.next()
			if err != nil {
				return
			}
			select {
			case out <- reading:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, nil
}

// Close releases resources.
func (r *Reader) Close() error {
	if r.closer != nil {
		return r.closer.Close()
	}
	return nil
}

// next returns the next well-formed row, skipping malformed ones.
func (r *Reader) next() (water.Reading, error) {
	for {
		record, err := r.reader.Read()
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				r.skipped++
				continue
			}
			return water.Reading{}, err
		}

		reading, err := r.parseRow(record)
		if err != nil {
			r.skipped++
			continue
		}
		return reading, nil
	}
}

func (r *Reader) parseRow(record []string) (water.Reading, error) {
	var reading water.Reading
	for _, m := range water.Metrics {
		col, ok := r.columns[m]
		if !ok {
			reading = reading.With(m, math.NaN())
			continue
		}
		v, err := parseValue(record[col])
		if err != nil {
			return water.Reading{}, fmt.Errorf("%s: %w", m, err)
		}
		reading = reading.With(m, v)
	}

	if r.tsCol >= 0 {
		if cell := strings.TrimSpace(record[r.tsCol]); cell != "" {
			ts, err := parseTime(cell)
			if err != nil {
				return water.Reading{}, err
			}
			reading.Timestamp = ts
		}
	}
	if r.hourCol >= 0 {
		if cell := strings.TrimSpace(record[r.hourCol]); cell != "" {
			h, err := strconv.Atoi(cell)
			if err != nil || h < 0 || h > 23 {
				return water.Reading{}, fmt.Errorf("invalid hour %q", cell)
			}
			reading.Hour = &h
		}
	}
	return reading, nil
}

func parseValue(cell string) (float64, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(cell, 64)
}

func parseTime(cell string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, cell); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", cell)
}

func allTimestamped(data []water.Reading) bool {
	for _, r := range data {
		if !r.HasTimestamp() {
			return false
		}
	}
	return len(data) > 0
}
