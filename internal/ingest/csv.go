// Package ingest is the data boundary: it turns external CSV exports into
// validated frames. Everything downstream may assume UTC-normalized,
// strictly increasing, unique timestamps because this package and the frame
// constructor enforce them here.
package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog"

	"github.com/tealfin/walkforward/internal/timeseries"
)

// timestamp layouts accepted in the first column, tried in order.
var layouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// LoadCSV reads a frame from a CSV file. The first column must be the
// timestamp; every other header names a numeric column. Empty cells and
// literal "nan" become NaN and are preserved, not dropped, so the caller's
// NaN policy stays explicit.
func LoadCSV(path string, logger zerolog.Logger) (*timeseries.Frame, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open data file: %w", err)
	}
	defer file.Close()

	frame, err := ReadCSV(file)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	logger.Info().
		Str("path", path).
		Int("rows", frame.Len()).
		Strs("columns", frame.Columns()).
		Time("start", frame.Start()).
		Time("end", frame.End()).
		Msg("loaded data file")

	return frame, nil
}

// ReadCSV reads a frame from CSV content.
func ReadCSV(r io.Reader) (*timeseries.Frame, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 2 {
		return nil, fmt.Errorf("need a timestamp column and at least one value column, got %d columns", len(header))
	}

	names := header[1:]
	seen := make(map[string]bool, len(names))
	for _, name := range names {
		if name == "" {
			return nil, fmt.Errorf("empty column name in header")
		}
		if seen[name] {
			return nil, fmt.Errorf("duplicate column %q in header", name)
		}
		seen[name] = true
	}

	var index []time.Time
	columns := make(map[string][]float64, len(names))
	for _, name := range names {
		columns[name] = nil
	}

	row := 1
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		row++

		if len(record) != len(header) {
			return nil, fmt.Errorf("row %d: expected %d fields, got %d", row, len(header), len(record))
		}

		ts, err := parseTimestamp(record[0])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", row, err)
		}
		index = append(index, ts)

		for i, name := range names {
			value, err := parseValue(record[i+1])
			if err != nil {
				return nil, fmt.Errorf("row %d column %q: %w", row, name, err)
			}
			columns[name] = append(columns[name], value)
		}
	}

	// timeseries.New enforces the boundary contract: strictly increasing,
	// unique, UTC-normalized timestamps.
	return timeseries.New(index, columns)
}

func parseTimestamp(s string) (time.Time, error) {
	for _, layout := range layouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	// Unix seconds as a fallback for exchange exports.
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

func parseValue(s string) (float64, error) {
	if s == "" || s == "nan" || s == "NaN" {
		return math.NaN(), nil
	}
	return strconv.ParseFloat(s, 64)
}
