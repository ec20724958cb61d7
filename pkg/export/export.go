// Package export drives record iterators into CSV, JSON Lines and
// in-memory frames.
//
// Writers stream: they pull one record at a time from a Source and never
// hold more than the current record, so memory use is bounded by whatever
// the Source buffers (one page for a paginated collection).
package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/Sternrassler/coinmetrics-client/pkg/record"
	"github.com/rs/zerolog/log"
)

// Source is a pull iterator over records. Next advances and reports whether
// a record is available; when it returns false, Err distinguishes clean
// exhaustion (nil) from failure.
type Source interface {
	Next(ctx context.Context) bool
	Record() *record.Record
	Err() error
}

// SliceSource iterates an in-memory slice.
type SliceSource struct {
	records []*record.Record
	pos     int
	cur     *record.Record
}

// FromSlice returns a Source over records.
func FromSlice(records []*record.Record) *SliceSource {
	return &SliceSource{records: records}
}

// Next implements Source.
func (s *SliceSource) Next(ctx context.Context) bool {
	if s.pos >= len(s.records) {
		s.cur = nil
		return false
	}
	s.cur = s.records[s.pos]
	s.pos++
	return true
}

// Record implements Source.
func (s *SliceSource) Record() *record.Record { return s.cur }

// Err implements Source.
func (s *SliceSource) Err() error { return nil }

// Drain collects all remaining records of src. Records pulled before a
// failure are returned together with the error.
func Drain(ctx context.Context, src Source) ([]*record.Record, error) {
	var out []*record.Record
	for src.Next(ctx) {
		out = append(out, src.Record())
	}
	return out, src.Err()
}

// WriteCSV writes src as CSV. The header is columns when given, otherwise
// the keys of the first record. Fields missing from a record are written
// empty; fields not in the header are ignored. An empty source with no
// explicit columns writes nothing. It returns the number of data rows.
func WriteCSV(ctx context.Context, w io.Writer, src Source, columns []string) (int, error) {
	cw := csv.NewWriter(w)
	header := columns
	rows := 0

	if len(header) > 0 {
		if err := cw.Write(header); err != nil {
			return 0, fmt.Errorf("write csv header: %w", err)
		}
	}

	row := make([]string, 0, len(header))
	for src.Next(ctx) {
		rec := src.Record()
		if header == nil {
			header = rec.Keys()
			if err := cw.Write(header); err != nil {
				return rows, fmt.Errorf("write csv header: %w", err)
			}
		}
		row = row[:0]
		for _, col := range header {
			row = append(row, rec.Value(col).Text())
		}
		if err := cw.Write(row); err != nil {
			return rows, fmt.Errorf("write csv row %d: %w", rows, err)
		}
		rows++
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return rows, fmt.Errorf("flush csv: %w", err)
	}
	if err := src.Err(); err != nil {
		return rows, err
	}
	return rows, nil
}

// WriteJSONLines writes one compact JSON object per line.
func WriteJSONLines(ctx context.Context, w io.Writer, src Source) (int, error) {
	bw := bufio.NewWriter(w)
	rows := 0
	for src.Next(ctx) {
		b, err := src.Record().MarshalJSON()
		if err != nil {
			return rows, fmt.Errorf("encode record %d: %w", rows, err)
		}
		bw.Write(b)
		if err := bw.WriteByte('\n'); err != nil {
			return rows, fmt.Errorf("write record %d: %w", rows, err)
		}
		rows++
	}
	if err := bw.Flush(); err != nil {
		return rows, fmt.Errorf("flush json lines: %w", err)
	}
	if err := src.Err(); err != nil {
		return rows, err
	}
	return rows, nil
}

// WriteCSVFile creates path (and its parent directory) and writes src to it.
func WriteCSVFile(ctx context.Context, path string, src Source, columns []string) (int, error) {
	return writeFile(path, func(w io.Writer) (int, error) {
		return WriteCSV(ctx, w, src, columns)
	})
}

// WriteJSONLinesFile creates path (and its parent directory) and writes src to it.
func WriteJSONLinesFile(ctx context.Context, path string, src Source) (int, error) {
	return writeFile(path, func(w io.Writer) (int, error) {
		return WriteJSONLines(ctx, w, src)
	})
}

func writeFile(path string, write func(io.Writer) (int, error)) (int, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return 0, fmt.Errorf("create directory %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", path, err)
	}

	rows, werr := write(f)
	cerr := f.Close()
	if werr != nil {
		return rows, werr
	}
	if cerr != nil {
		return rows, fmt.Errorf("close %s: %w", path, cerr)
	}

	log.Debug().
		Str("path", path).
		Int("rows", rows).
		Msg("Export file written")
	return rows, nil
}
