package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// ColumnType is the inferred type of a frame column.
type ColumnType uint8

const (
	TypeString ColumnType = iota
	TypeInt
	TypeFloat
	TypeBool
	TypeTime
)

func (t ColumnType) String() string {
	switch t {
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeBool:
		return "bool"
	case TypeTime:
		return "time"
	default:
		return "string"
	}
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// IsTimeColumn reports whether a column holds timestamps by naming
// convention: any name containing "time", "expiration" or "listing".
func IsTimeColumn(name string) bool {
	n := strings.ToLower(name)
	return strings.Contains(n, "time") ||
		strings.Contains(n, "expiration") ||
		strings.Contains(n, "listing")
}

// ParseTime parses the timestamp formats the API emits and normalizes to UTC.
func ParseTime(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// Frame is a rectangular, column-typed table built from records. Cells hold
// nil, string, int64, float64, bool or time.Time according to the column type.
type Frame struct {
	columns []string
	index   map[string]int
	types   []ColumnType
	rows    [][]any
}

// NewFrame builds a frame from records. When columns is nil the column set is
// the union of record keys in first-seen order. Types are inferred after the
// frame is assembled: time-named columns become UTC timestamps with
// unparsable cells set to nil; other columns take the narrowest of bool, int,
// float that fits every non-null cell, falling back to string.
func NewFrame(records []*record.Record, columns []string) *Frame {
	if columns == nil {
		seen := make(map[string]bool)
		for _, rec := range records {
			for _, k := range rec.Keys() {
				if !seen[k] {
					seen[k] = true
					columns = append(columns, k)
				}
			}
		}
	}

	f := &Frame{
		columns: columns,
		index:   make(map[string]int, len(columns)),
		types:   make([]ColumnType, len(columns)),
		rows:    make([][]any, len(records)),
	}
	for i, c := range columns {
		f.index[c] = i
	}

	raw := make([][]record.Value, len(records))
	for r, rec := range records {
		raw[r] = make([]record.Value, len(columns))
		for c, col := range columns {
			raw[r][c] = rec.Value(col)
		}
		f.rows[r] = make([]any, len(columns))
	}

	for c, col := range columns {
		f.types[c] = f.coerceColumn(c, col, raw)
	}
	return f
}

// ToFrame drains src into a frame.
func ToFrame(ctx context.Context, src Source, columns []string) (*Frame, error) {
	records, err := Drain(ctx, src)
	if err != nil {
		return nil, err
	}
	return NewFrame(records, columns), nil
}

func (f *Frame) coerceColumn(c int, name string, raw [][]record.Value) ColumnType {
	if IsTimeColumn(name) {
		for r := range raw {
			v := raw[r][c]
			if v.IsNull() {
				continue
			}
			if t, ok := ParseTime(v.Text()); ok {
				f.rows[r][c] = t
			}
		}
		return TypeTime
	}

	isBool, isInt, isFloat := true, true, true
	nonNull := 0
	for r := range raw {
		v := raw[r][c]
		if v.IsNull() {
			continue
		}
		nonNull++
		switch v.Kind() {
		case record.KindBool:
			isInt, isFloat = false, false
		case record.KindList, record.KindObject:
			isBool, isInt, isFloat = false, false, false
		default:
			isBool = false
			text := v.Text()
			if _, err := strconv.ParseInt(text, 10, 64); err != nil {
				isInt = false
			}
			if _, ok := parseFinite(text); !ok {
				isFloat = false
			}
		}
	}

	typ := TypeString
	switch {
	case nonNull == 0:
	case isBool:
		typ = TypeBool
	case isInt:
		typ = TypeInt
	case isFloat:
		typ = TypeFloat
	}

	for r := range raw {
		v := raw[r][c]
		if v.IsNull() {
			continue
		}
		switch typ {
		case TypeBool:
			f.rows[r][c], _ = v.BoolValue()
		case TypeInt:
			f.rows[r][c], _ = strconv.ParseInt(v.Text(), 10, 64)
		case TypeFloat:
			f.rows[r][c], _ = parseFinite(v.Text())
		default:
			f.rows[r][c] = v.Text()
		}
	}
	return typ
}

// Columns returns the column names in order.
func (f *Frame) Columns() []string {
	out := make([]string, len(f.columns))
	copy(out, f.columns)
	return out
}

// Len returns the number of rows.
func (f *Frame) Len() int { return len(f.rows) }

// Type returns the inferred type of a column.
func (f *Frame) Type(column string) (ColumnType, bool) {
	i, ok := f.index[column]
	if !ok {
		return TypeString, false
	}
	return f.types[i], true
}

// Row returns the cells of row i in column order.
func (f *Frame) Row(i int) []any { return f.rows[i] }

// Cell returns the value at row i of column.
func (f *Frame) Cell(i int, column string) any {
	c, ok := f.index[column]
	if !ok {
		return nil
	}
	return f.rows[i][c]
}

// Column returns a copy of one column's cells.
func (f *Frame) Column(column string) []any {
	c, ok := f.index[column]
	if !ok {
		return nil
	}
	out := make([]any, len(f.rows))
	for i, row := range f.rows {
		out[i] = row[c]
	}
	return out
}

// WriteCSV writes the frame with a header row. Timestamps use RFC 3339.
func (f *Frame) WriteCSV(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	line := make([]string, len(f.columns))
	for _, row := range f.rows {
		for c, cell := range row {
			line[c] = formatCell(cell)
		}
		if err := cw.Write(line); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatCell(cell any) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case time.Time:
		return v.Format(time.RFC3339Nano)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

// parseFinite parses a float, rejecting NaN and infinities so words such as
// "nan" or "inf" in a text column keep it a string column.
func parseFinite(s string) (float64, bool) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
