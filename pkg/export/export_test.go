package export

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/record"
	"github.com/google/go-cmp/cmp"
)

type failingSource struct {
	records []*record.Record
	pos     int
	err     error
}

func (s *failingSource) Next(ctx context.Context) bool {
	if s.pos >= len(s.records) {
		return false
	}
	s.pos++
	return true
}

func (s *failingSource) Record() *record.Record { return s.records[s.pos-1] }

func (s *failingSource) Err() error {
	if s.pos >= len(s.records) {
		return s.err
	}
	return nil
}

func sampleRecords() []*record.Record {
	return []*record.Record{
		record.MustParse(`{"asset":"btc","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"42000.5"}`),
		record.MustParse(`{"asset":"eth","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"2300","extra":"x"}`),
		record.MustParse(`{"asset":"algo","PriceUSD":null}`),
	}
}

func TestWriteCSV_HeaderFromFirstRecord(t *testing.T) {
	var buf bytes.Buffer
	rows, err := WriteCSV(context.Background(), &buf, FromSlice(sampleRecords()), nil)
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if rows != 3 {
		t.Errorf("rows = %d, want 3", rows)
	}

	want := "asset,time,PriceUSD\n" +
		"btc,2024-01-01T00:00:00.000000000Z,42000.5\n" +
		"eth,2024-01-01T00:00:00.000000000Z,2300\n" +
		"algo,,\n"
	if diff := cmp.Diff(want, buf.String()); diff != "" {
		t.Errorf("csv mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteCSV_ExplicitColumns(t *testing.T) {
	var buf bytes.Buffer
	_, err := WriteCSV(context.Background(), &buf, FromSlice(sampleRecords()), []string{"PriceUSD", "asset"})
	if err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "PriceUSD,asset\n42000.5,btc\n2300,eth\n,algo\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}

func TestWriteCSV_EmptySource(t *testing.T) {
	var buf bytes.Buffer
	if _, err := WriteCSV(context.Background(), &buf, FromSlice(nil), nil); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected no output, got %q", buf.String())
	}

	buf.Reset()
	if _, err := WriteCSV(context.Background(), &buf, FromSlice(nil), []string{"a", "b"}); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	if buf.String() != "a,b\n" {
		t.Errorf("expected header only, got %q", buf.String())
	}
}

func TestWriteCSV_SourceError(t *testing.T) {
	boom := errors.New("fetch failed")
	src := &failingSource{records: sampleRecords()[:1], err: boom}

	var buf bytes.Buffer
	rows, err := WriteCSV(context.Background(), &buf, src, nil)
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want %v", err, boom)
	}
	if rows != 1 {
		t.Errorf("rows = %d, want 1 (written before the failure)", rows)
	}
}

func TestWriteJSONLines(t *testing.T) {
	var buf bytes.Buffer
	rows, err := WriteJSONLines(context.Background(), &buf, FromSlice(sampleRecords()[:2]))
	if err != nil {
		t.Fatalf("WriteJSONLines: %v", err)
	}
	if rows != 2 {
		t.Errorf("rows = %d, want 2", rows)
	}
	want := `{"asset":"btc","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"42000.5"}` + "\n" +
		`{"asset":"eth","time":"2024-01-01T00:00:00.000000000Z","PriceUSD":"2300","extra":"x"}` + "\n"
	if buf.String() != want {
		t.Errorf("json lines = %q, want %q", buf.String(), want)
	}
}

func TestWriteCSVFile_CreatesDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "out.csv")
	if _, err := WriteCSVFile(context.Background(), path, FromSlice(sampleRecords()[:1]), nil); err != nil {
		t.Fatalf("WriteCSVFile: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(data) != "asset,time,PriceUSD\nbtc,2024-01-01T00:00:00.000000000Z,42000.5\n" {
		t.Errorf("file contents = %q", data)
	}
}

func TestNewFrame_TypeCoercion(t *testing.T) {
	records := []*record.Record{
		record.MustParse(`{"asset":"btc","min_time":"2024-01-01T00:00:00Z","count":"3","ratio":"0.5","active":true,"expiration":"garbage"}`),
		record.MustParse(`{"asset":"eth","min_time":"not a time","count":4,"ratio":"1","active":false,"expiration":null}`),
	}

	f := NewFrame(records, nil)

	wantTypes := map[string]ColumnType{
		"asset":      TypeString,
		"min_time":   TypeTime,
		"count":      TypeInt,
		"ratio":      TypeFloat,
		"active":     TypeBool,
		"expiration": TypeTime,
	}
	for col, want := range wantTypes {
		got, ok := f.Type(col)
		if !ok {
			t.Errorf("column %q missing", col)
			continue
		}
		if got != want {
			t.Errorf("Type(%q) = %s, want %s", col, got, want)
		}
	}

	if got, ok := f.Cell(0, "min_time").(time.Time); !ok || !got.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("min_time[0] = %v", f.Cell(0, "min_time"))
	}
	if got := f.Cell(1, "min_time"); got != nil {
		t.Errorf("unparsable time should be nil, got %v", got)
	}
	if got := f.Cell(0, "expiration"); got != nil {
		t.Errorf("unparsable expiration should be nil, got %v", got)
	}
	if got := f.Cell(1, "count"); got != int64(4) {
		t.Errorf("count[1] = %#v, want int64(4)", got)
	}
	if got := f.Cell(0, "ratio"); got != 0.5 {
		t.Errorf("ratio[0] = %#v, want 0.5", got)
	}
}

func TestNewFrame_NonFiniteWordsStayText(t *testing.T) {
	records := []*record.Record{
		record.MustParse(`{"label":"NaN","mixed":"1.5","big":"1e400"}`),
		record.MustParse(`{"label":"Inf","mixed":"infinity","big":"2"}`),
		record.MustParse(`{"label":"-inf","mixed":"2.5","big":"3"}`),
	}

	f := NewFrame(records, nil)

	for _, col := range []string{"label", "mixed", "big"} {
		if got, _ := f.Type(col); got != TypeString {
			t.Errorf("Type(%q) = %s, want %s", col, got, TypeString)
		}
	}
	if got := f.Cell(0, "label"); got != "NaN" {
		t.Errorf("label[0] = %#v, want \"NaN\"", got)
	}
	if got := f.Cell(1, "mixed"); got != "infinity" {
		t.Errorf("mixed[1] = %#v, want \"infinity\"", got)
	}
}

func TestNewFrame_UnionColumns(t *testing.T) {
	f := NewFrame(sampleRecords(), nil)
	want := []string{"asset", "time", "PriceUSD", "extra"}
	if diff := cmp.Diff(want, f.Columns()); diff != "" {
		t.Errorf("columns mismatch (-want +got):\n%s", diff)
	}
	if f.Len() != 3 {
		t.Errorf("Len() = %d, want 3", f.Len())
	}
	if got := f.Cell(2, "extra"); got != nil {
		t.Errorf("missing cell should be nil, got %v", got)
	}
}

func TestFrame_WriteCSV(t *testing.T) {
	f := NewFrame([]*record.Record{
		record.MustParse(`{"market":"coinbase-btc-usd-spot","min_time":"2024-01-01T00:00:00.5Z","depth":"100"}`),
	}, nil)

	var buf bytes.Buffer
	if err := f.WriteCSV(&buf); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}
	want := "market,min_time,depth\ncoinbase-btc-usd-spot,2024-01-01T00:00:00.5Z,100\n"
	if buf.String() != want {
		t.Errorf("csv = %q, want %q", buf.String(), want)
	}
}
