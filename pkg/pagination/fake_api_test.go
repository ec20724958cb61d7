package pagination

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// fakeAPI serves a fixed dataset the way the remote API does: filtered by
// assets and time window, pageSize rows at a time, with offset tokens.
type fakeAPI struct {
	rows     []*record.Record
	pageSize int
	fail     map[string]error
	delay    map[string]time.Duration

	mu    sync.Mutex
	calls []map[string]string
}

func (f *fakeAPI) Retrieve(ctx context.Context, endpoint string, params map[string]string) (*Page, error) {
	f.mu.Lock()
	f.calls = append(f.calls, copyParams(params))
	f.mu.Unlock()

	assets := splitList(params["assets"])
	for _, a := range assets {
		if d := f.delay[a]; d > 0 {
			select {
			case <-time.After(d):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if err := f.fail[a]; err != nil {
			return nil, err
		}
	}

	var filtered []*record.Record
	for _, r := range f.rows {
		if f.matches(r, assets, params) {
			filtered = append(filtered, r)
		}
	}

	offset := 0
	if tok, ok := params[PageTokenParam]; ok {
		offset, _ = strconv.Atoi(tok)
	}
	end := offset + f.pageSize
	if end > len(filtered) {
		end = len(filtered)
	}
	page := &Page{Data: filtered[offset:end]}
	if end < len(filtered) {
		page.NextPageToken = strconv.Itoa(end)
	}
	return page, nil
}

func (f *fakeAPI) matches(r *record.Record, assets []string, params map[string]string) bool {
	if len(assets) > 0 {
		a, _ := r.Value("asset").Str()
		found := false
		for _, want := range assets {
			if a == want {
				found = true
			}
		}
		if !found {
			return false
		}
	}

	ts, ok := export.ParseTime(r.Value("time").Text())
	if !ok {
		return true
	}
	if s, ok := params["start_time"]; ok {
		start, _ := export.ParseTime(s)
		if ts.Before(start) || (ts.Equal(start) && params["start_inclusive"] == "false") {
			return false
		}
	}
	if e, ok := params["end_time"]; ok {
		end, _ := export.ParseTime(e)
		if ts.After(end) || (ts.Equal(end) && params["end_inclusive"] == "false") {
			return false
		}
	}
	return true
}

func (f *fakeAPI) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// dailyRows returns one row per asset per day in [from, to), asset-major.
func dailyRows(assets []string, from, to time.Time) []*record.Record {
	var rows []*record.Record
	for _, a := range assets {
		for t := from; t.Before(to); t = t.AddDate(0, 0, 1) {
			r := record.New()
			r.Set("asset", record.String(a))
			r.Set("time", record.String(t.Format("2006-01-02T15:04:05.000000000Z")))
			r.Set("PriceUSD", record.String(strconv.Itoa(t.YearDay())))
			rows = append(rows, r)
		}
	}
	return rows
}

func assetsOf(records []*record.Record) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i], _ = r.Value("asset").Str()
	}
	return strings.Join(parts, ",")
}
