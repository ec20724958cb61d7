package pagination

import (
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/params"
)

// DefaultSplitParams are the entity parameters a parallel run splits on when
// no SplitOn is given. Only the first one present in the query is used, so
// every sub-query returns rows of the same shape as the parent query.
var DefaultSplitParams = []string{
	"assets",
	"markets",
	"exchanges",
	"exchange_assets",
	"indexes",
	"pairs",
	"institutions",
}

// MaxPlanSize bounds the number of splits one plan may hold.
const MaxPlanSize = 100_000

// Label is one parameter value that distinguishes a split from its siblings.
type Label struct {
	Param string
	Value string
}

// Split is one independent sub-query of a parallel run.
type Split struct {
	// Index is the position in the plan; merged output follows it.
	Index  int
	Query  Query
	Labels []Label
}

func (s Split) String() string {
	if len(s.Labels) == 0 {
		return "full query"
	}
	parts := make([]string, len(s.Labels))
	for i, l := range s.Labels {
		parts[i] = l.Param + "=" + l.Value
	}
	return strings.Join(parts, " ")
}

// FileName returns a deterministic, filesystem-safe file name for the split,
// built from the endpoint's last path element and the split labels.
func (s Split) FileName(ext string) string {
	base := path.Base(strings.Trim(s.Query.Endpoint, "/"))
	if base == "." || base == "/" || base == "" {
		base = "data"
	}
	parts := []string{base}
	for _, l := range s.Labels {
		parts = append(parts, l.Param+"-"+l.Value)
	}
	return sanitizeFileName(strings.Join(parts, "_")) + ext
}

func sanitizeFileName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '-'
		}
	}, s)
}

// BuildPlan decomposes q into independent sub-queries. Entity splits come
// first, in SplitOn order, and range splits (time or height) are nested
// inside each entity, so plan order is entity order then range order.
// A query with nothing to split yields a single split of the full query.
func BuildPlan(q Query, opts ParallelOptions) ([]Split, error) {
	opts = opts.withDefaults()
	if !opts.TimeIncrement.IsZero() && opts.HeightIncrement > 0 {
		return nil, ErrConflictingIncrements
	}
	if opts.HeightIncrement < 0 {
		return nil, fmt.Errorf("%w: height increment %d is negative", ErrInvalidSplit, opts.HeightIncrement)
	}

	splitOn := opts.SplitOn
	explicit := len(splitOn) > 0
	if !explicit {
		for _, p := range DefaultSplitParams {
			if _, ok := q.Params[p]; ok {
				splitOn = []string{p}
				break
			}
		}
	}

	splits := []Split{{Query: q.Clone()}}
	for _, param := range splitOn {
		raw, ok := q.Params[param]
		if !ok {
			return nil, fmt.Errorf("%w: parameter %q is not set on %s", ErrInvalidSplit, param, q.Endpoint)
		}
		values := splitList(raw)
		if len(values) == 0 {
			return nil, fmt.Errorf("%w: parameter %q is empty", ErrInvalidSplit, param)
		}

		var next []Split
		for _, s := range splits {
			for _, chunk := range chunkValues(values, opts.ChunkSize) {
				v := strings.Join(chunk, ",")
				next = append(next, Split{
					Query:  s.Query.With(param, v),
					Labels: appendLabel(s.Labels, Label{Param: param, Value: v}),
				})
			}
		}
		splits = next
	}

	var err error
	switch {
	case !opts.TimeIncrement.IsZero():
		splits, err = splitByTime(q, splits, opts.TimeIncrement, opts.Now())
	case opts.HeightIncrement > 0:
		splits, err = splitByHeight(q, splits, opts.HeightIncrement)
	}
	if err != nil {
		return nil, err
	}
	if len(splits) > MaxPlanSize {
		return nil, fmt.Errorf("%w: plan of %d splits exceeds %d", ErrInvalidSplit, len(splits), MaxPlanSize)
	}

	for i := range splits {
		splits[i].Index = i
	}
	return splits, nil
}

type timeWindow struct {
	start, end time.Time
}

// splitByTime cuts [start_time, end_time) into consecutive windows. The API
// treats end_time as inclusive unless end_inclusive=false, so every window
// except the last excludes its end, and every window except the first
// includes its start: a record on a boundary lands in exactly one window.
// The first and last window keep the parent's inclusivity flags.
func splitByTime(q Query, splits []Split, inc Increment, now time.Time) ([]Split, error) {
	startRaw, ok := q.Params["start_time"]
	if !ok {
		return nil, fmt.Errorf("%w: time split requires start_time", ErrInvalidSplit)
	}
	start, ok := parseTimeParam(startRaw)
	if !ok {
		return nil, fmt.Errorf("%w: cannot parse start_time %q", ErrInvalidSplit, startRaw)
	}
	end := now.UTC()
	if endRaw, ok := q.Params["end_time"]; ok {
		if end, ok = parseTimeParam(endRaw); !ok {
			return nil, fmt.Errorf("%w: cannot parse end_time %q", ErrInvalidSplit, endRaw)
		}
	}
	if err := inc.validate(start); err != nil {
		return nil, err
	}

	var windows []timeWindow
	if !end.After(start) {
		windows = []timeWindow{{start: start, end: end}}
	}
	for n := 0; end.After(start); n++ {
		ws := inc.Step(start, n)
		if !ws.Before(end) {
			break
		}
		we := inc.Step(start, n+1)
		if !we.Before(end) {
			we = end
		}
		windows = append(windows, timeWindow{start: ws, end: we})
		if len(windows) > MaxPlanSize {
			return nil, fmt.Errorf("%w: more than %d windows of %s", ErrInvalidSplit, MaxPlanSize, inc)
		}
	}

	var out []Split
	for _, s := range splits {
		for k, w := range windows {
			sq := s.Query.Clone()
			sq.Params["start_time"] = params.FormatTime(w.start)
			sq.Params["end_time"] = params.FormatTime(w.end)
			if k > 0 {
				sq.Params["start_inclusive"] = "true"
			}
			if k < len(windows)-1 {
				sq.Params["end_inclusive"] = "false"
			}
			labels := appendLabel(s.Labels, Label{Param: "start_time", Value: sq.Params["start_time"]})
			labels = append(labels, Label{Param: "end_time", Value: sq.Params["end_time"]})
			out = append(out, Split{Query: sq, Labels: labels})
		}
	}
	return out, nil
}

// splitByHeight cuts the inclusive block range [start_height, end_height]
// into ranges of inc blocks. Interior ranges are inclusive on both ends; the
// first and last keep the parent's inclusivity flags.
func splitByHeight(q Query, splits []Split, inc int64) ([]Split, error) {
	start, err := heightParam(q, "start_height")
	if err != nil {
		return nil, err
	}
	end, err := heightParam(q, "end_height")
	if err != nil {
		return nil, err
	}
	if end < start {
		return nil, fmt.Errorf("%w: end_height %d is before start_height %d", ErrInvalidSplit, end, start)
	}

	type heightRange struct{ from, to int64 }
	var ranges []heightRange
	for h := start; h <= end; h += inc {
		to := h + inc - 1
		if to > end {
			to = end
		}
		ranges = append(ranges, heightRange{from: h, to: to})
		if len(ranges) > MaxPlanSize {
			return nil, fmt.Errorf("%w: more than %d ranges of %d blocks", ErrInvalidSplit, MaxPlanSize, inc)
		}
	}

	var out []Split
	for _, s := range splits {
		for k, r := range ranges {
			sq := s.Query.Clone()
			sq.Params["start_height"] = strconv.FormatInt(r.from, 10)
			sq.Params["end_height"] = strconv.FormatInt(r.to, 10)
			if k > 0 {
				sq.Params["start_inclusive"] = "true"
			}
			if k < len(ranges)-1 {
				sq.Params["end_inclusive"] = "true"
			}
			labels := appendLabel(s.Labels, Label{Param: "start_height", Value: sq.Params["start_height"]})
			labels = append(labels, Label{Param: "end_height", Value: sq.Params["end_height"]})
			out = append(out, Split{Query: sq, Labels: labels})
		}
	}
	return out, nil
}

func heightParam(q Query, name string) (int64, error) {
	raw, ok := q.Params[name]
	if !ok {
		return 0, fmt.Errorf("%w: height split requires %s", ErrInvalidSplit, name)
	}
	h, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: cannot parse %s %q", ErrInvalidSplit, name, raw)
	}
	return h, nil
}

func parseTimeParam(s string) (time.Time, bool) {
	if t, ok := export.ParseTime(s); ok {
		return t, true
	}
	if t, err := time.Parse("20060102", strings.TrimSpace(s)); err == nil {
		return t, true
	}
	return time.Time{}, false
}

func splitList(raw string) []string {
	var out []string
	for _, v := range strings.Split(raw, ",") {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func chunkValues(values []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(values); i += size {
		j := i + size
		if j > len(values) {
			j = len(values)
		}
		out = append(out, values[i:j])
	}
	return out
}

func appendLabel(labels []Label, l Label) []Label {
	out := make([]Label, len(labels), len(labels)+2)
	copy(out, labels)
	return append(out, l)
}
