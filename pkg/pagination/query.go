package pagination

import (
	"context"
	"regexp"
	"sort"
	"strings"

	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// PageTokenParam is the query parameter carrying the page token.
const PageTokenParam = "next_page_token"

// Page is one response of a listing endpoint.
type Page struct {
	Data []*record.Record

	// NextPageToken is empty when there are no further pages.
	NextPageToken string

	// NextPageURL is the server-built URL of the next page, informational only.
	NextPageURL string
}

// Retriever fetches one page of an endpoint. Implementations return an error
// on any non-success response; they own retries.
type Retriever interface {
	Retrieve(ctx context.Context, endpoint string, params map[string]string) (*Page, error)
}

// RetrieverFunc adapts a function to Retriever.
type RetrieverFunc func(ctx context.Context, endpoint string, params map[string]string) (*Page, error)

// Retrieve implements Retriever.
func (f RetrieverFunc) Retrieve(ctx context.Context, endpoint string, params map[string]string) (*Page, error) {
	return f(ctx, endpoint, params)
}

// Query is an endpoint plus normalized parameters. Queries are values: every
// modifier returns a copy and leaves the receiver untouched.
type Query struct {
	Endpoint string
	Params   map[string]string
}

// NewQuery copies params into a new Query.
func NewQuery(endpoint string, params map[string]string) Query {
	return Query{Endpoint: endpoint, Params: copyParams(params)}
}

// Clone returns a deep copy.
func (q Query) Clone() Query {
	return Query{Endpoint: q.Endpoint, Params: copyParams(q.Params)}
}

// Get returns a parameter value.
func (q Query) Get(name string) (string, bool) {
	v, ok := q.Params[name]
	return v, ok
}

// With returns a copy with name set to value.
func (q Query) With(name, value string) Query {
	c := q.Clone()
	c.Params[name] = value
	return c
}

// String renders the query as endpoint?k=v&... with sorted keys.
func (q Query) String() string {
	if len(q.Params) == 0 {
		return q.Endpoint
	}
	keys := make([]string, 0, len(q.Params))
	for k := range q.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = k + "=" + q.Params[k]
	}
	return q.Endpoint + "?" + strings.Join(parts, "&")
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// Endpoints whose records are deeply nested documents rather than rows.
var nonTabularEndpoints = []*regexp.Regexp{
	regexp.MustCompile(`^/?blockchain(-v2)?/[^/]+/blocks/[^/]+/?$`),
	regexp.MustCompile(`^/?blockchain(-v2)?/[^/]+/transactions/[^/]+/?$`),
	regexp.MustCompile(`^/?blockchain(-v2)?/[^/]+/blocks/[^/]+/transactions/[^/]+/?$`),
}

// MetricLabel returns endpoint with block hashes and transaction ids
// replaced by a placeholder, bounding the label values it yields.
func MetricLabel(endpoint string) string {
	segs := strings.Split(strings.Trim(endpoint, "/"), "/")
	for i := 1; i < len(segs); i++ {
		if segs[i-1] == "blocks" || segs[i-1] == "transactions" {
			segs[i] = idPlaceholder
		}
	}
	return strings.Join(segs, "/")
}

const idPlaceholder = "{id}"

// IsTabular reports whether records of endpoint can be written as CSV rows.
func IsTabular(endpoint string) bool {
	for _, re := range nonTabularEndpoints {
		if re.MatchString(endpoint) {
			return false
		}
	}
	return true
}
