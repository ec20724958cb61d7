// Package testutil provides a mock market-data API server for tests.
package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"
)

// APIPrefix is the path prefix the mock serves endpoints under.
const APIPrefix = "/v4/"

// MockResponse defines the behavior for a mock endpoint response.
type MockResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock API server for testing.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]http.HandlerFunc

	// Tracking
	requestCount int
	queries      []url.Values
	lastHeader   http.Header
}

// NewMockAPI creates a new mock API server.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers: make(map[string]http.HandlerFunc),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.mu.Lock()
		mock.requestCount++
		mock.queries = append(mock.queries, r.URL.Query())
		mock.lastHeader = r.Header.Clone()
		handler, exists := mock.handlers[strings.TrimPrefix(r.URL.Path, APIPrefix)]
		mock.mu.Unlock()

		if exists {
			handler(w, r)
			return
		}
		writeError(w, http.StatusNotFound, "not_found", "unknown endpoint "+r.URL.Path)
	}))

	return mock
}

// URL returns the API root of the mock server, to be used as base URL.
func (m *MockAPI) URL() string {
	return m.server.URL + strings.TrimSuffix(APIPrefix, "/")
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// Reset clears all tracking counters.
func (m *MockAPI) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requestCount = 0
	m.queries = nil
	m.lastHeader = nil
}

// SetHandler sets a custom handler for an endpoint such as
// "timeseries/asset-metrics".
func (m *MockAPI) SetHandler(endpoint string, handler http.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[strings.Trim(endpoint, "/")] = handler
}

// SetResponse configures a fixed response for an endpoint.
func (m *MockAPI) SetResponse(endpoint string, resp MockResponse) {
	m.SetResponses(endpoint, resp)
}

// SetResponses configures a sequence of responses for an endpoint. The
// last response repeats once the sequence is used up.
func (m *MockAPI) SetResponses(endpoint string, resps ...MockResponse) {
	var (
		mu   sync.Mutex
		next int
	)
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		resp := resps[next]
		if next < len(resps)-1 {
			next++
		}
		mu.Unlock()
		writeResponse(w, r, resp)
	})
}

// SetPagedData serves rows, given as JSON objects, pageSize at a time with
// offset page tokens, the way the real API pages. Rows can be filtered by
// the assets parameter through the "asset" field.
func (m *MockAPI) SetPagedData(endpoint string, rows []string, pageSize int) {
	m.SetHandler(endpoint, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		filtered := rows
		if assets := q.Get("assets"); assets != "" {
			filtered = filterByAsset(rows, strings.Split(assets, ","))
		}

		offset := 0
		if tok := q.Get("next_page_token"); tok != "" {
			var err error
			if offset, err = strconv.Atoi(tok); err != nil || offset < 0 || offset > len(filtered) {
				writeError(w, http.StatusBadRequest, "bad_parameter", "invalid next_page_token")
				return
			}
		}
		end := offset + pageSize
		if end > len(filtered) {
			end = len(filtered)
		}

		var body strings.Builder
		body.WriteString(`{"data":[`)
		body.WriteString(strings.Join(filtered[offset:end], ","))
		body.WriteString("]")
		if end < len(filtered) {
			token := strconv.Itoa(end)
			next := *r.URL
			nq := next.Query()
			nq.Set("next_page_token", token)
			next.RawQuery = nq.Encode()
			fmt.Fprintf(&body, `,"next_page_token":%q,"next_page_url":%q`, token, "http://"+r.Host+next.String())
		}
		body.WriteString("}")

		writeResponse(w, r, NewOKResponse(body.String()))
	})
}

func filterByAsset(rows []string, assets []string) []string {
	want := make(map[string]bool, len(assets))
	for _, a := range assets {
		want[a] = true
	}
	var out []string
	for _, row := range rows {
		var probe struct {
			Asset string `json:"asset"`
		}
		if json.Unmarshal([]byte(row), &probe) == nil && want[probe.Asset] {
			out = append(out, row)
		}
	}
	return out
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.requestCount
}

// Queries returns the query parameters of every request, in order.
func (m *MockAPI) Queries() []url.Values {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]url.Values, len(m.queries))
	copy(out, m.queries)
	return out
}

// LastRequestHeader returns the headers of the most recent request.
func (m *MockAPI) LastRequestHeader() http.Header {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastHeader
}

func writeResponse(w http.ResponseWriter, r *http.Request, resp MockResponse) {
	if resp.Delay > 0 {
		select {
		case <-time.After(resp.Delay):
		case <-r.Context().Done():
			return
		}
	}
	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if resp.Body != "" {
		w.Write([]byte(resp.Body))
	}
}

func writeError(w http.ResponseWriter, status int, typ, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"type":%q,"message":%q}}`, typ, message)
}

func quotaHeaders(remaining int) map[string]string {
	return map[string]string{
		"X-RateLimit-Limit":     "6000",
		"X-RateLimit-Remaining": strconv.Itoa(remaining),
		"X-RateLimit-Reset":     "20",
		"Content-Type":          "application/json",
	}
}

// NewOKResponse creates a 200 OK response with quota headers.
func NewOKResponse(body string) MockResponse {
	return MockResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Headers:    quotaHeaders(5999),
	}
}

// NewRateLimitResponse creates a 429 Too Many Requests response asking the
// client to retry after retryAfter seconds.
func NewRateLimitResponse(retryAfter int) MockResponse {
	h := quotaHeaders(0)
	h["X-RateLimit-Reset"] = "0"
	h["Retry-After"] = strconv.Itoa(retryAfter)
	return MockResponse{
		StatusCode: http.StatusTooManyRequests,
		Body:       `{"error":{"type":"too_many_requests","message":"Requests rate limit exceeded."}}`,
		Headers:    h,
	}
}

// NewServerErrorResponse creates a 500 Internal Server Error response.
func NewServerErrorResponse() MockResponse {
	return MockResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       `{"error":{"type":"internal_error","message":"Internal server error."}}`,
		Headers:    quotaHeaders(5990),
	}
}

// NewErrorResponse creates an error response with the API's error object.
func NewErrorResponse(status int, typ, message string) MockResponse {
	return MockResponse{
		StatusCode: status,
		Body:       fmt.Sprintf(`{"error":{"type":%q,"message":%q}}`, typ, message),
		Headers:    quotaHeaders(5990),
	}
}
