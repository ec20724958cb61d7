package pagination

import (
	"context"
	"fmt"
	"io"

	"github.com/Sternrassler/coinmetrics-client/pkg/export"
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
	"github.com/rs/zerolog/log"
)

type cursorState uint8

const (
	// cursorNotStarted: no page fetched yet, the first fetch carries no token.
	cursorNotStarted cursorState = iota
	// cursorHasToken: the next fetch carries token.
	cursorHasToken
	// cursorExhausted: the last response had no token.
	cursorExhausted
)

// Option configures a Collection.
type Option func(*Collection)

// WithNonTabular marks the endpoint as returning nested documents, which
// makes CSV export fail with ErrCSVUnsupported.
func WithNonTabular() Option {
	return func(c *Collection) { c.nonTabular = true }
}

// Collection is a lazy, single-pass cursor over every record of a query.
// It fetches one page at a time, following next_page_token until a response
// carries none, so memory is bounded by one page.
//
// Iteration follows the bufio.Scanner shape:
//
//	for c.Next(ctx) {
//		rec := c.Record()
//	}
//	if err := c.Err(); err != nil { ... }
//
// A Collection is not safe for concurrent use. Once exhausted it stays
// exhausted; build a new Collection from Query() to iterate again.
type Collection struct {
	retriever  Retriever
	query      Query
	nonTabular bool

	state cursorState
	token string
	buf   []*record.Record
	pos   int
	cur   *record.Record
	err   error
	pages int
}

// NewCollection returns a collection over q. The query is copied.
func NewCollection(r Retriever, q Query, opts ...Option) *Collection {
	c := &Collection{
		retriever:  r,
		query:      q.Clone(),
		nonTabular: !IsTabular(q.Endpoint),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Query returns a copy of the template query.
func (c *Collection) Query() Query { return c.query.Clone() }

// Tabular reports whether the collection can be exported as CSV.
func (c *Collection) Tabular() bool { return !c.nonTabular }

// FirstPage fetches only the first page of the query. It does not touch the
// iteration state, so it may be called before or during iteration.
func (c *Collection) FirstPage(ctx context.Context) ([]*record.Record, error) {
	page, err := c.fetch(ctx, c.query.Clone())
	if err != nil {
		return nil, err
	}
	return page.Data, nil
}

// Next advances to the next record, fetching the next page when the current
// one is used up. It returns false when the records are exhausted or a fetch
// failed; Err tells the two apart.
func (c *Collection) Next(ctx context.Context) bool {
	if c.err != nil {
		return false
	}
	for {
		if c.pos < len(c.buf) {
			c.cur = c.buf[c.pos]
			c.buf[c.pos] = nil
			c.pos++
			return true
		}

		c.cur = nil
		c.buf = nil
		c.pos = 0
		if c.state == cursorExhausted {
			return false
		}

		q := c.query.Clone()
		if c.state == cursorHasToken {
			q.Params[PageTokenParam] = c.token
		}
		page, err := c.fetch(ctx, q)
		if err != nil {
			c.err = err
			return false
		}

		c.pages++
		c.buf = page.Data
		if page.NextPageToken == "" {
			c.state = cursorExhausted
			c.token = ""
		} else {
			c.state = cursorHasToken
			c.token = page.NextPageToken
		}
	}
}

// Record returns the current record. It is valid after Next returned true.
func (c *Collection) Record() *record.Record { return c.cur }

// Err returns the fetch error that stopped iteration, if any.
func (c *Collection) Err() error { return c.err }

// Pages returns the number of pages fetched by iteration so far.
func (c *Collection) Pages() int { return c.pages }

// ToList drains the collection. Records yielded before a failure are
// returned together with the error.
func (c *Collection) ToList(ctx context.Context) ([]*record.Record, error) {
	return export.Drain(ctx, c)
}

// ExportToCSV drains the collection into w as CSV. The header is columns
// when given, otherwise the first record's keys.
func (c *Collection) ExportToCSV(ctx context.Context, w io.Writer, columns ...string) error {
	if c.nonTabular {
		return fmt.Errorf("%w: %s", ErrCSVUnsupported, c.query.Endpoint)
	}
	_, err := export.WriteCSV(ctx, w, c, nilIfEmpty(columns))
	return err
}

// ExportToCSVFile drains the collection into a CSV file at path.
func (c *Collection) ExportToCSVFile(ctx context.Context, path string, columns ...string) error {
	if c.nonTabular {
		return fmt.Errorf("%w: %s", ErrCSVUnsupported, c.query.Endpoint)
	}
	_, err := export.WriteCSVFile(ctx, path, c, nilIfEmpty(columns))
	return err
}

// ExportToJSON drains the collection into w as JSON Lines.
func (c *Collection) ExportToJSON(ctx context.Context, w io.Writer) error {
	_, err := export.WriteJSONLines(ctx, w, c)
	return err
}

// ExportToJSONFile drains the collection into a JSON Lines file at path.
func (c *Collection) ExportToJSONFile(ctx context.Context, path string) error {
	_, err := export.WriteJSONLinesFile(ctx, path, c)
	return err
}

// ToDataFrame drains the collection into a typed frame.
func (c *Collection) ToDataFrame(ctx context.Context, columns ...string) (*export.Frame, error) {
	return export.ToFrame(ctx, c, nilIfEmpty(columns))
}

// Parallel returns a parallel view of the same query.
func (c *Collection) Parallel(opts ParallelOptions) *ParallelCollection {
	return newParallel(c.retriever, c.query, c.nonTabular, opts)
}

func (c *Collection) fetch(ctx context.Context, q Query) (*Page, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	page, err := c.retriever.Retrieve(ctx, q.Endpoint, q.Params)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", q.Endpoint, err)
	}
	if page == nil {
		page = &Page{}
	}

	label := MetricLabel(q.Endpoint)
	pagesFetchedTotal.WithLabelValues(label).Inc()
	recordsFetchedTotal.WithLabelValues(label).Add(float64(len(page.Data)))

	log.Debug().
		Str("endpoint", q.Endpoint).
		Int("records", len(page.Data)).
		Bool("has_next", page.NextPageToken != "").
		Msg("Fetched page")

	return page, nil
}

func nilIfEmpty(columns []string) []string {
	if len(columns) == 0 {
		return nil
	}
	return columns
}
