package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/Sternrassler/coinmetrics-client/pkg/cache"
	"github.com/Sternrassler/coinmetrics-client/pkg/catalog"
	"github.com/Sternrassler/coinmetrics-client/pkg/pagination"
	"github.com/Sternrassler/coinmetrics-client/pkg/params"
	"github.com/Sternrassler/coinmetrics-client/pkg/record"
)

// Retrieve fetches one page of endpoint. It implements pagination.Retriever.
//
// A response without a data array, with a non-object record or with a page
// token that is not a string fails with a *ProtocolError. An error object in
// the body fails with an *APIError.
func (c *Client) Retrieve(ctx context.Context, endpoint string, p map[string]string) (*pagination.Page, error) {
	key := cache.Key{Endpoint: endpoint, Params: p}
	if c.cache != nil {
		entry, err := c.cache.Get(ctx, key)
		switch {
		case err == nil:
			c.logger.Debug().Str("endpoint", endpoint).Msg("Serving page from cache")
			return decodePage(endpoint, entry.Data)
		case !errors.Is(err, cache.ErrCacheMiss):
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Cache get error")
		}
	}

	resp, err := c.SendRequest(ctx, c.URL(endpoint, p))
	if err != nil {
		return nil, err
	}

	page, err := decodePage(endpoint, resp.Body)
	if err != nil {
		return nil, err
	}

	if c.cache != nil && cache.Cacheable(resp.StatusCode, resp.Header) {
		entry := cache.NewEntry(resp.StatusCode, resp.Header, resp.Body, c.config.CacheTTL)
		if err := c.cache.Set(ctx, key, entry); err != nil {
			c.logger.Warn().Err(err).Str("endpoint", endpoint).Msg("Failed to cache page")
		}
	}
	return page, nil
}

// URL builds the request URL for endpoint with the given parameters, sorted
// by name, and the API key.
func (c *Client) URL(endpoint string, p map[string]string) string {
	q := make(url.Values, len(p)+1)
	for k, v := range p {
		q.Set(k, v)
	}
	if c.config.APIKey != "" {
		q.Set("api_key", c.config.APIKey)
	}
	u := c.config.BaseURL + "/" + strings.TrimLeft(endpoint, "/")
	if len(q) == 0 {
		return u
	}
	return u + "?" + q.Encode()
}

// decodePage parses a page body. Full block and transaction endpoints
// return a single document instead of a data array; it becomes a one-record
// page.
func decodePage(endpoint string, body []byte) (*pagination.Page, error) {
	doc, err := record.Parse(body)
	if err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: fmt.Sprintf("decode body: %v", err)}
	}

	if errVal := doc.Value("error"); errVal.Kind() == record.KindObject {
		e := errVal.Record()
		typ, _ := e.Value("type").Str()
		msg, _ := e.Value("message").Str()
		return nil, &APIError{StatusCode: 200, ErrorClass: ErrorClassClient, Type: typ, Message: msg}
	}

	data, ok := doc.Get("data")
	if !ok {
		if !pagination.IsTabular(endpoint) {
			return &pagination.Page{Data: []*record.Record{doc}}, nil
		}
		return nil, &ProtocolError{Endpoint: endpoint, Reason: "response has no data field"}
	}
	if data.Kind() != record.KindList {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: fmt.Sprintf("data is %s, want list", data.Kind())}
	}

	page := &pagination.Page{Data: make([]*record.Record, 0, len(data.Items()))}
	for i, item := range data.Items() {
		r := item.Record()
		if r == nil {
			return nil, &ProtocolError{Endpoint: endpoint, Reason: fmt.Sprintf("data[%d] is %s, want object", i, item.Kind())}
		}
		page.Data = append(page.Data, r)
	}

	if page.NextPageToken, err = optionalString(doc, pagination.PageTokenParam); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: err.Error()}
	}
	if page.NextPageURL, err = optionalString(doc, "next_page_url"); err != nil {
		return nil, &ProtocolError{Endpoint: endpoint, Reason: err.Error()}
	}
	return page, nil
}

func optionalString(doc *record.Record, field string) (string, error) {
	v := doc.Value(field)
	if v.IsNull() {
		return "", nil
	}
	s, ok := v.Str()
	if !ok {
		return "", fmt.Errorf("%s is %s, want string", field, v.Kind())
	}
	return s, nil
}

// Collection returns a lazily paginated collection over endpoint. Parameter
// values are normalized immediately, so unsupported values fail here and
// not at the first fetch.
func (c *Client) Collection(endpoint string, p map[string]any, opts ...pagination.Option) (*pagination.Collection, error) {
	normalized, err := params.Normalize(p)
	if err != nil {
		return nil, err
	}
	return pagination.NewCollection(c, pagination.NewQuery(endpoint, normalized), opts...), nil
}

// Catalog lists every entry of a catalog kind, ready for flattening.
func (c *Client) Catalog(ctx context.Context, kind string, p map[string]any) (*catalog.Data, error) {
	k, err := catalog.Lookup(kind)
	if err != nil {
		return nil, err
	}
	coll, err := c.Collection(k.Endpoint, p)
	if err != nil {
		return nil, err
	}
	records, err := coll.ToList(ctx)
	if err != nil {
		return nil, err
	}
	return &catalog.Data{Kind: k, Records: records}, nil
}

// InvalidateCache drops every cached page of endpoint and returns the number
// removed. It does nothing when the page cache is disabled.
func (c *Client) InvalidateCache(ctx context.Context, endpoint string) (int, error) {
	if c.cache == nil {
		return 0, nil
	}
	n, err := c.cache.Invalidate(ctx, endpoint)
	if err != nil {
		return n, fmt.Errorf("invalidate %s: %w", endpoint, err)
	}
	c.logger.Info().Str("endpoint", endpoint).Int("pages", n).Msg("Invalidated cached pages")
	return n, nil
}
