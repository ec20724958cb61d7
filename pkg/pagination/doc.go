// Package pagination turns page-token listing endpoints into lazy record
// sequences and runs them in parallel.
//
// The API returns at most one page of records per request together with a
// next_page_token. A Collection hides that protocol: it fetches the first
// page on demand, refills its buffer from the next page whenever the buffer
// runs dry, and stops once a response carries no token.
//
//	c := pagination.NewCollection(client, pagination.NewQuery("timeseries/asset-metrics", p))
//	for c.Next(ctx) {
//		fmt.Println(c.Record())
//	}
//	if err := c.Err(); err != nil {
//		return err
//	}
//
// A ParallelCollection splits one query into independent sub-queries, by
// entity list (assets=btc,eth → one query per asset), by time window
// (start_time/end_time cut into calendar-aware half-open windows) or by
// block height range, and runs them on a bounded worker pool:
//
//	opts := pagination.DefaultParallelOptions()
//	opts.TimeIncrement = pagination.Months(1)
//	records, err := c.Parallel(opts).ToList(ctx)
//
// Merged output always follows plan order (entity order, then time order)
// regardless of which split finishes first. Failed splits are reported in
// a *SplitExecutionError carrying each failed split's query, so just those
// can be retried.
//
// Page tokens are treated as client-supplied cursors: re-sending a token
// addresses the same page, which makes retrying a page fetch safe.
package pagination
