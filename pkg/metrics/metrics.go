// Package metrics exposes the client's Prometheus metrics over HTTP.
// The metrics themselves are defined in their own packages (client, cache,
// ratelimit, pagination) and registered through promauto with the default
// registry.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the registerer all client metrics are registered with.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered with Registry.
var Gatherer = prometheus.DefaultGatherer

// Path is where Serve exposes the metrics.
const Path = "/metrics"

// Metrics Documentation
//
// Request Metrics (pkg/client):
//   - cm_requests_total{endpoint, status} (Counter): API requests by endpoint and HTTP status
//   - cm_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - cm_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - cm_retries_total{error_class} (Counter): Retry attempts by error class
//   - cm_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - cm_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Rate Limit Metrics (pkg/ratelimit):
//   - cm_rate_limit_remaining (Gauge): Requests remaining in the current window
//   - cm_rate_limit_waits_total (Counter): Requests held until the window reset
//   - cm_rate_limit_throttles_total (Counter): Requests delayed because the quota was low
//
// Cache Metrics (pkg/cache):
//   - cm_cache_hits_total{layer="redis"} (Counter): Page cache hits
//   - cm_cache_misses_total (Counter): Page cache misses
//   - cm_cache_size_bytes{layer="redis"} (Gauge): Bytes of page data written
//   - cm_cache_errors_total{operation} (Counter): Cache operation errors
//
// Pagination Metrics (pkg/pagination):
//   - cm_pages_fetched_total{endpoint} (Counter): Pages fetched by endpoint
//   - cm_records_fetched_total{endpoint} (Counter): Records fetched by endpoint
//   - cm_parallel_splits_total{status} (Counter): Parallel splits by outcome
//   - cm_parallel_active_workers (Gauge): Split workers currently running
//   - cm_parallel_run_duration_seconds (Histogram): Duration of parallel runs
//
// Example Prometheus Queries:
//
//   # Cache Hit Rate
//   sum(rate(cm_cache_hits_total[5m])) /
//   (sum(rate(cm_cache_hits_total[5m])) + sum(rate(cm_cache_misses_total[5m])))
//
//   # Quota running low
//   cm_rate_limit_remaining < 3
//
//   # Failed splits
//   rate(cm_parallel_splits_total{status="failed"}[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(cm_request_duration_seconds_bucket[5m]))

// Handler returns an HTTP handler serving the metrics in Gatherer.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes the metrics on addr until ctx is done. It returns nil after
// a clean shutdown.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln)
}

func serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle(Path, Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()
	log.Info().Str("addr", ln.Addr().String()).Msg("Serving metrics")

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
