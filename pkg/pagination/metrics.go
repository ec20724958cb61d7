package pagination

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for pagination and parallel runs.
var (
	pagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_pages_fetched_total",
		Help: "Total pages fetched by endpoint",
	}, []string{"endpoint"})

	recordsFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_records_fetched_total",
		Help: "Total records fetched by endpoint",
	}, []string{"endpoint"})

	splitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "cm_parallel_splits_total",
		Help: "Total parallel splits by outcome",
	}, []string{"status"})

	activeWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "cm_parallel_active_workers",
		Help: "Number of parallel split workers currently running",
	})

	parallelRunDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "cm_parallel_run_duration_seconds",
		Help:    "Duration of parallel runs in seconds",
		Buckets: []float64{0.5, 1, 5, 15, 60, 300, 900},
	})
)
