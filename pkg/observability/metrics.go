// Package observability provides Prometheus metrics for the exporter.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "txexporter"

var (
	// Explorer metrics
	ExplorerRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "explorer",
		Name:      "requests_total",
		Help:      "Explorer API requests by action and outcome",
	}, []string{"action", "outcome"})
	ExplorerLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "explorer",
		Name:      "request_duration_seconds",
		Help:      "Explorer API request latency in seconds",
		Buckets:   prometheus.DefBuckets,
	}, []string{"action"})

	// Pipeline metrics
	PagesFetched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "pager",
		Name:      "pages_fetched_total",
		Help:      "Result pages fetched from the explorer",
	})
	TransfersExported = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "export",
		Name:      "transfers_exported_total",
		Help:      "Transfer rows written to CSV",
	})

	// Job metrics
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "finished_total",
		Help:      "Finished background jobs by kind and final status",
	}, []string{"kind", "status"})
	JobsRunning = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "running",
		Help:      "Background jobs currently running",
	}, []string{"kind"})
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "jobs",
		Name:      "duration_seconds",
		Help:      "Background job duration in seconds",
		Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800},
	}, []string{"kind"})
)

// ObserveExplorer records a single explorer request.
func ObserveExplorer(action, outcome string, started time.Time) {
	ExplorerRequests.WithLabelValues(action, outcome).Inc()
	ExplorerLatency.WithLabelValues(action).Observe(time.Since(started).Seconds())
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
