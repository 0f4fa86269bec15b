package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	pipelineRunsTotal   *prometheus.CounterVec
	pipelineRunDuration prometheus.Histogram
	sourceFetchesTotal  *prometheus.CounterVec
}

// New creates a fresh Metrics registry with HTTP and pipeline metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basemap",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests processed by the basemap service",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "basemap",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served by the basemap service",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	pipelineRunsTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basemap",
		Name:      "pipeline_runs_total",
		Help:      "Total number of basemap pipeline runs by terminal state",
	}, []string{"state"})

	pipelineRunDuration := prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "basemap",
		Name:      "pipeline_run_duration_seconds",
		Help:      "Duration of basemap pipeline runs from resolution to completion",
		Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
	})

	sourceFetchesTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "basemap",
		Name:      "source_fetches_total",
		Help:      "Per-source fetch outcomes (ok, empty, error)",
	}, []string{"source", "outcome"})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		pipelineRunsTotal,
		pipelineRunDuration,
		sourceFetchesTotal,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		pipelineRunsTotal:   pipelineRunsTotal,
		pipelineRunDuration: pipelineRunDuration,
		sourceFetchesTotal:  sourceFetchesTotal,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// IncPipelineRun counts one finished pipeline run under its terminal state.
func (m *Metrics) IncPipelineRun(state string) {
	if m == nil {
		return
	}
	m.pipelineRunsTotal.With(prometheus.Labels{"state": state}).Inc()
}

// ObservePipelineRunDuration observes a full pipeline run duration.
func (m *Metrics) ObservePipelineRunDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.pipelineRunDuration.Observe(duration.Seconds())
}

// IncSourceFetch counts one per-source fetch outcome.
func (m *Metrics) IncSourceFetch(source, outcome string) {
	if m == nil {
		return
	}
	m.sourceFetchesTotal.With(prometheus.Labels{"source": source, "outcome": outcome}).Inc()
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
