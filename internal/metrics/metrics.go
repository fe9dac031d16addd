// Package metrics registers the service's Prometheus collectors and exposes
// the scrape handler.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concentra_http_requests_total",
		Help: "HTTP requests by path and status code.",
	}, []string{"path", "status"})

	RequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "concentra_http_request_duration_seconds",
		Help:    "HTTP request latency by path.",
		Buckets: prometheus.DefBuckets,
	}, []string{"path"})

	UploadsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concentra_uploads_total",
		Help: "Dataset uploads by outcome.",
	}, []string{"outcome"})

	UploadBytes = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "concentra_upload_bytes",
		Help:    "Uploaded file sizes in bytes.",
		Buckets: prometheus.ExponentialBuckets(1024, 4, 8),
	})

	AnalysesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concentra_analyses_total",
		Help: "Concentration analyses by outcome.",
	}, []string{"outcome"})

	AnalysisDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "concentra_analysis_duration_seconds",
		Help:    "End-to-end analysis latency.",
		Buckets: prometheus.DefBuckets,
	})

	AdvisoryCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "concentra_advisory_calls_total",
		Help: "Advisory layer outcomes by function and status or placeholder reason.",
	}, []string{"function", "status"})

	RateLimitedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "concentra_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

// Handler returns the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
