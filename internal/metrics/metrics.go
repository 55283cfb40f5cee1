// Package metrics exposes Prometheus collectors for the annotator webapp.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	imageWritesTotal           prometheus.Counter
	imageWriteBytesTotal       prometheus.Counter
	imageReadsTotal            *prometheus.CounterVec
	uploadThrottledTotal       prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		imageWritesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsa_image_writes_total",
				Help: "Total number of accepted attribute uploads.",
			},
		)

		imageWriteBytesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsa_image_write_bytes_total",
				Help: "Total bytes written by attribute uploads.",
			},
		)

		imageReadsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "hsa_image_reads_total",
				Help: "Total number of image resource reads, labeled by outcome.",
			},
			[]string{"status"},
		)

		uploadThrottledTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "hsa_upload_throttled_total",
				Help: "Total number of attribute uploads rejected by the rate limiter.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveImageWrite records one accepted upload of n bytes.
func ObserveImageWrite(n int64) {
	if imageWritesTotal == nil {
		return
	}
	imageWritesTotal.Inc()
	if n > 0 {
		imageWriteBytesTotal.Add(float64(n))
	}
}

// ObserveImageRead records the outcome of an image read ("ok", "not_found", "failed").
func ObserveImageRead(status string) {
	if imageReadsTotal == nil {
		return
	}
	imageReadsTotal.WithLabelValues(status).Inc()
}

// ObserveUploadThrottled records one upload rejected with 429.
func ObserveUploadThrottled() {
	if uploadThrottledTotal == nil {
		return
	}
	uploadThrottledTotal.Inc()
}
