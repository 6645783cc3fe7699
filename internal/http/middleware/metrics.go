// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file holds the Prometheus collectors for the journal API. Request
// metrics are labelled by method, registered route and status. Requests that
// matched no route share the "unmatched" path label so scanners cannot blow
// up cardinality.
//
// Chat responses are long-lived event streams. Their wall time is recorded by
// TrackStream and left out of the request latency histogram.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

const unmatchedPath = "unmatched"

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status.",
		},
		[]string{"method", "path", "status"},
	)

	// Status is left off to keep the histogram small.
	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "journal",
			Name:      "http_request_duration_seconds",
			Help:      "Latency of non-streaming HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	httpInflight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "journal",
			Name:      "http_requests_inflight",
			Help:      "HTTP requests currently being served.",
		},
	)

	// Journal payloads are small JSON except history pages and uploads.
	httpRespSize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "journal",
			Name:      "http_response_size_bytes",
			Help:      "Response body size in bytes.",
			Buckets:   prometheus.ExponentialBuckets(256, 4, 8), // 256B..4MiB
		},
		[]string{"method", "path"},
	)

	chatStreams = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "journal",
			Name:      "chat_streams_inflight",
			Help:      "Chat event streams currently open.",
		},
	)

	// outcome is one of done, error, canceled.
	chatStreamOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "journal",
			Name:      "chat_streams_total",
			Help:      "Finished chat event streams by outcome.",
		},
		[]string{"outcome"},
	)

	chatStreamDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "journal",
			Name:      "chat_stream_duration_seconds",
			Help:      "Wall time of chat event streams.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpReqs, httpLat, httpInflight, httpRespSize,
		chatStreams, chatStreamOutcomes, chatStreamDuration,
	)
}

// MetricsOptions configures Metrics.
type MetricsOptions struct {
	// StreamPaths are route prefixes whose latency is not observed. They are
	// still counted in http_requests_total.
	StreamPaths []string
}

// Metrics counts every request and observes latency and response size.
//
//	r.Use(middleware.Metrics(middleware.MetricsOptions{StreamPaths: []string{"/api/chat"}}))
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics(opts MetricsOptions) gin.HandlerFunc {
	streaming := func(path string) bool {
		for _, p := range opts.StreamPaths {
			if p != "" && strings.HasPrefix(path, p) {
				return true
			}
		}
		return false
	}

	return func(c *gin.Context) {
		start := time.Now()
		httpInflight.Inc()
		defer httpInflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method

		httpReqs.WithLabelValues(method, path, strconv.Itoa(c.Writer.Status())).Inc()
		if !streaming(path) {
			httpLat.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
		}
		// -1 when nothing was written.
		if size := c.Writer.Size(); size >= 0 {
			httpRespSize.WithLabelValues(method, path).Observe(float64(size))
		}
	}
}

// TrackStream marks a chat stream as open and returns the function that
// closes it with the given outcome.
func TrackStream() (done func(outcome string)) {
	start := time.Now()
	chatStreams.Inc()
	return func(outcome string) {
		chatStreams.Dec()
		chatStreamOutcomes.WithLabelValues(outcome).Inc()
		chatStreamDuration.Observe(time.Since(start).Seconds())
	}
}
