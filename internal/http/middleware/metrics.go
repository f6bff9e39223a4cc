// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file exposes Prometheus instrumentation for HTTP traffic. Labels stay
// bounded:
//
//   - surface:  "terminal" for /iclock, "api" for the operator API, "system"
//     for health, metrics and docs
//   - method:   HTTP method verb
//   - path:     the registered Gin route (e.g. /api/v1/devices/:sn/commands);
//     unmatched requests share the "unmatched" label so scanners cannot
//     blow up cardinality
//   - status:   numeric status code as a string
//
// Terminal upload bodies get their own size histogram; a fleet catching up
// after an outage shows up there first.
package middleware

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// TerminalPathPrefix is the route prefix of the terminal protocol.
const TerminalPathPrefix = "/iclock"

const (
	surfaceTerminal = "terminal"
	surfaceAPI      = "api"
	surfaceSystem   = "system"
	unmatchedPath   = "unmatched"
)

var (
	httpReqs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"surface", "method", "path", "status"},
	)

	httpLat = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"surface", "method", "path"},
	)

	httpInflight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "http_requests_inflight",
			Help: "Current number of in-flight HTTP requests.",
		},
		[]string{"surface"},
	)

	// Terminal bodies range from a single punch to multi-megabyte template dumps.
	terminalBodySize = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "adms_terminal_request_bytes",
			Help: "Size of request bodies posted by terminals.",
			Buckets: []float64{
				64, 256, 1 << 10, 4 << 10, 16 << 10,
				64 << 10, 256 << 10, 1 << 20, 4 << 20,
			},
		},
		[]string{"path"},
	)

	// kind is "sn" or "ip", matching the limiter key namespace.
	rateLimited = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adms_api_rate_limited_total",
			Help: "Operator API requests rejected by the rate limiter.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpReqs, httpLat, httpInflight, terminalBodySize, rateLimited)
}

// surfaceOf classifies a request path.
func surfaceOf(path string) string {
	switch {
	case strings.HasPrefix(path, TerminalPathPrefix+"/"):
		return surfaceTerminal
	case path == "/health" || path == "/ready" || path == "/metrics" || strings.HasPrefix(path, "/swagger/"):
		return surfaceSystem
	default:
		return surfaceAPI
	}
}

// Metrics returns a Gin middleware that instruments requests with Prometheus.
//
//	r := gin.New()
//	r.Use(middleware.Metrics())
//	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
func Metrics() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		surface := surfaceOf(c.Request.URL.Path)
		inflight := httpInflight.WithLabelValues(surface)
		inflight.Inc()
		defer inflight.Dec()

		c.Next()

		path := c.FullPath()
		if path == "" {
			path = unmatchedPath
		}
		method := c.Request.Method
		status := strconv.Itoa(c.Writer.Status())

		httpReqs.WithLabelValues(surface, method, path, status).Inc()
		httpLat.WithLabelValues(surface, method, path).Observe(time.Since(start).Seconds())
		if surface == surfaceTerminal && c.Request.ContentLength > 0 {
			terminalBodySize.WithLabelValues(path).Observe(float64(c.Request.ContentLength))
		}
	}
}
