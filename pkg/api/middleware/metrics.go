package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"randooprun/pkg/metrics"
)

var factory = promauto.With(metrics.Registry)

var (
	// HTTPRequestsTotal counts status API requests.
	HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "randooprun",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks request latency.
	HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "randooprun",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
		[]string{"method", "path"},
	)

	// HTTPActiveRequests tracks in-flight requests.
	HTTPActiveRequests = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "randooprun",
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// MetricsMiddleware records request metrics. Scrapes of /metrics are not
// counted.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.URL.Path == "/metrics" {
			c.Next()
			return
		}

		start := time.Now()
		method := c.Request.Method

		HTTPActiveRequests.Inc()
		defer HTTPActiveRequests.Dec()

		c.Next()

		path := routeLabel(c.FullPath())
		status := strconv.Itoa(c.Writer.Status())
		HTTPRequestsTotal.WithLabelValues(method, path, status).Inc()
		HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
	}
}

func routeLabel(path string) string {
	if path == "" {
		return "unmatched"
	}
	return path
}
