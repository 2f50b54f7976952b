package handler

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	scmRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scm_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	scmRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "scm_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	scmLoginsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scm_logins_total",
		Help: "Total login attempts by method and result.",
	}, []string{"method", "result"})

	scmActiveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "scm_active_sessions",
		Help: "Number of live server-side session managers.",
	})

	scmGuardDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "scm_guard_decisions_total",
		Help: "Route guard decisions by outcome.",
	}, []string{"decision"})
)

// PrometheusMiddleware records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = c.Request.URL.Path
		}

		scmRequestsTotal.WithLabelValues(method, path, status).Inc()
		scmRequestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler serves the Prometheus scrape endpoint.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordLogin records a login attempt. method is "password" or "google".
func RecordLogin(method string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	scmLoginsTotal.WithLabelValues(method, result).Inc()
}

// SetActiveSessions sets the live session manager gauge.
func SetActiveSessions(n float64) {
	scmActiveSessions.Set(n)
}

// RecordGuardDecision records a route guard outcome.
func RecordGuardDecision(decision string) {
	scmGuardDecisionsTotal.WithLabelValues(decision).Inc()
}
