// Package metrics provides Prometheus instrumentation for the payments service.
package metrics

import (
	"context"
	"database/sql"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// HTTPRequestsTotal counts HTTP requests by method, route and status class.
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kindkart",
			Name:      "http_requests_total",
			Help:      "Total HTTP requests by method, route pattern, and status class.",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration observes request latency by method and route.
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kindkart",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// EscrowOperationsTotal counts escrow engine operations by outcome.
	// op: open_order, capture, release, dispute, complete
	EscrowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kindkart",
			Subsystem: "escrow",
			Name:      "operations_total",
			Help:      "Escrow operations by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)

	// SignatureFailuresTotal counts payment signatures that failed verification.
	SignatureFailuresTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "kindkart",
		Subsystem: "escrow",
		Name:      "signature_failures_total",
		Help:      "Payment verifications rejected for a signature mismatch.",
	})

	// EscrowHoldDuration observes time from capture to explicit release.
	EscrowHoldDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: "kindkart",
		Subsystem: "escrow",
		Name:      "hold_duration_seconds",
		Help:      "Time from payment capture to explicit release in seconds.",
		Buckets:   []float64{30, 60, 120, 300, 600, 1200, 1800, 3600, 86400},
	})

	// CreditsAppliedTotal sums credit points applied by category.
	CreditsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kindkart",
			Subsystem: "reputation",
			Name:      "credits_applied_total",
			Help:      "Credit events applied by category and sign.",
		},
		[]string{"category", "sign"},
	)

	// BadgesAwardedTotal counts badge awards by badge.
	BadgesAwardedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kindkart",
			Subsystem: "reputation",
			Name:      "badges_awarded_total",
			Help:      "Badges awarded by badge id.",
		},
		[]string{"badge"},
	)

	// ActiveWebSocketClients tracks connected realtime clients.
	ActiveWebSocketClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindkart",
		Name:      "active_websocket_clients",
		Help:      "Number of currently connected WebSocket clients.",
	})

	DBOpenConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindkart", Name: "db_open_connections",
		Help: "Number of open database connections.",
	})
	DBInUseConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindkart", Name: "db_in_use_connections",
		Help: "Number of in-use database connections.",
	})
	DBWaitDuration = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindkart", Name: "db_wait_duration_seconds_total",
		Help: "Total time waited for connections in seconds.",
	})
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "kindkart", Name: "goroutines",
		Help: "Current number of goroutines.",
	})
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		EscrowOperationsTotal,
		SignatureFailuresTotal,
		EscrowHoldDuration,
		CreditsAppliedTotal,
		BadgesAwardedTotal,
		ActiveWebSocketClients,
		DBOpenConnections,
		DBInUseConnections,
		DBWaitDuration,
		GoroutineCount,
	)
}

// EscrowOp records the outcome of one escrow operation.
func EscrowOp(op string, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	EscrowOperationsTotal.WithLabelValues(op, outcome).Inc()
}

// StartDBStatsCollector samples sql.DBStats and the goroutine count until
// ctx is done.
func StartDBStatsCollector(ctx context.Context, db *sql.DB, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := db.Stats()
			DBOpenConnections.Set(float64(stats.OpenConnections))
			DBInUseConnections.Set(float64(stats.InUse))
			DBWaitDuration.Set(stats.WaitDuration.Seconds())
			GoroutineCount.Set(float64(runtime.NumGoroutine()))
		}
	}
}

// Middleware returns a gin middleware that records request metrics.
func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath() // route pattern keeps label cardinality bounded
		if path == "" {
			path = "unmatched"
		}
		HTTPRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
		HTTPRequestsTotal.WithLabelValues(c.Request.Method, path, statusBucket(c.Writer.Status())).Inc()
	}
}

// Handler returns the Prometheus metrics HTTP handler for /metrics endpoint.
func Handler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

func statusBucket(code int) string {
	switch {
	case code < 200:
		return "1xx"
	case code < 300:
		return "2xx"
	case code < 400:
		return "3xx"
	case code < 500:
		return "4xx"
	default:
		return "5xx"
	}
}
