package gateway

import (
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	orderCalls = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kindkart",
		Subsystem: "gateway",
		Name:      "order_calls_total",
		Help:      "Gateway order creation calls by provider and outcome.",
	}, []string{"provider", "outcome"}) // "ok", "rejected", "unavailable"

	orderLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kindkart",
		Subsystem: "gateway",
		Name:      "order_latency_seconds",
		Help:      "Gateway order creation latency in seconds.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"provider"})
)

func init() {
	prometheus.MustRegister(orderCalls, orderLatency)
}

func observe(provider string, err error, elapsed time.Duration) {
	outcome := "ok"
	switch {
	case err == nil:
	case errors.Is(err, ErrOrderRejected):
		outcome = "rejected"
	default:
		outcome = "unavailable"
	}
	orderCalls.WithLabelValues(provider, outcome).Inc()
	orderLatency.WithLabelValues(provider).Observe(elapsed.Seconds())
}
