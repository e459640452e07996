// Package metrics exposes Prometheus counters for gateway traffic.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apantli",
		Name:      "requests_total",
		Help:      "Completed requests by provider, model, and outcome.",
	}, []string{"provider", "model", "outcome"})

	tokensTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apantli",
		Name:      "tokens_total",
		Help:      "Tokens consumed by provider, model, and direction.",
	}, []string{"provider", "model", "direction"})

	costTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "apantli",
		Name:      "cost_dollars_total",
		Help:      "Accumulated cost in dollars by provider and model.",
	}, []string{"provider", "model"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "apantli",
		Name:      "request_duration_seconds",
		Help:      "End-to-end request duration.",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
	}, []string{"provider", "model"})

	activeStreams = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "apantli",
		Name:      "active_streams",
		Help:      "Streaming responses currently being relayed.",
	})
)

// ObserveRequest records one completed request. Outcome is one of
// "success", "error", or "disconnect".
func ObserveRequest(provider, model, outcome string, duration time.Duration) {
	requestsTotal.WithLabelValues(provider, model, outcome).Inc()
	requestDuration.WithLabelValues(provider, model).Observe(duration.Seconds())
}

// ObserveUsage records token and cost consumption.
func ObserveUsage(provider, model string, promptTokens, completionTokens int64, cost float64) {
	if promptTokens > 0 {
		tokensTotal.WithLabelValues(provider, model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		tokensTotal.WithLabelValues(provider, model, "completion").Add(float64(completionTokens))
	}
	if cost > 0 {
		costTotal.WithLabelValues(provider, model).Add(cost)
	}
}

// StreamStarted marks a stream as live; the returned func marks it done.
func StreamStarted() func() {
	activeStreams.Inc()
	return activeStreams.Dec
}

// Handler serves the Prometheus exposition endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
