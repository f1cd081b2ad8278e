package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics tracks provider request health and context-window behavior.
//
// Usage:
//
//	metrics := observability.NewMetrics(prometheus.DefaultRegisterer)
//	metrics.RequestCounter.WithLabelValues("zhipu", "glm-4-long", "success").Inc()
type Metrics struct {
	// RequestCounter counts provider requests.
	// Labels: provider, model, status (success|error)
	RequestCounter *prometheus.CounterVec

	// RequestDuration measures provider call latency in seconds.
	// Labels: provider, model
	RequestDuration *prometheus.HistogramVec

	// RetryCounter counts retry attempts by provider and reason.
	// Labels: provider, reason
	RetryCounter *prometheus.CounterVec

	// BreakerOpenCounter counts circuit breaker open transitions.
	// Labels: provider
	BreakerOpenCounter *prometheus.CounterVec

	// ContextBuildCounter counts context builds by outcome.
	// Labels: outcome (ok|empty)
	ContextBuildCounter *prometheus.CounterVec

	// ContextBreakCounter counts detected continuity breaks.
	// Labels: repaired (true|false)
	ContextBreakCounter *prometheus.CounterVec
}

// NewMetrics creates and registers all metrics with the given registerer.
// Tests pass a fresh prometheus.NewRegistry() for isolation.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_provider_requests_total",
				Help: "Total provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "storyloom_provider_request_duration_seconds",
				Help:    "Provider request latency in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"provider", "model"},
		),
		RetryCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_provider_retries_total",
				Help: "Total retry attempts by provider and failure reason",
			},
			[]string{"provider", "reason"},
		),
		BreakerOpenCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_provider_breaker_opens_total",
				Help: "Total circuit breaker open transitions by provider",
			},
			[]string{"provider"},
		),
		ContextBuildCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_context_builds_total",
				Help: "Context window builds by outcome",
			},
			[]string{"outcome"},
		),
		ContextBreakCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "storyloom_context_breaks_total",
				Help: "Detected context continuity breaks by repair outcome",
			},
			[]string{"repaired"},
		),
	}
}
