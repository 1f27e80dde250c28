package ratelimit

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the executor's prometheus collectors. A nil *Metrics records nothing.
type Metrics struct {
	attempts  *prometheus.CounterVec
	retries   *prometheus.CounterVec
	remaining *prometheus.GaugeVec
}

// NewMetrics creates and registers the executor collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xauth",
			Subsystem: "upstream",
			Name:      "attempts_total",
			Help:      "Upstream API attempts by endpoint and outcome.",
		}, []string{"endpoint", "outcome"}),
		retries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "xauth",
			Subsystem: "upstream",
			Name:      "retries_total",
			Help:      "Upstream API retries by endpoint and reason.",
		}, []string{"endpoint", "reason"}),
		remaining: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "xauth",
			Subsystem: "upstream",
			Name:      "rate_limit_remaining",
			Help:      "Last observed x-rate-limit-remaining per endpoint.",
		}, []string{"endpoint"}),
	}
	if registerer != nil {
		registerer.MustRegister(metrics.attempts, metrics.retries, metrics.remaining)
	}
	return metrics
}

func (metrics *Metrics) observeAttempt(endpoint string, outcome string) {
	if metrics == nil {
		return
	}
	metrics.attempts.WithLabelValues(endpoint, outcome).Inc()
}

func (metrics *Metrics) observeRetry(endpoint string, reason string) {
	if metrics == nil {
		return
	}
	metrics.retries.WithLabelValues(endpoint, reason).Inc()
}

func (metrics *Metrics) observeRemaining(endpoint string, remaining int) {
	if metrics == nil {
		return
	}
	metrics.remaining.WithLabelValues(endpoint).Set(float64(remaining))
}
