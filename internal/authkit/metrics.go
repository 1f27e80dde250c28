package authkit

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsRecorder increments counters for auth events.
type MetricsRecorder interface {
	Increment(event string)
}

// CounterMetrics implements MetricsRecorder with in-memory counts.
type CounterMetrics struct {
	mutex  sync.Mutex
	counts map[string]int64
}

// NewCounterMetrics constructs an in-memory metrics recorder.
func NewCounterMetrics() *CounterMetrics {
	return &CounterMetrics{counts: make(map[string]int64)}
}

// Increment increases the counter for the given event.
func (recorder *CounterMetrics) Increment(event string) {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	recorder.counts[event]++
}

// Count returns the current value for the given event.
func (recorder *CounterMetrics) Count(event string) int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	return recorder.counts[event]
}

// Snapshot returns a copy of all recorded counters.
func (recorder *CounterMetrics) Snapshot() map[string]int64 {
	recorder.mutex.Lock()
	defer recorder.mutex.Unlock()
	clone := make(map[string]int64, len(recorder.counts))
	for key, value := range recorder.counts {
		clone[key] = value
	}
	return clone
}

// Auth event names recorded through MetricsRecorder.
const (
	MetricLoginStarted       = "auth.login.started"
	MetricLoginSucceeded     = "auth.login.succeeded"
	MetricLoginStateInvalid  = "auth.login.state_invalid"
	MetricLoginProviderError = "auth.login.provider_error"
	MetricLoginDenied        = "auth.login.denied"
	MetricRefreshSucceeded   = "auth.refresh.succeeded"
	MetricRefreshFailed      = "auth.refresh.failed"
	MetricLogout             = "auth.logout"
	MetricFollowChecked      = "api.follow_status.checked"
	MetricFollowSkipped      = "api.follow_status.skipped"
	MetricProfileLookup      = "api.user_lookup"
)

// PrometheusMetrics implements MetricsRecorder as a labelled prometheus counter.
type PrometheusMetrics struct {
	events *prometheus.CounterVec
}

// NewPrometheusMetrics creates and registers the auth event counter.
func NewPrometheusMetrics(registerer prometheus.Registerer) *PrometheusMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "xauth",
		Name:      "auth_events_total",
		Help:      "Authentication and provider API usage events.",
	}, []string{"event"})
	if registerer != nil {
		registerer.MustRegister(events)
	}
	return &PrometheusMetrics{events: events}
}

// Increment increases the counter for the given event.
func (recorder *PrometheusMetrics) Increment(event string) {
	recorder.events.WithLabelValues(event).Inc()
}

type noopMetrics struct{}

func (noopMetrics) Increment(string) {}
