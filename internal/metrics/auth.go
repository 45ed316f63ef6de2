package metrics

import "github.com/prometheus/client_golang/prometheus"

// AuthMetrics holds Prometheus metrics for the Basic-auth gate.
type AuthMetrics struct {
	Attempts *prometheus.CounterVec
}

// NewAuthMetrics creates and registers auth gate metrics on the given
// registry.
func NewAuthMetrics(reg prometheus.Registerer) *AuthMetrics {
	m := &AuthMetrics{
		Attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total number of authentication attempts, by result.",
		}, []string{"result"}),
	}

	reg.MustRegister(m.Attempts)
	return m
}

// RecordAttempt counts one authentication outcome. It satisfies the
// gate's recorder contract.
func (m *AuthMetrics) RecordAttempt(result string) {
	m.Attempts.WithLabelValues(result).Inc()
}
