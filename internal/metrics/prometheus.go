// internal/metrics/prometheus.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the service counters. A nil *Metrics is valid and records
// nothing.
type Metrics struct {
	Activations   *prometheus.CounterVec
	Verifications *prometheus.CounterVec
	Alerts        *prometheus.CounterVec
	Orders        *prometheus.CounterVec
}

// NewPrometheusMetrics creates the counters and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		Activations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialkey",
			Name:      "activations_total",
			Help:      "Activation attempts by outcome.",
		}, []string{"outcome"}),
		Verifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialkey",
			Name:      "verifications_total",
			Help:      "Verification attempts by outcome.",
		}, []string{"outcome"}),
		Alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialkey",
			Name:      "alerts_total",
			Help:      "Alert deliveries by category and result.",
		}, []string{"category", "result"}),
		Orders: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "serialkey",
			Name:      "orders_total",
			Help:      "Payment webhook orders by outcome.",
		}, []string{"outcome"}),
	}

	for _, c := range []prometheus.Collector{m.Activations, m.Verifications, m.Alerts, m.Orders} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

func (m *Metrics) RecordActivation(outcome string) {
	if m == nil {
		return
	}
	m.Activations.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordVerification(outcome string) {
	if m == nil {
		return
	}
	m.Verifications.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordAlert(category, result string) {
	if m == nil {
		return
	}
	m.Alerts.WithLabelValues(category, result).Inc()
}

func (m *Metrics) RecordOrder(outcome string) {
	if m == nil {
		return
	}
	m.Orders.WithLabelValues(outcome).Inc()
}
