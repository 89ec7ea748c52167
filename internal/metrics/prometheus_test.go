package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getCounterValue(t *testing.T, vec *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()

	var m dto.Metric
	require.NoError(t, vec.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func TestRecordActivation(t *testing.T) {
	m, err := NewPrometheusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordActivation("activated")
	m.RecordActivation("activated")
	m.RecordActivation("device_conflict")

	assert.Equal(t, 2.0, getCounterValue(t, m.Activations, "activated"))
	assert.Equal(t, 1.0, getCounterValue(t, m.Activations, "device_conflict"))
}

func TestRecordAlertLabels(t *testing.T) {
	m, err := NewPrometheusMetrics(prometheus.NewRegistry())
	require.NoError(t, err)

	m.RecordAlert("device_mismatch", "sent")
	m.RecordAlert("device_mismatch", "failed")
	m.RecordVerification("valid")
	m.RecordOrder("assigned")

	assert.Equal(t, 1.0, getCounterValue(t, m.Alerts, "device_mismatch", "sent"))
	assert.Equal(t, 1.0, getCounterValue(t, m.Alerts, "device_mismatch", "failed"))
	assert.Equal(t, 1.0, getCounterValue(t, m.Verifications, "valid"))
	assert.Equal(t, 1.0, getCounterValue(t, m.Orders, "assigned"))
}

func TestDoubleRegistrationFails(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := NewPrometheusMetrics(reg)
	require.NoError(t, err)

	_, err = NewPrometheusMetrics(reg)
	assert.Error(t, err)
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordActivation("activated")
		m.RecordVerification("valid")
		m.RecordAlert("activation", "sent")
		m.RecordOrder("assigned")
	})
}
