package vault

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	operationsTotal *prometheus.CounterVec
	rotationTotal   *prometheus.CounterVec

	metricsOnce sync.Once
)

// managerMetrics records vault operation outcomes. Registration is lazy
// and happens once per process regardless of how many managers exist.
type managerMetrics struct{}

func newManagerMetrics() *managerMetrics {
	metricsOnce.Do(func() {
		operationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyhaven_vault_operations_total",
				Help: "Total number of vault operations by operation and outcome",
			},
			[]string{"operation", "outcome"},
		)
		rotationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyhaven_rotation_total",
				Help: "Total number of key rotation events by result",
			},
			[]string{"result"},
		)
	})
	return &managerMetrics{}
}

func (m *managerMetrics) recordOp(operation, outcome string) {
	if operationsTotal != nil {
		operationsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

func (m *managerMetrics) recordRotation(result string) {
	if rotationTotal != nil {
		rotationTotal.WithLabelValues(result).Inc()
	}
}
