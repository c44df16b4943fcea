package validation

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	validationTotal *prometheus.CounterVec
	probeTotal      *prometheus.CounterVec

	metricsOnce sync.Once
)

// engineMetrics records validation outcomes. Registration is lazy and
// happens once per process regardless of how many engines exist.
type engineMetrics struct{}

func newEngineMetrics() *engineMetrics {
	metricsOnce.Do(func() {
		validationTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyhaven_validation_total",
				Help: "Total number of key validations by provider, mode and outcome",
			},
			[]string{"provider", "mode", "outcome"},
		)
		probeTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "keyhaven_live_probe_total",
				Help: "Total number of live validation probes by provider and outcome",
			},
			[]string{"provider", "outcome"},
		)
	})
	return &engineMetrics{}
}

func (m *engineMetrics) recordValidation(provider, mode, outcome string) {
	if validationTotal != nil {
		validationTotal.WithLabelValues(provider, mode, outcome).Inc()
	}
}

func (m *engineMetrics) recordProbe(provider, outcome string) {
	if probeTotal != nil {
		probeTotal.WithLabelValues(provider, outcome).Inc()
	}
}
