package lifecycle

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var phaseBuckets = []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300, 600}

type metrics struct {
	deployments   *prometheus.CounterVec
	rollbacks     prometheus.Counter
	phaseDuration *prometheus.HistogramVec
}

var (
	metricsOnce   sync.Once
	sharedMetrics *metrics
)

func newMetrics() *metrics {
	metricsOnce.Do(func() {
		m := &metrics{
			deployments: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "switchyard",
				Subsystem: "lifecycle",
				Name:      "deployments_total",
				Help:      "Count of deployment attempts by outcome",
			}, []string{"outcome"}),
			rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "switchyard",
				Subsystem: "lifecycle",
				Name:      "rollbacks_total",
				Help:      "Count of automatic and manual rollbacks",
			}),
			phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "switchyard",
				Subsystem: "lifecycle",
				Name:      "phase_duration_seconds",
				Help:      "Duration of deployment phases",
				Buckets:   phaseBuckets,
			}, []string{"phase"}),
		}
		collectors := []prometheus.Collector{m.deployments, m.rollbacks, m.phaseDuration}
		for _, collector := range collectors {
			if err := prometheus.Register(collector); err != nil {
				if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
					switch existing := already.ExistingCollector.(type) {
					case *prometheus.CounterVec:
						m.deployments = existing
					case prometheus.Counter:
						m.rollbacks = existing
					case *prometheus.HistogramVec:
						m.phaseDuration = existing
					}
				}
			}
		}
		sharedMetrics = m
	})
	return sharedMetrics
}

func (m *metrics) recordOutcome(outcome string) {
	if m == nil {
		return
	}
	m.deployments.WithLabelValues(outcome).Inc()
}

func (m *metrics) recordRollback() {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
}

func (m *metrics) observePhase(phase string, start time.Time) {
	if m == nil {
		return
	}
	m.phaseDuration.WithLabelValues(phase).Observe(time.Since(start).Seconds())
}
