package rhst

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics instruments the engine. A nil *Metrics is valid and records nothing.
type Metrics struct {
	repetitions *prometheus.CounterVec
	duration    prometheus.Histogram
	runs        *prometheus.CounterVec
}

// NewMetrics registers the engine collectors on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		repetitions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rhst",
			Name:      "repetitions_total",
			Help:      "Repetitions finished, by outcome (success, failure, cancelled).",
		}, []string{"outcome"}),
		duration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: "rhst",
			Name:      "repetition_duration_seconds",
			Help:      "Wall time of one repetition across all feature sets.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "rhst",
			Name:      "runs_total",
			Help:      "Runs finished, by terminal state.",
		}, []string{"state"}),
	}
}

func (m *Metrics) observeRepetition(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.repetitions.WithLabelValues(outcome).Inc()
	if d > 0 {
		m.duration.Observe(d.Seconds())
	}
}

func (m *Metrics) observeRun(state RunState) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(state)).Inc()
}
