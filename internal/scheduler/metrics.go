package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are the scheduler's Prometheus instruments. A nil *Metrics
// records nothing.
type Metrics struct {
	FilesProcessed prometheus.Counter
	Errors         prometheus.Counter
	Replacements   prometheus.Counter
	IdleWorkers    prometheus.Gauge
}

// NewMetrics registers the scheduler instruments on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		FilesProcessed: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codemod_runner",
			Name:      "files_processed_total",
			Help:      "Files whose codemod run completed, successfully or not.",
		}),
		Errors: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codemod_runner",
			Name:      "codemod_errors_total",
			Help:      "Files whose codemod run reported an error or timed out.",
		}),
		Replacements: f.NewCounter(prometheus.CounterOpts{
			Namespace: "codemod_runner",
			Name:      "worker_replacements_total",
			Help:      "Workers terminated as stale and replaced.",
		}),
		IdleWorkers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: "codemod_runner",
			Name:      "idle_workers",
			Help:      "Workers currently waiting for a file.",
		}),
	}
}

func (m *Metrics) processed() {
	if m != nil {
		m.FilesProcessed.Inc()
	}
}

func (m *Metrics) failed() {
	if m != nil {
		m.Errors.Inc()
	}
}

func (m *Metrics) replaced() {
	if m != nil {
		m.Replacements.Inc()
	}
}

func (m *Metrics) idle(n int) {
	if m != nil {
		m.IdleWorkers.Set(float64(n))
	}
}
