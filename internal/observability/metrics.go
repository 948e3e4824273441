// File: internal/observability/metrics.go
package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects per-run audit counters on a private registry. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	auditsTotal   *prometheus.CounterVec
	auditDuration prometheus.Histogram
	findingsTotal *prometheus.CounterVec
	probeFailures *prometheus.CounterVec
	tabTraps      prometheus.Counter
}

// NewMetrics registers the audit metrics on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		auditsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageprobe_audits_total",
				Help: "Total number of page audits by outcome",
			},
			[]string{"status"},
		),
		auditDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "pageprobe_audit_duration_seconds",
				Help:    "Wall time of a single page audit",
				Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
			},
		),
		findingsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageprobe_findings_total",
				Help: "Findings reported by severity",
			},
			[]string{"severity"},
		),
		probeFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "pageprobe_probe_failures_total",
				Help: "Capability probes that raised instead of answering",
			},
			[]string{"probe"},
		),
		tabTraps: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "pageprobe_tab_traps_total",
				Help: "Pages where the tab walker suspected a keyboard trap",
			},
		),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// ObserveAudit records the outcome and wall time of one page audit.
func (m *Metrics) ObserveAudit(status string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.auditsTotal.WithLabelValues(status).Inc()
	m.auditDuration.Observe(elapsed.Seconds())
}

// AddFindings adds n findings of the given severity.
func (m *Metrics) AddFindings(severity string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.findingsTotal.WithLabelValues(severity).Add(float64(n))
}

func (m *Metrics) ProbeFailed(probe string) {
	if m == nil {
		return
	}
	m.probeFailures.WithLabelValues(probe).Inc()
}

func (m *Metrics) TabTrapSuspected() {
	if m == nil {
		return
	}
	m.tabTraps.Inc()
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	if m == nil || path == "" {
		return nil
	}
	return prometheus.WriteToTextfile(path, m.registry)
}
