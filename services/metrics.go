package services

import (
	"interaction-pipeline/models"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bündelt die Prometheus-Kollektoren der Pipeline. Ein nil-*Metrics ist ein No-op.
type Metrics struct {
	runs          *prometheus.CounterVec
	rows          *prometheus.CounterVec
	violations    *prometheus.GaugeVec
	checkFailures *prometheus.CounterVec
}

// NewMetrics erstellt die Kollektoren und registriert sie auf reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		runs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_runs_total",
			Help: "Total number of ingestion runs by final status.",
		}, []string{"status"}),
		rows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ingestion_rows_total",
			Help: "Total number of committed staging rows by outcome.",
		}, []string{"outcome"}),
		violations: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "integrity_check_violations",
			Help: "Violating rows found by the last run of each integrity check.",
		}, []string{"check"}),
		checkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "integrity_check_failures_total",
			Help: "Total number of failed integrity check executions.",
		}, []string{"check"}),
	}
	reg.MustRegister(m.runs, m.rows, m.violations, m.checkFailures)
	return m
}

func (m *Metrics) observeRun(status models.AuditStatus) {
	if m == nil {
		return
	}
	m.runs.WithLabelValues(string(status)).Inc()
}

func (m *Metrics) observeRows(r *CommitResult) {
	if m == nil || r == nil {
		return
	}
	m.rows.WithLabelValues(string(OutcomeInserted)).Add(float64(r.Inserted))
	m.rows.WithLabelValues(string(OutcomeUpdated)).Add(float64(r.Updated))
	m.rows.WithLabelValues(string(OutcomeSkipped)).Add(float64(r.Skipped))
	m.rows.WithLabelValues(string(OutcomeError)).Add(float64(r.Errored))
}

func (m *Metrics) observeCheck(c CheckResult) {
	if m == nil {
		return
	}
	m.violations.WithLabelValues(c.Name).Set(float64(c.Violations))
	if !c.Passed {
		m.checkFailures.WithLabelValues(c.Name).Inc()
	}
}
