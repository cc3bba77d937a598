// Package telemetry exposes Prometheus counters for the monetization
// engine's decisions and outcomes.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gpapplica/admon/internal/eligibility"
	"github.com/gpapplica/admon/internal/models"
)

// Metrics holds the engine's instrumentation.
type Metrics struct {
	verdicts   *prometheus.CounterVec
	shows      *prometheus.CounterVec
	loadErrors *prometheus.CounterVec
}

// New registers the engine counters on reg. Passing nil uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		verdicts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admon_verdicts_total",
			Help: "Eligibility verdicts by surface and reason.",
		}, []string{"surface", "reason"}),
		shows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admon_shows_total",
			Help: "Successful ad shows by surface.",
		}, []string{"surface"}),
		loadErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "admon_load_errors_total",
			Help: "Ad load/show failures by surface.",
		}, []string{"surface"}),
	}
	reg.MustRegister(m.verdicts, m.shows, m.loadErrors)
	return m
}

// Verdict records one eligibility evaluation outcome.
func (m *Metrics) Verdict(surface models.Surface, reason eligibility.Reason) {
	if m == nil {
		return
	}
	m.verdicts.WithLabelValues(string(surface), string(reason)).Inc()
}

// Shown records one successful show.
func (m *Metrics) Shown(surface models.Surface) {
	if m == nil {
		return
	}
	m.shows.WithLabelValues(string(surface)).Inc()
}

// LoadError records one load or display failure.
func (m *Metrics) LoadError(surface models.Surface) {
	if m == nil {
		return
	}
	m.loadErrors.WithLabelValues(string(surface)).Inc()
}
