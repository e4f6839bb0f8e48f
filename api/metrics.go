/*
metrics.go - Prometheus instrumentation

PURPOSE:
  Counts save outcomes and debt transitions and times the composite save,
  exposed on /metrics via promhttp.

SERIES:
  clinic_saves_total{outcome}           outcome: ok | error | busy
  clinic_debt_transitions_total{transition}
  clinic_save_duration_seconds          histogram over the full transaction
*/
package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/clinica/session-engine/ledger"
)

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	registry *prometheus.Registry

	saves        *prometheus.CounterVec
	transitions  *prometheus.CounterVec
	saveDuration prometheus.Histogram
}

// NewMetrics builds and registers the collectors on a private registry.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		saves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_saves_total",
			Help: "Composite save transactions by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "clinic_debt_transitions_total",
			Help: "Debt lifecycle transitions applied by the save path.",
		}, []string{"transition"}),
		saveDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "clinic_save_duration_seconds",
			Help:    "Duration of the composite save transaction.",
			Buckets: prometheus.DefBuckets,
		}),
	}
	m.registry.MustRegister(m.saves, m.transitions, m.saveDuration)
	return m
}

// ObserveSave records one save attempt.
func (m *Metrics) ObserveSave(err error, d time.Duration) {
	outcome := "ok"
	switch {
	case errors.Is(err, ledger.ErrStoreBusy):
		outcome = "busy"
	case err != nil:
		outcome = "error"
	}
	m.saves.WithLabelValues(outcome).Inc()
	if err == nil {
		m.saveDuration.Observe(d.Seconds())
	}
}

// ObserveDebtTransition records an applied lifecycle transition.
func (m *Metrics) ObserveDebtTransition(t ledger.DebtTransition) {
	m.transitions.WithLabelValues(string(t)).Inc()
}

// HTTPHandler serves the registry for /metrics.
func (m *Metrics) HTTPHandler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
