// Package metrics exposes workflow counters to Prometheus.
package metrics

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/garyjia/booking-approval/internal/application/dispatcher"
	"github.com/garyjia/booking-approval/internal/domain/event"
)

const namespace = "booking"

// Metrics counts workflow events as they pass through the dispatcher
type Metrics struct {
	registry *prometheus.Registry

	events      *prometheus.CounterVec
	transitions *prometheus.CounterVec
	sideEffects *prometheus.CounterVec
	finalized   prometheus.Counter
	revisions   prometheus.Counter
	active      prometheus.Gauge
}

// New creates the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_events_total",
			Help:      "Workflow events dispatched, by type.",
		}, []string{"type"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transitions_total",
			Help:      "Applied transitions, by trigger and resulting status.",
		}, []string{"trigger", "status"}),
		sideEffects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "side_effect_failures_total",
			Help:      "Side effects that failed after a persisted change, by step.",
		}, []string{"step"}),
		finalized: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_finalized_total",
			Help:      "Booking orders written as permanent records.",
		}),
		revisions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "revisions_started_total",
			Help:      "Revisions started from finalized records.",
		}),
		active: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_workflows",
			Help:      "Workflows in flight at the last recovery or listing.",
		}),
	}

	m.registry.MustRegister(
		m.events, m.transitions, m.sideEffects, m.finalized, m.revisions, m.active,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Register subscribes the collectors to every event type
func (m *Metrics) Register(d dispatcher.Dispatcher) {
	d.SubscribeNamed(dispatcher.AnyType, "metrics", m.Handle)
}

// Handle updates the counters for one event
func (m *Metrics) Handle(_ context.Context, evt *event.Event) error {
	m.events.WithLabelValues(evt.Type.String()).Inc()

	switch evt.Type {
	case event.TypeWorkflowTransitioned:
		m.transitions.WithLabelValues(evt.GetPayloadString(event.KeyTrigger), evt.GetPayloadString(event.KeyNewStatus)).Inc()
	case event.TypeSideEffectFailed:
		m.sideEffects.WithLabelValues(evt.GetPayloadString(event.KeyTrigger)).Inc()
	case event.TypeWorkflowFinalized:
		m.finalized.Inc()
	case event.TypeRevisionStarted:
		m.revisions.Inc()
	}
	return nil
}

// SetActive records the number of in-flight workflows
func (m *Metrics) SetActive(n int) {
	m.active.Set(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
