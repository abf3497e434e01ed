// Package metrics provides Prometheus metrics for the consultant service
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the consultant service
type Metrics struct {
	// HTTP request metrics
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// Model metrics
	GenerationsTotal   *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec

	// Funnel metrics
	RefinementsTotal   *prometheus.CounterVec
	LeadsCapturedTotal prometheus.Counter
	SideEffectsTotal   *prometheus.CounterVec

	// Background jobs
	JobsInFlight prometheus.Gauge
}

// New creates and registers all metrics on reg. A nil reg uses a private
// registry so repeated construction in tests never collides.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	m := &Metrics{}

	m.HTTPRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultant_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"route", "status"},
	)

	m.HTTPRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consultant_http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)

	m.GenerationsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultant_generations_total",
			Help: "Total number of model invocations",
		},
		[]string{"kind", "status"},
	)

	m.GenerationDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "consultant_generation_duration_seconds",
			Help:    "Duration of model invocations in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		},
		[]string{"kind"},
	)

	m.RefinementsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultant_refinements_total",
			Help: "Refinement cycles by outcome",
		},
		[]string{"outcome"},
	)

	m.LeadsCapturedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Name: "consultant_leads_captured_total",
			Help: "Total number of captured leads",
		},
	)

	m.SideEffectsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Name: "consultant_side_effects_total",
			Help: "Terminal side effects (email, sales notification) by status",
		},
		[]string{"effect", "status"},
	)

	m.JobsInFlight = factory.NewGauge(
		prometheus.GaugeOpts{
			Name: "consultant_jobs_in_flight",
			Help: "Number of background generation jobs currently running",
		},
	)

	return m
}

// Record* methods are no-ops on a nil *Metrics.

// RecordHTTPRequest records an HTTP request with its status
func (m *Metrics) RecordHTTPRequest(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequestsTotal.WithLabelValues(route, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(route).Observe(duration.Seconds())
}

// RecordGeneration records one model call.
func (m *Metrics) RecordGeneration(kind string, err error, duration time.Duration) {
	if m == nil {
		return
	}
	m.GenerationsTotal.WithLabelValues(kind, statusOf(err)).Inc()
	m.GenerationDuration.WithLabelValues(kind).Observe(duration.Seconds())
}

// RecordRefinement counts a refinement outcome: success, rejected or failed.
func (m *Metrics) RecordRefinement(outcome string) {
	if m == nil {
		return
	}
	m.RefinementsTotal.WithLabelValues(outcome).Inc()
}

// RecordSideEffect counts a terminal side effect.
func (m *Metrics) RecordSideEffect(effect string, err error) {
	if m == nil {
		return
	}
	m.SideEffectsTotal.WithLabelValues(effect, statusOf(err)).Inc()
}

// RecordLeadCaptured counts a captured lead.
func (m *Metrics) RecordLeadCaptured() {
	if m == nil {
		return
	}
	m.LeadsCapturedTotal.Inc()
}

// TrackJob marks a background job as running and returns the func that
// marks it done.
func (m *Metrics) TrackJob() func() {
	if m == nil {
		return func() {}
	}
	m.JobsInFlight.Inc()
	return m.JobsInFlight.Dec
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}
