package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the fulfillment counters. A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	Placements       *prometheus.CounterVec
	Transitions      *prometheus.CounterVec
	Claims           *prometheus.CounterVec
	EventsDropped    prometheus.Counter
	EventsDelivered  *prometheus.CounterVec
	HTTPDuration     *prometheus.HistogramVec
	CompensationFail *prometheus.CounterVec
}

func New(serviceName string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(prometheus.NewGoCollector())
	reg.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))

	labels := prometheus.Labels{"service": serviceName}
	m := &Metrics{
		registry: reg,
		Placements: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "placements_total",
			Help: "Order placements by outcome", ConstLabels: labels,
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "transitions_total",
			Help: "Order header transitions by target status", ConstLabels: labels,
		}, []string{"status"}),
		Claims: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "claims_total",
			Help: "Claim attempts by role and outcome", ConstLabels: labels,
		}, []string{"role", "outcome"}),
		EventsDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "events_dropped_total",
			Help: "Events dropped because the dispatch buffer was full", ConstLabels: labels,
		}),
		EventsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "events_delivered_total",
			Help: "Events handed to the sink by result", ConstLabels: labels,
		}, []string{"result"}),
		HTTPDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fulfillment", Name: "http_request_duration_seconds",
			Help:        "HTTP request duration in seconds",
			Buckets:     []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			ConstLabels: labels,
		}, []string{"method", "route", "status"}),
		CompensationFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fulfillment", Name: "compensation_failures_total",
			Help: "Compensating actions that could not be applied", ConstLabels: labels,
		}, []string{"step"}),
	}
	reg.MustRegister(m.Placements, m.Transitions, m.Claims, m.EventsDropped,
		m.EventsDelivered, m.HTTPDuration, m.CompensationFail)
	return m
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Placement(outcome string) {
	if m != nil {
		m.Placements.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) Transition(status string) {
	if m != nil {
		m.Transitions.WithLabelValues(status).Inc()
	}
}

func (m *Metrics) Claim(role, outcome string) {
	if m != nil {
		m.Claims.WithLabelValues(role, outcome).Inc()
	}
}

func (m *Metrics) Dropped() {
	if m != nil {
		m.EventsDropped.Inc()
	}
}

func (m *Metrics) Delivered(result string) {
	if m != nil {
		m.EventsDelivered.WithLabelValues(result).Inc()
	}
}

func (m *Metrics) CompensationFailed(step string) {
	if m != nil {
		m.CompensationFail.WithLabelValues(step).Inc()
	}
}

func (m *Metrics) ObserveHTTP(method, route string, status int, d time.Duration) {
	if m != nil {
		m.HTTPDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
	}
}
