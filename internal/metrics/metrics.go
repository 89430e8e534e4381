// Package metrics exposes the scheduler's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/irrigation-scheduler/internal/logic"
)

const namespace = "irrigation"

// Metrics holds every collector on a private registry.
type Metrics struct {
	registry *prometheus.Registry

	Ticks              prometheus.Counter
	StoreErrors        prometheus.Counter
	SessionsStarted    prometheus.Counter
	SessionsCompleted  prometheus.Counter
	TriggersSuppressed prometheus.Counter
	PublishErrors      prometheus.Counter
	ValveErrors        prometheus.Counter
	Watering           prometheus.Gauge
	EnabledEntries     prometheus.Gauge
	HTTPRequests       *prometheus.CounterVec
}

// New registers the collectors, plus the Go and process collectors, on a
// fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{Namespace: namespace, Name: name, Help: help})
	}

	m := &Metrics{
		registry:           reg,
		Ticks:              f("poll_ticks_total", "Poll cycles run."),
		StoreErrors:        f("store_errors_total", "Poll cycles that could not read the schedule store."),
		SessionsStarted:    f("sessions_started_total", "Watering sessions started."),
		SessionsCompleted:  f("sessions_completed_total", "Watering sessions completed."),
		TriggersSuppressed: f("triggers_suppressed_total", "Matcher hits ignored because a session was running or already fired this minute."),
		PublishErrors:      f("publish_errors_total", "MQTT publish failures."),
		ValveErrors:        f("valve_errors_total", "Relay command failures."),
		Watering: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "watering", Help: "1 while a watering session is active.",
		}),
		EnabledEntries: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "enabled_entries", Help: "Enabled schedule entries seen on the last successful store read.",
		}),
		HTTPRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "http_requests_total", Help: "HTTP requests by route and status code.",
		}, []string{"route", "code"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.Ticks, m.StoreErrors, m.SessionsStarted, m.SessionsCompleted,
		m.TriggersSuppressed, m.PublishErrors, m.ValveErrors,
		m.Watering, m.EnabledEntries, m.HTTPRequests,
	)
	return m
}

// Registry returns the private registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveEvents counts session transitions and updates the watering gauge.
func (m *Metrics) ObserveEvents(events []logic.Event) {
	for _, ev := range events {
		switch ev.Type {
		case logic.EventWateringStart:
			m.SessionsStarted.Inc()
			m.Watering.Set(1)
		case logic.EventWateringStop:
			m.SessionsCompleted.Inc()
			m.Watering.Set(0)
		}
	}
}
