// Package metrics exposes Prometheus metrics derived from the event bus.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/runoshun/autocrew/internal/domain"
)

// Collector counts events, completed runs and status transitions.
type Collector struct {
	registry       *prometheus.Registry
	events         *prometheus.CounterVec
	runs           *prometheus.CounterVec
	transitions    *prometheus.CounterVec
	errors         *prometheus.CounterVec
	running        prometheus.Gauge
	autoModeActive prometheus.Gauge
	active         map[string]bool // Feature IDs with a started, not yet completed run
	mu             sync.Mutex
}

// NewCollector creates a Collector with its own registry, which also
// carries the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocrew_events_total",
				Help: "Events published on the bus",
			},
			[]string{"type"},
		),
		runs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocrew_runs_total",
				Help: "Completed agent runs by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),
		transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocrew_status_transitions_total",
				Help: "Feature status writes by target status",
			},
			[]string{"to"},
		),
		errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "autocrew_errors_total",
				Help: "Caught errors by phase",
			},
			[]string{"phase"},
		),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autocrew_running_features",
			Help: "Features with a live agent run",
		}),
		autoModeActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "autocrew_auto_mode_active",
			Help: "1 while the scheduler is running",
		}),
		active: make(map[string]bool),
	}
	c.registry.MustRegister(
		c.events, c.runs, c.transitions, c.errors, c.running, c.autoModeActive,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Attach subscribes the collector to bus and returns the unsubscribe function.
func (c *Collector) Attach(bus domain.EventSubscriber) func() {
	return bus.Subscribe(c.Observe)
}

// Observe updates the metrics for one event.
func (c *Collector) Observe(e domain.Event) {
	c.events.WithLabelValues(string(e.Type)).Inc()

	switch e.Type {
	case domain.EventAutoModeStarted:
		c.autoModeActive.Set(1)
	case domain.EventAutoModeStopped, domain.EventAutoModeFatal:
		c.autoModeActive.Set(0)
	case domain.EventFeatureStarted:
		c.setActive(e.FeatureID, true)
	case domain.EventFeatureComplete:
		c.setActive(e.FeatureID, false)
		if p, ok := e.Payload.(domain.CompletePayload); ok {
			c.runs.WithLabelValues(string(p.Mode), string(p.Outcome)).Inc()
		}
	case domain.EventFeatureStatusChanged:
		if p, ok := e.Payload.(domain.StatusChangedPayload); ok {
			c.transitions.WithLabelValues(string(p.To)).Inc()
		}
	case domain.EventAutoModeError, domain.EventFeatureError:
		phase := "unknown"
		if p, ok := e.Payload.(domain.ErrorPayload); ok && p.Phase != "" {
			phase = p.Phase
		}
		c.errors.WithLabelValues(phase).Inc()
	}
}

func (c *Collector) setActive(featureID string, on bool) {
	if featureID == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if on {
		c.active[featureID] = true
	} else {
		delete(c.active, featureID)
	}
	c.running.Set(float64(len(c.active)))
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}
