// Package metrics holds the Prometheus collectors describing supervisor activity.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics is a set of supervisor collectors registered on their own registry, so
// several supervisors (and tests) never collide on the global one.
type Metrics struct {
	Registry *prometheus.Registry

	// WatchEvents counts filesystem events delivered by the config watcher
	WatchEvents prometheus.Counter

	// Reloads counts app definition reloads by result
	Reloads *prometheus.CounterVec

	// Restarts counts supervisor restarts by result
	Restarts *prometheus.CounterVec

	// RestartDuration tracks close→create→listen latency in seconds
	RestartDuration prometheus.Histogram

	// InstanceUp is 1 while a server instance is listening
	InstanceUp prometheus.Gauge
}

// New creates the collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		WatchEvents: factory.NewCounter(prometheus.CounterOpts{
			Name: "devhost_watch_events_total",
			Help: "Total filesystem events received from the config watcher",
		}),
		Reloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devhost_reloads_total",
			Help: "Total app definition reloads by result",
		}, []string{"result"}),
		Restarts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "devhost_restarts_total",
			Help: "Total server restarts by result",
		}, []string{"result"}),
		RestartDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "devhost_restart_duration_seconds",
			Help:    "Server restart duration in seconds",
			Buckets: []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),
		InstanceUp: factory.NewGauge(prometheus.GaugeOpts{
			Name: "devhost_instance_up",
			Help: "Whether a server instance is currently listening (1) or not (0)",
		}),
	}
}

// ObserveReload records the outcome of one reload attempt.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	m.Reloads.WithLabelValues(result(err)).Inc()
}

// ObserveRestart records the outcome and latency of one restart.
func (m *Metrics) ObserveRestart(d time.Duration, err error) {
	if m == nil {
		return
	}
	m.Restarts.WithLabelValues(result(err)).Inc()
	m.RestartDuration.Observe(d.Seconds())
}

// ObserveWatchEvent counts one watcher event.
func (m *Metrics) ObserveWatchEvent() {
	if m == nil {
		return
	}
	m.WatchEvents.Inc()
}

// SetInstanceUp updates the instance gauge.
func (m *Metrics) SetInstanceUp(up bool) {
	if m == nil {
		return
	}
	if up {
		m.InstanceUp.Set(1)
	} else {
		m.InstanceUp.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}

func result(err error) string {
	if err != nil {
		return ResultFailure
	}
	return ResultSuccess
}
