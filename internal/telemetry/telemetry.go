// Package telemetry exposes prometheus instrumentation for backtest runs.
package telemetry

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the collectors an engine run feeds.
type Metrics struct {
	registry *prometheus.Registry

	WindowsEvaluated prometheus.Counter
	WindowsFailed    prometheus.Counter
	RunsCompleted    prometheus.Counter
	RunsFailed       prometheus.Counter
	WindowDuration   prometheus.Histogram
}

// New builds a metrics set on its own registry so tests and parallel runs
// never fight over the global default.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		WindowsEvaluated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walkforward",
			Name:      "windows_evaluated_total",
			Help:      "Windows that completed fit, predict and evaluate.",
		}),
		WindowsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walkforward",
			Name:      "windows_failed_total",
			Help:      "Windows that failed during fit, predict or evaluate.",
		}),
		RunsCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walkforward",
			Name:      "runs_completed_total",
			Help:      "Backtest runs that produced a report.",
		}),
		RunsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "walkforward",
			Name:      "runs_failed_total",
			Help:      "Backtest runs aborted by a window failure.",
		}),
		WindowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "walkforward",
			Name:      "window_duration_seconds",
			Help:      "Wall-clock duration of one window's fit+predict+evaluate.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
		}),
	}

	registry.MustRegister(
		m.WindowsEvaluated,
		m.WindowsFailed,
		m.RunsCompleted,
		m.RunsFailed,
		m.WindowDuration,
	)

	return m
}

// ObserveWindow records one finished window.
func (m *Metrics) ObserveWindow(d time.Duration, failed bool) {
	if m == nil {
		return
	}
	m.WindowDuration.Observe(d.Seconds())
	if failed {
		m.WindowsFailed.Inc()
	} else {
		m.WindowsEvaluated.Inc()
	}
}

// ObserveRun records one finished run.
func (m *Metrics) ObserveRun(failed bool) {
	if m == nil {
		return
	}
	if failed {
		m.RunsFailed.Inc()
	} else {
		m.RunsCompleted.Inc()
	}
}

// Handler returns an HTTP handler exposing /metrics for this registry.
func (m *Metrics) Handler() http.Handler {
	router := mux.NewRouter()
	router.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	return router
}
