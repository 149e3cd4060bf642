// Package metrics exposes task outcomes and the latest readings to
// Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"weather-clock/internal/state"
)

const namespace = "weatherclock"

// Metrics holds the collectors registered on a private registry.
// A nil *Metrics is a valid no-op reporter.
type Metrics struct {
	registry *prometheus.Registry

	taskRuns        *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec
	taskLastSuccess *prometheus.GaugeVec
	temperature     prometheus.Gauge
	clockDrift      prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		taskRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "task_runs_total",
			Help:      "Number of task runs by outcome.",
		}, []string{"task", "result"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Duration of task runs in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"task"}),
		taskLastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "task_last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run.",
		}, []string{"task"}),
		temperature: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature",
			Help:      "Last reported outside temperature in configured units.",
		}),
		clockDrift: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "clock_drift_seconds",
			Help:      "Correction applied by the last time sync.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.taskRuns,
		m.taskDuration,
		m.taskLastSuccess,
		m.temperature,
		m.clockDrift,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) TaskSucceeded(task string, took time.Duration, snap state.Snapshot) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(task, "success").Inc()
	m.taskDuration.WithLabelValues(task).Observe(took.Seconds())
	m.taskLastSuccess.WithLabelValues(task).SetToCurrentTime()

	if snap.HasWeather() {
		m.temperature.Set(snap.Weather.Temperature)
	}
	if snap.LastTimeSync != 0 {
		m.clockDrift.Set(snap.ClockDrift.Seconds())
	}
}

func (m *Metrics) TaskFailed(task string, took time.Duration, _ error) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(task, "failure").Inc()
	m.taskDuration.WithLabelValues(task).Observe(took.Seconds())
}

// TaskRestarted counts supervisor restarts of a task.
func (m *Metrics) TaskRestarted(task string) {
	if m == nil {
		return
	}
	m.taskRuns.WithLabelValues(task, "restart").Inc()
}

// WatchBrightness exports the current brightness of d on every scrape.
func (m *Metrics) WatchBrightness(d interface{ Brightness() float64 }) {
	if m == nil {
		return
	}
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "display_brightness",
		Help:      "Display brightness between 0 and 1.",
	}, d.Brightness))
}
