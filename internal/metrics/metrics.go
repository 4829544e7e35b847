// Package metrics exposes Prometheus counters and histograms for the
// reporting loop, the HTTP fetcher, alerts and triggers.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/weather-indicator/internal/weather"
	"github.com/i474232898/weather-indicator/internal/weather/providers"
)

const namespace = "weather_indicator"

var fetchBuckets = prometheus.ExponentialBuckets(0.05, 2, 8)

// Metrics owns a private registry. It satisfies weather.CycleObserver,
// providers.Observer, trigger.Counter and cloud.AlertCounter.
type Metrics struct {
	reg *prometheus.Registry

	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	fetches       *prometheus.CounterVec
	fetchBytes    prometheus.Histogram
	fetchDuration prometheus.Histogram
	alerts        *prometheus.CounterVec
	triggers      *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		cycles: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Reporting cycles by result and failing step.",
		}, []string{"result", "step"}),
		cycleDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of reporting cycles.",
			Buckets:   fetchBuckets,
		}),
		fetches: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "HTTP fetches by final state.",
		}, []string{"state"}),
		fetchBytes: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_response_bytes",
			Help:      "Accumulated response body size.",
			Buckets:   prometheus.ExponentialBuckets(64, 2, 10),
		}),
		fetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Duration of HTTP fetches including redirects and retries.",
			Buckets:   fetchBuckets,
		}),
		alerts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_total",
			Help:      "Alerts raised by kind.",
		}, []string{"kind"}),
		triggers: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "triggers_total",
			Help:      "Observed triggers by source.",
		}, []string{"source"}),
	}
}

func (m *Metrics) ObserveCycle(res weather.CycleResult) {
	result := "ok"
	if res.Err != nil {
		result = "error"
	}
	m.cycles.WithLabelValues(result, string(res.Step)).Inc()
	m.cycleDuration.Observe(res.Duration.Seconds())
}

func (m *Metrics) ObserveFetch(state providers.FetchState, bytes int, elapsed time.Duration) {
	m.fetches.WithLabelValues(state.String()).Inc()
	m.fetchBytes.Observe(float64(bytes))
	m.fetchDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveAlert(kind string) {
	m.alerts.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveTrigger(source string) {
	m.triggers.WithLabelValues(source).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
