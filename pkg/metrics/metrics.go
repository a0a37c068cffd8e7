// Package metrics exports smoke run metrics in the Prometheus format.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder implements engine.Observer on its own registry.
type Recorder struct {
	registry *prometheus.Registry

	runs          *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec
	stageDuration *prometheus.HistogramVec
	fallbacks     *prometheus.CounterVec
	variance      *prometheus.CounterVec
}

// NewRecorder creates a recorder with Go runtime and process collectors
// registered alongside the smoke metrics.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Recorder{
		registry: reg,
		runs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smoke_runs_total",
			Help: "Smoke runs by outcome and failure kind",
		}, []string{"outcome", "kind"}),
		runDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smoke_run_duration_seconds",
			Help:    "Wall time of a smoke run",
			Buckets: []float64{1, 5, 10, 20, 30, 60, 120, 240},
		}, []string{"outcome"}),
		stageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "smoke_stage_duration_seconds",
			Help:    "Wall time of each workflow stage",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30, 60},
		}, []string{"stage"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smoke_fallbacks_total",
			Help: "Explicit navigations taken after a tolerated wait timed out",
		}, []string{"stage"}),
		variance: f.NewCounterVec(prometheus.CounterOpts{
			Name: "smoke_variance_total",
			Help: "Tolerated UI variance by kind",
		}, []string{"kind"}),
	}
}

func (r *Recorder) ObserveRun(ok bool, kind string, duration time.Duration) {
	outcome := "failure"
	if ok {
		outcome = "success"
		kind = ""
	}
	r.runs.WithLabelValues(outcome, kind).Inc()
	r.runDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

func (r *Recorder) ObserveStage(stage string, duration time.Duration) {
	r.stageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

func (r *Recorder) ObserveFallback(stage string) {
	r.fallbacks.WithLabelValues(stage).Inc()
}

func (r *Recorder) ObserveVariance(kind string) {
	r.variance.WithLabelValues(kind).Inc()
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry for scraping.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{Registry: r.registry})
}
