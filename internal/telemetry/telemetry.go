// Package telemetry registers the process-wide Prometheus metrics and
// implements the phase observer the orchestrator reports into.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kfin-labs/dartdeep/internal/cache"
)

// Recorder aggregates run and phase metrics. One instance per process,
// registered against the default registry (or a private one in tests).
type Recorder struct {
	runsTotal     *prometheus.CounterVec
	runDuration   prometheus.Histogram
	runAttempts   prometheus.Histogram
	phaseDuration *prometheus.HistogramVec
}

// NewRecorder builds and registers the metric set. cacheStats, when
// non-nil, is exported as gauges so the cache's effectiveness is visible
// without a run.
func NewRecorder(reg prometheus.Registerer, cacheStats func() cache.Stats) *Recorder {
	r := &Recorder{
		runsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dartdeep",
			Name:      "runs_total",
			Help:      "Deep-search runs by outcome.",
		}, []string{"outcome"}),
		runDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dartdeep",
			Name:      "run_duration_seconds",
			Help:      "End-to-end run latency.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
		runAttempts: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "dartdeep",
			Name:      "run_attempts",
			Help:      "Sufficiency-loop attempts per run.",
			Buckets:   []float64{1, 2, 3, 4, 5},
		}),
		phaseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "dartdeep",
			Name:      "phase_duration_seconds",
			Help:      "Per-phase latency.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"phase"}),
	}
	reg.MustRegister(r.runsTotal, r.runDuration, r.runAttempts, r.phaseDuration)

	if cacheStats != nil {
		reg.MustRegister(
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "dartdeep",
				Name:      "cache_hits_total",
				Help:      "Cache hits since process start.",
			}, func() float64 { return float64(cacheStats().Hits) }),
			prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Namespace: "dartdeep",
				Name:      "cache_misses_total",
				Help:      "Cache misses since process start.",
			}, func() float64 { return float64(cacheStats().Misses) }),
		)
	}
	return r
}

func (r *Recorder) ObservePhase(phase string, d time.Duration) {
	r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

func (r *Recorder) ObserveRun(outcome string, attempts int, d time.Duration) {
	r.runsTotal.WithLabelValues(outcome).Inc()
	r.runDuration.Observe(d.Seconds())
	r.runAttempts.Observe(float64(attempts))
}
