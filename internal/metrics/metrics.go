// Package metrics exposes Prometheus instrumentation for the analysis
// pipeline: scans, emitted signals and per-stage filter removals.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry holds the pipeline metrics on a dedicated Prometheus
// registry so multiple instances never collide.
type Registry struct {
	registry *prometheus.Registry

	ScanDuration    *prometheus.HistogramVec
	ScansTotal      prometheus.Counter
	ActiveScans     prometheus.Gauge
	SignalsEmitted  *prometheus.CounterVec
	SignalsFiltered *prometheus.CounterVec
	ProviderCalls   *prometheus.CounterVec
}

// NewRegistry creates and registers all pipeline metrics.
func NewRegistry() *Registry {
	r := &Registry{
		registry: prometheus.NewRegistry(),

		ScanDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "stockrun_scan_duration_seconds",
				Help:    "Duration of one symbol analysis in seconds",
				Buckets: []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"symbol", "result"},
		),

		ScansTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "stockrun_scans_total",
				Help: "Total number of symbol analyses run",
			},
		),

		ActiveScans: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "stockrun_active_scans",
				Help: "Number of analyses currently in flight",
			},
		),

		SignalsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockrun_signals_emitted_total",
				Help: "Signals produced by the strategy, by symbol and side",
			},
			[]string{"symbol", "side"},
		),

		SignalsFiltered: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockrun_signals_filtered_total",
				Help: "Signals removed by the filter pipeline, by stage",
			},
			[]string{"stage"},
		),

		ProviderCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "stockrun_provider_requests_total",
				Help: "Market data provider requests, by provider and result",
			},
			[]string{"provider", "result"},
		),
	}

	r.registry.MustRegister(
		r.ScanDuration,
		r.ScansTotal,
		r.ActiveScans,
		r.SignalsEmitted,
		r.SignalsFiltered,
		r.ProviderCalls,
	)
	return r
}

// Handler serves this registry at /metrics.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// ScanTimer times one symbol analysis.
type ScanTimer struct {
	registry *Registry
	symbol   string
	start    time.Time
}

// StartScan begins timing an analysis and marks it in flight.
func (r *Registry) StartScan(symbol string) *ScanTimer {
	r.ActiveScans.Inc()
	r.ScansTotal.Inc()
	return &ScanTimer{registry: r, symbol: symbol, start: time.Now()}
}

// Stop completes the timing with a result label ("success", "error").
func (t *ScanTimer) Stop(result string) {
	duration := time.Since(t.start)
	t.registry.ActiveScans.Dec()
	t.registry.ScanDuration.WithLabelValues(t.symbol, result).Observe(duration.Seconds())

	log.Debug().
		Str("symbol", t.symbol).
		Str("result", result).
		Dur("duration", duration).
		Msg("scan complete")
}

// RecordSignal counts one emitted signal.
func (r *Registry) RecordSignal(symbol, side string) {
	r.SignalsEmitted.WithLabelValues(symbol, side).Inc()
}

// RecordStageRemovals folds a filter run's per-stage removal counts in.
func (r *Registry) RecordStageRemovals(removals map[string]int) {
	for stage, n := range removals {
		if n > 0 {
			r.SignalsFiltered.WithLabelValues(stage).Add(float64(n))
		}
	}
}

// RecordProviderCall counts one provider request.
func (r *Registry) RecordProviderCall(provider, result string) {
	r.ProviderCalls.WithLabelValues(provider, result).Inc()
}
