package metrics

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "kycrisk"

// Metrics holds the batch metrics of one pipeline process.
// It owns its registry so tests and repeated runs never collide on the global one.
type Metrics struct {
	registry *prometheus.Registry

	StageRows      *prometheus.GaugeVec
	StageDuration  *prometheus.HistogramVec
	StageSkipped   *prometheus.CounterVec
	StageErrors    *prometheus.CounterVec
	ClientsByTier  *prometheus.GaugeVec
	WatchlistSize  prometheus.Gauge
	LastSuccessful prometheus.Gauge
}

// New creates and registers every pipeline metric
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		StageRows: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "stage_rows",
				Help:      "Rows produced by the last execution of a stage",
			},
			[]string{"stage"},
		),
		StageDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Stage execution time in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"stage"},
		),
		StageSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_skipped_total",
				Help:      "Stages served from a cached artifact",
			},
			[]string{"stage"},
		),
		StageErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "stage_errors_total",
				Help:      "Failed stage executions by error kind",
			},
			[]string{"stage", "kind"},
		),
		ClientsByTier: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "clients_by_tier",
				Help:      "Scored rows per risk category",
			},
			[]string{"tier"},
		),
		WatchlistSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "watchlist_size",
			Help:      "Distinct high-risk clients in the last watchlist",
		}),
		LastSuccessful: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful full run",
		}),
	}

	m.registry.MustRegister(
		m.StageRows,
		m.StageDuration,
		m.StageSkipped,
		m.StageErrors,
		m.ClientsByTier,
		m.WatchlistSize,
		m.LastSuccessful,
	)
	return m
}

// Registry exposes the underlying registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveStage records rows and duration of a completed stage
func (m *Metrics) ObserveStage(stage string, rows int, elapsed time.Duration, skipped bool) {
	m.StageRows.WithLabelValues(stage).Set(float64(rows))
	m.StageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
	if skipped {
		m.StageSkipped.WithLabelValues(stage).Inc()
	}
}

// ObserveError counts a failed stage
func (m *Metrics) ObserveError(stage, kind string) {
	m.StageErrors.WithLabelValues(stage, kind).Inc()
}

// SetTiers replaces the tier gauges
func (m *Metrics) SetTiers(counts map[string]int) {
	m.ClientsByTier.Reset()
	for tier, n := range counts {
		m.ClientsByTier.WithLabelValues(tier).Set(float64(n))
	}
}

// MarkSuccess records a successful run finishing at t
func (m *Metrics) MarkSuccess(watchlist int, t time.Time) {
	m.WatchlistSize.Set(float64(watchlist))
	m.LastSuccessful.Set(float64(t.Unix()))
}

// WriteTextfile dumps the registry in the node_exporter textfile format
func (m *Metrics) WriteTextfile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create metrics directory: %w", err)
	}
	if err := prometheus.WriteToTextfile(path, m.registry); err != nil {
		return fmt.Errorf("failed to write metrics textfile: %w", err)
	}
	return nil
}
