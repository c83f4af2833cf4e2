// Package metrics exposes Prometheus collectors for the extraction
// pipeline.
package metrics

import (
	"database/sql"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the pipeline's Prometheus collectors
type Metrics struct {
	JobsTotal           *prometheus.CounterVec
	StageDuration       *prometheus.HistogramVec
	CandidatesHarvested prometheus.Counter
	DuplicatesDropped   prometheus.Counter
	ImagesReturned      prometheus.Histogram
	WebhookDeliveries   *prometheus.CounterVec
	CacheEvents         *prometheus.CounterVec

	DBOpenConnections prometheus.Gauge
	DBInUse           prometheus.Gauge
	DBIdle            prometheus.Gauge
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics instance, registering the
// collectors on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = &Metrics{
			JobsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "imageharvest_jobs_total",
				Help: "Extraction jobs by terminal status.",
			}, []string{"status"}),
			StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "imageharvest_stage_duration_seconds",
				Help:    "Duration of each pipeline stage.",
				Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
			}, []string{"stage"}),
			CandidatesHarvested: promauto.NewCounter(prometheus.CounterOpts{
				Name: "imageharvest_candidates_harvested_total",
				Help: "Candidate image references produced by harvesting.",
			}),
			DuplicatesDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "imageharvest_duplicates_dropped_total",
				Help: "Candidates dropped as perceptual near-duplicates.",
			}),
			ImagesReturned: promauto.NewHistogram(prometheus.HistogramOpts{
				Name:    "imageharvest_images_returned",
				Help:    "Final image count per completed job.",
				Buckets: prometheus.LinearBuckets(0, 5, 11),
			}),
			WebhookDeliveries: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "imageharvest_webhook_deliveries_total",
				Help: "Webhook delivery outcomes.",
			}, []string{"outcome"}),
			CacheEvents: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "imageharvest_cache_events_total",
				Help: "Page cache hits, misses, and bypasses.",
			}, []string{"event"}),
			DBOpenConnections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "imageharvest_db_open_connections",
				Help: "Open database connections.",
			}),
			DBInUse: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "imageharvest_db_in_use_connections",
				Help: "Database connections currently in use.",
			}),
			DBIdle: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "imageharvest_db_idle_connections",
				Help: "Idle database connections.",
			}),
		}
	})
	return defaultMetrics
}

// UpdateDBStats copies connection-pool stats into the DB gauges
func (m *Metrics) UpdateDBStats(db *sql.DB) {
	if db == nil {
		return
	}
	stats := db.Stats()
	m.DBOpenConnections.Set(float64(stats.OpenConnections))
	m.DBInUse.Set(float64(stats.InUse))
	m.DBIdle.Set(float64(stats.Idle))
}
