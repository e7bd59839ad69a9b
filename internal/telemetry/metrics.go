// Package telemetry exposes the Prometheus metrics for the tile cache
// pipeline: per-stage progress, download outcomes, cache hit/miss, and
// connection-pool state.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// ServiceName identifies the metric namespace.
const ServiceName = "tilecache"

var (
	// StageProcessed counts tiles processed per pipeline stage.
	StageProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilecache_stage_processed_total",
			Help: "Tiles processed by each pipeline stage",
		},
		[]string{"stage"},
	)

	// StageErrors counts per-tile errors per pipeline stage.
	StageErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilecache_stage_errors_total",
			Help: "Tile errors observed by each pipeline stage",
		},
		[]string{"stage"},
	)

	// StageTotal reports the current size estimate/exact total for a stage.
	StageTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tilecache_stage_total",
			Help: "Current total (estimate or exact) for a pipeline stage",
		},
		[]string{"stage"},
	)

	// DownloadRequestsTotal counts tile-server HTTP requests by terminal
	// status classification.
	DownloadRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilecache_download_requests_total",
			Help: "Total tile download requests by outcome",
		},
		[]string{"layer", "outcome"},
	)

	// DownloadDuration records request latency per host.
	DownloadDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tilecache_download_duration_seconds",
			Help:    "Tile download request duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		},
		[]string{"host"},
	)

	// CacheHits/CacheMisses count tile-store and read-path lookups.
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilecache_cache_hits_total",
			Help: "Total cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tilecache_cache_misses_total",
			Help: "Total cache misses",
		},
		[]string{"cache_type"},
	)

	// ActiveConnections tracks live connection-pool entries per host.
	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tilecache_active_connections",
			Help: "Active keep-alive connections per host",
		},
		[]string{"host"},
	)

	// BlobsStored/BlobsReclaimed track the content-addressed store.
	BlobsStored = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilecache_blobs_stored_total",
			Help: "Total blobs written to the tile store",
		},
	)

	BlobsReclaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tilecache_blobs_reclaimed_total",
			Help: "Total orphaned blobs removed from the tile store",
		},
	)
)

// RecordStageProgress updates the processed/error counters for a stage.
func RecordStageProgress(stage string, processedDelta, errorDelta int) {
	if processedDelta > 0 {
		StageProcessed.WithLabelValues(stage).Add(float64(processedDelta))
	}
	if errorDelta > 0 {
		StageErrors.WithLabelValues(stage).Add(float64(errorDelta))
	}
}

// SetStageTotal updates the current total estimate for a stage.
func SetStageTotal(stage string, total int) {
	StageTotal.WithLabelValues(stage).Set(float64(total))
}

// RecordDownload records the outcome and latency of a single tile download.
func RecordDownload(layer, host, outcome string, duration time.Duration) {
	DownloadRequestsTotal.WithLabelValues(layer, outcome).Inc()
	DownloadDuration.WithLabelValues(host).Observe(duration.Seconds())
}

// RecordCacheHit/RecordCacheMiss record tile-store and read-path lookups.
func RecordCacheHit(cacheType string)  { CacheHits.WithLabelValues(cacheType).Inc() }
func RecordCacheMiss(cacheType string) { CacheMisses.WithLabelValues(cacheType).Inc() }

// UpdateActiveConnections sets the current connection-pool gauge for host.
func UpdateActiveConnections(host string, count int) {
	ActiveConnections.WithLabelValues(host).Set(float64(count))
}
