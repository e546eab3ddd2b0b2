// Package metrics provides Prometheus metrics for mod synchronization.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
	ResultCache = "cache"
)

var (
	probesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modsync_probes_total",
			Help: "Total number of freshness probes against the repository archive",
		},
		[]string{"result"},
	)

	refreshesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modsync_refreshes_total",
			Help: "Total number of repository refreshes",
		},
		[]string{"result"},
	)

	refreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "modsync_refresh_duration_seconds",
			Help:    "Time to download and extract the repository archive",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)

	bytesDownloaded = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modsync_bytes_downloaded_total",
			Help: "Total archive bytes downloaded",
		},
	)

	manifestSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modsync_manifest_mods",
			Help: "Number of mods in the current repository manifest",
		},
	)

	modOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modsync_mod_operations_total",
			Help: "Per-mod reconciliation outcomes",
		},
		[]string{"state"},
	)

	bytesCopied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "modsync_bytes_copied_total",
			Help: "Total bytes copied into the mods folder",
		},
	)

	eventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modsync_events_total",
			Help: "Progress events published",
		},
		[]string{"type"},
	)

	eventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "modsync_events_dropped_total",
			Help: "Progress events dropped for slow consumers",
		},
		[]string{"sink"},
	)

	sseConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "modsync_sse_connections_active",
			Help: "Number of active SSE connections",
		},
	)
)

func RecordProbe(result string) {
	probesTotal.WithLabelValues(result).Inc()
}

func RecordRefresh(result string, d time.Duration) {
	refreshesTotal.WithLabelValues(result).Inc()
	if result == ResultOK {
		refreshDuration.Observe(d.Seconds())
	}
}

func AddBytesDownloaded(n int64) {
	if n > 0 {
		bytesDownloaded.Add(float64(n))
	}
}

func SetManifestSize(n int) {
	manifestSize.Set(float64(n))
}

func RecordModOperation(state string) {
	modOperationsTotal.WithLabelValues(state).Inc()
}

func AddBytesCopied(n int64) {
	if n > 0 {
		bytesCopied.Add(float64(n))
	}
}

func RecordEvent(eventType string) {
	eventsTotal.WithLabelValues(eventType).Inc()
}

func RecordDroppedEvent(sink string) {
	eventsDropped.WithLabelValues(sink).Inc()
}

func SetSSEConnectionsActive(n int64) {
	sseConnectionsActive.Set(float64(n))
}

func Handler() http.Handler {
	return promhttp.Handler()
}
