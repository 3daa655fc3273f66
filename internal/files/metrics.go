package files

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	uploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_uploads_total",
		Help: "Number of files stored and registered.",
	})
	uploadsRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_uploads_rejected_total",
		Help: "Number of upload calls rejected by validation.",
	})
	uploadBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_upload_bytes_total",
		Help: "Bytes written to the blob store by uploads.",
	})
	deletesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_deletes_total",
		Help: "Number of files deleted.",
	})
	blobCleanupFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_blob_cleanup_failures_total",
		Help: "Best-effort blob deletions that failed.",
	})
	recordsGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "files_registry_records",
		Help: "Number of records in the registry after the last upload or delete.",
	})
	searchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "files_registry_searches_total",
		Help: "Number of search queries.",
	})
	searchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "files_registry_search_duration_seconds",
		Help:    "Duration of search queries.",
		Buckets: prometheus.DefBuckets,
	})
)
