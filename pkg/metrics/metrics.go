// Package metrics holds the prometheus collectors for the file-lifecycle
// engine. Collectors register with the default registry on package init.
package metrics

import (
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch update metrics
var (
	BatchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoshelf_batches_total",
			Help: "Total number of batch updates by terminal outcome",
		},
		[]string{"outcome"}, // "committed", "rejected", "rolled_back", "rollback_failed"
	)

	BatchItems = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "photoshelf_batch_items",
			Help:    "Number of items per batch update",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	BatchStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoshelf_batch_stage_duration_seconds",
			Help:    "Duration of each batch update stage in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"stage"},
	)
)

// Artifact metrics
var (
	ArtifactsGenerated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoshelf_artifacts_generated_total",
			Help: "Total number of derived artifacts written",
		},
		[]string{"kind"}, // "preview", "full_size", "video_thumbnail"
	)

	ArtifactsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "photoshelf_artifacts_skipped_total",
			Help: "Total number of artifact generations skipped because a preview already existed",
		},
	)

	ArtifactErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoshelf_artifact_errors_total",
			Help: "Total number of failed artifact generations",
		},
		[]string{"kind"},
	)

	ArtifactDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "photoshelf_artifact_duration_seconds",
			Help:    "Time spent producing one derived artifact",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		},
		[]string{"kind"},
	)
)

// Filesystem metrics
var (
	RelocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoshelf_relocations_total",
			Help: "Total number of relocated files by result",
		},
		[]string{"result"}, // "moved", "collision", "failed"
	)

	DatabaseBusyRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "photoshelf_db_busy_retries_total",
			Help: "Total number of statements retried after SQLITE_BUSY",
		},
		[]string{"operation"},
	)
)

// WriteTextfile dumps the default registry in the node-exporter textfile
// format.
func WriteTextfile(path string) error {
	return errors.WithStack(prometheus.WriteToTextfile(path, prometheus.DefaultGatherer))
}
