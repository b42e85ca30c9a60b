package metrics

import "github.com/prometheus/client_golang/prometheus"

// Synchronization job metrics. Registered explicitly from the composition
// root (no init()) so tests importing the usecase packages don't collide on
// the default registry.
var (
	// SyncDocumentsTotal counts log rows handled by synchronization runs,
	// labeled by outcome: indexed or skipped.
	SyncDocumentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "docdex",
			Name:      "sync_documents_total",
			Help:      "Log rows processed by synchronization jobs",
		},
		[]string{"result"},
	)

	// SyncJobDuration observes wall time of whole synchronization runs,
	// labeled by mode (reinsert or append).
	SyncJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "docdex",
			Name:      "sync_job_duration_seconds",
			Help:      "Synchronization job duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60, 300},
		},
		[]string{"mode"},
	)
)

// RegisterSyncMetrics registers the synchronization metrics.
func RegisterSyncMetrics() {
	prometheus.MustRegister(SyncDocumentsTotal)
	prometheus.MustRegister(SyncJobDuration)
}
