package metrics

import "github.com/prometheus/client_golang/prometheus"

// Entity pipeline Prometheus metrics.
var (
	PipelineOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmskit",
			Name:      "pipeline_operations_total",
			Help:      "Total number of entity save and delete operations",
		},
		[]string{"operation", "outcome"},
	)

	PipelineDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "cmskit",
			Name:      "pipeline_duration_seconds",
			Help:      "Entity save and delete duration in seconds",
			Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"operation"},
	)

	BulkOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmskit",
			Name:      "bulk_outcomes_total",
			Help:      "Bulk operation outcomes",
		},
		[]string{"operation", "outcome"}, // outcome: all / partial / none
	)

	UploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmskit",
			Name:      "uploads_total",
			Help:      "Total number of storage uploads",
		},
		[]string{"status"},
	)

	SchemaReloadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cmskit",
			Name:      "schema_reloads_total",
			Help:      "Collection schema reloads",
		},
		[]string{"status"},
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers Prometheus pipeline metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(PipelineOperationsTotal)
	prometheus.MustRegister(PipelineDuration)
	prometheus.MustRegister(BulkOutcomesTotal)
	prometheus.MustRegister(UploadsTotal)
	prometheus.MustRegister(SchemaReloadsTotal)
	pipelineMetricsRegistered = true
}
