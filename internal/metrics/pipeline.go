package metrics

import "github.com/prometheus/client_golang/prometheus"

// Ingestion pipeline Prometheus metrics.
var (
	DispatchCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atenea",
			Name:      "dispatch_cycles_total",
			Help:      "Dispatch cycles by outcome",
		},
		[]string{"outcome"}, // "processed" / "failed" / "idle"
	)

	WorkerRunDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "atenea",
			Name:      "worker_run_duration_seconds",
			Help:      "Embedding worker subprocess duration in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 180, 240, 300},
		},
		[]string{"status"}, // "success" / "failure" / "timeout"
	)

	TasksResetTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atenea",
			Name:      "tasks_reset_total",
			Help:      "Stuck processing tasks returned to pending",
		},
	)

	ChunksIngestedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "atenea",
			Name:      "chunks_ingested_total",
			Help:      "Chunks written by successful ingestion cycles",
		},
	)

	RetrievalRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "atenea",
			Name:      "retrieval_requests_total",
			Help:      "Retrieval runs by strategy and outcome",
		},
		[]string{"strategy", "outcome"}, // outcome: "hit" / "fallback" / "empty" / "error"
	)
)

var pipelineMetricsRegistered bool

// RegisterPipelineMetrics registers ingestion and retrieval metrics. Must be called once from main.
func RegisterPipelineMetrics() {
	if pipelineMetricsRegistered {
		return
	}
	prometheus.MustRegister(DispatchCyclesTotal)
	prometheus.MustRegister(WorkerRunDuration)
	prometheus.MustRegister(TasksResetTotal)
	prometheus.MustRegister(ChunksIngestedTotal)
	prometheus.MustRegister(RetrievalRequestsTotal)
	pipelineMetricsRegistered = true
}
