package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	uploadsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_uploads_total",
			Help: "Total number of dataset uploads by file format and outcome.",
		},
		[]string{"format", "outcome"},
	)
	uploadRowsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_upload_rows_total",
			Help: "Total number of data rows loaded through uploads.",
		},
	)
	datasetsLoaded = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "tabletalk_datasets_loaded",
			Help: "Current count of datasets with a live query engine.",
		},
	)
	datasetRestoresTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_dataset_restores_total",
			Help: "Total number of startup dataset restore attempts by outcome.",
		},
		[]string{"outcome"},
	)
	pipelineRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_pipeline_runs_total",
			Help: "Total number of question pipeline turns by route and outcome.",
		},
		[]string{"route", "outcome"},
	)
	pipelineDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabletalk_pipeline_duration_seconds",
			Help:    "End-to-end question pipeline latency by route.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"route"},
	)
	pipelineRepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_pipeline_repairs_total",
			Help: "Total number of single-shot SQL repair attempts by result.",
		},
		[]string{"result"},
	)
	llmRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_llm_requests_total",
			Help: "Total number of inference service calls by operation and outcome.",
		},
		[]string{"operation", "outcome"},
	)
	llmRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tabletalk_llm_request_duration_seconds",
			Help:    "Inference service call latency by operation.",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)
	engineQueryDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tabletalk_engine_query_duration_seconds",
			Help:    "Query execution latency against per-dataset engines.",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)
	translationCacheEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_translation_cache_events_total",
			Help: "Total number of translation cache hits, misses and stores.",
		},
		[]string{"event"},
	)
)

func init() {
	prometheus.MustRegister(
		uploadsTotal,
		uploadRowsTotal,
		datasetsLoaded,
		datasetRestoresTotal,
		pipelineRunsTotal,
		pipelineDurationSeconds,
		pipelineRepairsTotal,
		llmRequestsTotal,
		llmRequestDurationSeconds,
		engineQueryDurationSeconds,
		translationCacheEventsTotal,
	)
}

func ObserveUpload(format, outcome string, rows int) {
	uploadsTotal.WithLabelValues(format, outcome).Inc()
	if rows > 0 {
		uploadRowsTotal.Add(float64(rows))
	}
}

func SetDatasetsLoaded(count int) {
	if count < 0 {
		count = 0
	}
	datasetsLoaded.Set(float64(count))
}

func ObserveRestore(outcome string) {
	datasetRestoresTotal.WithLabelValues(outcome).Inc()
}

func ObservePipelineRun(route, outcome string, elapsed time.Duration) {
	pipelineRunsTotal.WithLabelValues(route, outcome).Inc()
	pipelineDurationSeconds.WithLabelValues(route).Observe(elapsed.Seconds())
}

func ObserveRepair(result string) {
	pipelineRepairsTotal.WithLabelValues(result).Inc()
}

func ObserveLLMRequest(operation, outcome string, elapsed time.Duration) {
	llmRequestsTotal.WithLabelValues(operation, outcome).Inc()
	llmRequestDurationSeconds.WithLabelValues(operation).Observe(elapsed.Seconds())
}

func ObserveEngineQuery(elapsed time.Duration) {
	engineQueryDurationSeconds.Observe(elapsed.Seconds())
}

func ObserveCacheEvent(event string) {
	translationCacheEventsTotal.WithLabelValues(event).Inc()
}
