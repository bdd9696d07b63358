package maintenance

import "github.com/prometheus/client_golang/prometheus"

var (
	retentionRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_retention_runs_total",
			Help: "Total number of session retention runs by status.",
		},
		[]string{"status"},
	)
	sessionsDeletedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_retention_sessions_deleted_total",
			Help: "Total number of sessions deleted by retention runs.",
		},
	)
	valueLogGCRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_value_log_gc_runs_total",
			Help: "Total number of Badger value-log GC runs by status.",
		},
		[]string{"status"},
	)
	valueLogGCRewritesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_value_log_gc_rewrites_total",
			Help: "Total number of value-log files rewritten by GC runs.",
		},
	)
	integrityRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tabletalk_integrity_runs_total",
			Help: "Total number of integrity check runs by status.",
		},
		[]string{"status"},
	)
	integrityMissingObjectsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_integrity_missing_objects_total",
			Help: "Total number of missing raw objects detected by integrity checks.",
		},
	)
	integritySizeMismatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "tabletalk_integrity_size_mismatches_total",
			Help: "Total number of object size mismatches detected by integrity checks.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		retentionRunsTotal,
		sessionsDeletedTotal,
		valueLogGCRunsTotal,
		valueLogGCRewritesTotal,
		integrityRunsTotal,
		integrityMissingObjectsTotal,
		integritySizeMismatchesTotal,
	)
}
