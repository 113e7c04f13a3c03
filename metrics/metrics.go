// Package metrics instruments the engine with Prometheus collectors: a
// per-phase duration histogram, a running-task gauge, rows read/written/
// skipped counters, a scheduler fire-cycle counter, and a retry-attempt
// counter labeled by error classification (SPEC_FULL.md §3 "Metrics
// surface"). Presenting these over HTTP is explicitly out of scope —
// this package only instruments; a caller embedding the engine decides
// whether and how to expose the registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry wraps the engine's Prometheus collectors behind typed
// recording methods, the same shape the teacher's own exporter uses.
type Registry struct {
	reg *prometheus.Registry

	phaseDuration  *prometheus.HistogramVec
	tasksRunning   prometheus.Gauge
	rowsRead       *prometheus.CounterVec
	rowsWritten    *prometheus.CounterVec
	rowsSkipped    *prometheus.CounterVec
	schedulerFires *prometheus.CounterVec
	retryAttempts  *prometheus.CounterVec
}

// New builds a Registry against a fresh prometheus.Registry, or reg if
// non-nil (so an embedding caller can share one process-wide registry).
func New(reg *prometheus.Registry) *Registry {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	r := &Registry{reg: reg}

	r.phaseDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "transferengine",
			Name:      "phase_duration_seconds",
			Help:      "Duration of one executor phase, labeled by phase name.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"phase"},
	)

	r.tasksRunning = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "transferengine",
		Name:      "tasks_running",
		Help:      "Number of tasks currently registered as running.",
	})

	r.rowsRead = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferengine",
			Name:      "rows_read_total",
			Help:      "Total rows read from the Source database, labeled by task.",
		},
		[]string{"task_id"},
	)

	r.rowsWritten = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferengine",
			Name:      "rows_written_total",
			Help:      "Total rows written to the Target database, labeled by task.",
		},
		[]string{"task_id"},
	)

	r.rowsSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferengine",
			Name:      "rows_skipped_total",
			Help:      "Total rows skipped by validation, labeled by task.",
		},
		[]string{"task_id"},
	)

	r.schedulerFires = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferengine",
			Name:      "scheduler_fires_total",
			Help:      "Scheduler cron fires, labeled by outcome (executed, skipped_busy).",
		},
		[]string{"outcome"},
	)

	r.retryAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "transferengine",
			Name:      "retry_attempts_total",
			Help:      "Retry attempts, labeled by the apperrors.Code that triggered the retry.",
		},
		[]string{"code"},
	)

	reg.MustRegister(
		r.phaseDuration,
		r.tasksRunning,
		r.rowsRead,
		r.rowsWritten,
		r.rowsSkipped,
		r.schedulerFires,
		r.retryAttempts,
	)

	return r
}

// ObservePhase records how long one executor phase took.
func (r *Registry) ObservePhase(phase string, d time.Duration) {
	r.phaseDuration.WithLabelValues(phase).Observe(d.Seconds())
}

// SetTasksRunning reports the registry's current running-task count.
func (r *Registry) SetTasksRunning(n int) {
	r.tasksRunning.Set(float64(n))
}

// AddRows records rows read/written/skipped for one task's run.
func (r *Registry) AddRows(taskID string, read, written, skipped int64) {
	if read > 0 {
		r.rowsRead.WithLabelValues(taskID).Add(float64(read))
	}
	if written > 0 {
		r.rowsWritten.WithLabelValues(taskID).Add(float64(written))
	}
	if skipped > 0 {
		r.rowsSkipped.WithLabelValues(taskID).Add(float64(skipped))
	}
}

// RecordSchedulerFire counts one cron fire, either executed or skipped
// because the global single-flight gate was held (spec §4.10).
func (r *Registry) RecordSchedulerFire(executed bool) {
	outcome := "executed"
	if !executed {
		outcome = "skipped_busy"
	}
	r.schedulerFires.WithLabelValues(outcome).Inc()
}

// RecordRetryAttempt counts one retry, labeled by the classification
// (apperrors.Code string) of the error that triggered it.
func (r *Registry) RecordRetryAttempt(code string) {
	r.retryAttempts.WithLabelValues(code).Inc()
}

// Prometheus returns the underlying registry for a caller that wants to
// expose it (e.g. mount promhttp.Handler on its own HTTP mux).
func (r *Registry) Prometheus() *prometheus.Registry {
	return r.reg
}
