// Package metrics exposes Prometheus metrics for the harvest scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	// Namespace is the namespace for all harvest scheduler metrics.
	Namespace = "harvest"

	// Subsystem is the subsystem for scheduler metrics.
	Subsystem = "scheduler"
)

// Metrics holds the Prometheus collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	// Packing
	PassesTotal         *prometheus.CounterVec
	PassDurationSeconds prometheus.Histogram
	DefinitionsTotal    *prometheus.CounterVec
	JobsGeneratedTotal  *prometheus.CounterVec
	ConfigsPackedTotal  *prometheus.CounterVec
	ConfigsSkippedTotal *prometheus.CounterVec
	OversizedJobsTotal  *prometheus.CounterVec

	// Dispatch
	DispatchTotal *prometheus.CounterVec

	// Lifecycle
	TransitionsTotal       *prometheus.CounterVec
	InconsistenciesTotal   *prometheus.CounterVec
	TimeoutsTotal          prometheus.Counter
	SignalsProcessedTotal  *prometheus.CounterVec
	HistoryRecordedTotal   prometheus.Counter
	HistoryRecordFailTotal prometheus.Counter
}

// New creates and registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	factory := promauto.With(reg)
	m := &Metrics{}

	m.initPackingMetrics(factory)
	m.initDispatchMetrics(factory)
	m.initLifecycleMetrics(factory)

	return m
}

func (m *Metrics) initPackingMetrics(factory promauto.Factory) {
	m.PassesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "passes_total",
			Help:      "Total number of scheduling passes",
		},
		[]string{"result"},
	)

	m.PassDurationSeconds = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "pass_duration_seconds",
			Help:      "Duration of a scheduling pass in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 16), // 10ms to ~5min
		},
	)

	m.DefinitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "definitions_processed_total",
			Help:      "Harvest definitions processed by the generator",
		},
		[]string{"kind", "result"},
	)

	m.JobsGeneratedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "jobs_generated_total",
			Help:      "Jobs emitted by the generator",
		},
		[]string{"kind", "strategy"},
	)

	m.ConfigsPackedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "configs_packed_total",
			Help:      "Domain configurations placed into jobs",
		},
		[]string{"kind"},
	)

	m.ConfigsSkippedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "configs_skipped_total",
			Help:      "Domain configurations skipped by the strategy",
		},
		[]string{"kind"},
	)

	m.OversizedJobsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "oversized_jobs_total",
			Help:      "Single-configuration jobs whose expected size exceeds the job budget",
		},
		[]string{"kind"},
	)
}

func (m *Metrics) initDispatchMetrics(factory promauto.Factory) {
	m.DispatchTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "dispatch_total",
			Help:      "Dispatch attempts by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
}

func (m *Metrics) initLifecycleMetrics(factory promauto.Factory) {
	m.TransitionsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "job_transitions_total",
			Help:      "Job status transitions",
		},
		[]string{"from", "to"},
	)

	m.InconsistenciesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "state_inconsistencies_total",
			Help:      "Signals that arrived for a job in an unexpected status",
		},
		[]string{"signal"},
	)

	m.TimeoutsTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "job_timeouts_total",
			Help:      "Started jobs failed by the timeout sweep",
		},
	)

	m.SignalsProcessedTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "signals_processed_total",
			Help:      "Crawl engine signals consumed",
		},
		[]string{"signal", "result"},
	)

	m.HistoryRecordedTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "history_recorded_total",
			Help:      "Harvest summaries written after job completion",
		},
	)

	m.HistoryRecordFailTotal = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: Namespace,
			Subsystem: Subsystem,
			Name:      "history_record_failures_total",
			Help:      "Harvest summaries that could not be written",
		},
	)
}

// RecordPass records the outcome and duration of one scheduling pass.
func (m *Metrics) RecordPass(result string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.PassesTotal.WithLabelValues(result).Inc()
	m.PassDurationSeconds.Observe(durationSeconds)
}

// RecordDefinition records the generation outcome for one harvest definition.
func (m *Metrics) RecordDefinition(kind, result string) {
	if m == nil {
		return
	}
	m.DefinitionsTotal.WithLabelValues(kind, result).Inc()
}

// RecordGeneration records jobs and configurations emitted for one definition.
func (m *Metrics) RecordGeneration(kind, strategy string, jobs, packed, skipped int) {
	if m == nil {
		return
	}
	m.JobsGeneratedTotal.WithLabelValues(kind, strategy).Add(float64(jobs))
	m.ConfigsPackedTotal.WithLabelValues(kind).Add(float64(packed))
	m.ConfigsSkippedTotal.WithLabelValues(kind).Add(float64(skipped))
}

// RecordOversized records dedicated jobs created for oversized configurations.
func (m *Metrics) RecordOversized(kind string, jobs int) {
	if m == nil {
		return
	}
	m.OversizedJobsTotal.WithLabelValues(kind).Add(float64(jobs))
}

// RecordDispatch records one dispatch outcome.
func (m *Metrics) RecordDispatch(channel, outcome string) {
	if m == nil {
		return
	}
	m.DispatchTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordTransition records a job status change.
func (m *Metrics) RecordTransition(from, to string) {
	if m == nil {
		return
	}
	m.TransitionsTotal.WithLabelValues(from, to).Inc()
}

// RecordInconsistency records a signal rejected for an unexpected job status.
func (m *Metrics) RecordInconsistency(signal string) {
	if m == nil {
		return
	}
	m.InconsistenciesTotal.WithLabelValues(signal).Inc()
}

// RecordTimeout records a job failed by the sweep.
func (m *Metrics) RecordTimeout() {
	if m == nil {
		return
	}
	m.TimeoutsTotal.Inc()
}

// RecordSignal records a consumed crawl engine signal.
func (m *Metrics) RecordSignal(signal, result string) {
	if m == nil {
		return
	}
	m.SignalsProcessedTotal.WithLabelValues(signal, result).Inc()
}

// RecordHistory records the result of writing one harvest summary.
func (m *Metrics) RecordHistory(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.HistoryRecordedTotal.Inc()
		return
	}
	m.HistoryRecordFailTotal.Inc()
}
