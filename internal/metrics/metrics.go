// Package metrics provides Prometheus metrics for the corpus pipeline.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "corpus"

var (
	// RecordsConsumed counts source records consumed by the filter.
	RecordsConsumed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_records_consumed_total",
			Help:      "Total number of source records consumed by the filter",
		},
	)

	// RecordsMalformed counts source records that could not be decoded.
	RecordsMalformed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_records_malformed_total",
			Help:      "Total number of malformed source records",
		},
	)

	// CandidatesMatched counts records that passed the predicate.
	CandidatesMatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "filter_candidates_total",
			Help:      "Total number of candidates written",
		},
	)

	// Cursor tracks the last persisted filter cursor.
	Cursor = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "filter_cursor",
			Help:      "Last persisted filter cursor",
		},
	)

	// BatchDuration measures evaluate-append-checkpoint time per batch.
	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "filter_batch_duration_seconds",
			Help:      "Duration of one filter batch in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// AnnotationsTotal counts annotation outcomes.
	AnnotationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "annotations_total",
			Help:      "Total number of annotation outcomes",
		},
		[]string{"status", "kind"},
	)

	// UnitsInFlight tracks remote calls admitted but unresolved.
	UnitsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_in_flight",
			Help:      "Remote-call units admitted but not yet resolved",
		},
	)

	// UnitDuration measures admission-to-resolution time.
	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "scheduler_unit_duration_seconds",
			Help:      "Duration of remote-call units in seconds",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 30, 60, 120, 300},
		},
		[]string{"outcome"},
	)

	// BreakerState tracks the annotation circuit breaker (0 closed, 1 open, 2 half-open).
	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_state",
			Help:      "Annotation circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)
)

// RecordFilterBatch records one committed filter batch.
func RecordFilterBatch(consumed, malformed, matched int, cursor int64, duration time.Duration) {
	RecordsConsumed.Add(float64(consumed))
	RecordsMalformed.Add(float64(malformed))
	CandidatesMatched.Add(float64(matched))
	Cursor.Set(float64(cursor))
	BatchDuration.Observe(duration.Seconds())
}

// RecordAnnotation records one annotation outcome. kind is empty for
// successes.
func RecordAnnotation(ok bool, kind string) {
	status := "success"
	if !ok {
		status = "failure"
	}
	AnnotationsTotal.WithLabelValues(status, kind).Inc()
}

// SetBreakerState records the breaker state as a number.
func SetBreakerState(state int) {
	BreakerState.Set(float64(state))
}

// SchedulerObserver feeds scheduler lifecycle events into the collectors.
type SchedulerObserver struct{}

// Admitted implements scheduler.Observer.
func (SchedulerObserver) Admitted(inFlight int64) {
	UnitsInFlight.Set(float64(inFlight))
}

// Resolved implements scheduler.Observer.
func (SchedulerObserver) Resolved(inFlight int64, elapsed time.Duration, expired bool) {
	UnitsInFlight.Set(float64(inFlight))
	outcome := "completed"
	if expired {
		outcome = "expired"
	}
	UnitDuration.WithLabelValues(outcome).Observe(elapsed.Seconds())
}
