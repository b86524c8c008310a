// Package metrics exposes Orbit's Prometheus collectors.
//
// Collectors are registered on the default registry at init through
// promauto, so the HTTP API only has to mount promhttp.Handler.
//
// # Basic Usage
//
//	metrics.JobStarted("crm", models.DirectionInbound)
//	timer := metrics.NewTimer()
//	res, err := adapter.FetchBatch(ctx, category, cursor, size)
//	metrics.ObserveCall("crm", "fetch", timer.Stop(), err)
//	...
//	metrics.JobFinished(job)
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/ajitpratap0/orbit/pkg/models"
)

const namespace = "orbit"

var (
	// JobsStarted counts jobs that left pending.
	// Labels: connector, direction
	JobsStarted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_started_total",
			Help:      "Sync jobs started",
		},
		[]string{"connector", "direction"},
	)

	// JobsFinished counts jobs by terminal status.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_finished_total",
			Help:      "Sync jobs finished, by terminal status",
		},
		[]string{"connector", "status"},
	)

	// JobDuration tracks wall time of finished jobs in seconds.
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Wall time of finished sync jobs",
			Buckets: []float64{
				0.1,  // trivial jobs
				1,    // small categories
				10,   // a few thousand records
				60,   // typical incremental
				300,  // large incremental
				1800, // full syncs
				7200, // very large full syncs
			},
		},
		[]string{"connector", "status"},
	)

	// ActiveJobs is the number of jobs currently pending or running.
	ActiveJobs = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_jobs",
			Help:      "Sync jobs pending or running",
		},
	)

	// Records counts per-record outcomes.
	// Labels: connector, category, outcome (processed/failed/skipped)
	Records = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records handled by sync jobs, by outcome",
		},
		[]string{"connector", "category", "outcome"},
	)

	// ConnectorCalls counts adapter calls by result.
	// Labels: connector, operation (fetch/push/raw/test), result
	ConnectorCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "connector_calls_total",
			Help:      "Adapter calls, by result",
		},
		[]string{"connector", "operation", "result"},
	)

	// ConnectorLatency tracks adapter call latency in seconds.
	ConnectorLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "connector_call_duration_seconds",
			Help:      "Adapter call latency",
			Buckets:   prometheus.ExponentialBuckets(0.005, 4, 8),
		},
		[]string{"connector", "operation"},
	)

	// Retries counts retried adapter calls and store saves.
	// Labels: target (connector id or "store")
	Retries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Retried adapter calls and store saves",
		},
		[]string{"target"},
	)

	// ConnectorHealthy is 1 while the last probe of a connector passed.
	ConnectorHealthy = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connector_healthy",
			Help:      "Result of the last connection probe (1 healthy, 0 failing)",
		},
		[]string{"connector"},
	)

	// ScheduleRuns counts scheduler submissions.
	// Labels: result (submitted/skipped/busy/error)
	ScheduleRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "schedule_runs_total",
			Help:      "Due schedules handled by the scheduler, by result",
		},
		[]string{"result"},
	)

	// HTTPRequests counts API requests.
	HTTPRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "API requests, by route and status code",
		},
		[]string{"method", "route", "code"},
	)

	// HTTPLatency tracks API latency in seconds.
	HTTPLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "API request latency",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)
)

// JobStarted records a job entering running.
func JobStarted(connectorID string, direction models.Direction) {
	JobsStarted.WithLabelValues(connectorID, string(direction)).Inc()
}

// JobFinished records a terminal job and its record outcomes.
func JobFinished(job *models.SyncJob) {
	status := string(job.Status)
	JobsFinished.WithLabelValues(job.ConnectorID, status).Inc()
	JobDuration.WithLabelValues(job.ConnectorID, status).Observe(job.Duration().Seconds())
}

// ObserveRecords adds one batch's record outcomes.
func ObserveRecords(connectorID, category string, processed, failed, skipped int) {
	if processed > 0 {
		Records.WithLabelValues(connectorID, category, "processed").Add(float64(processed))
	}
	if failed > 0 {
		Records.WithLabelValues(connectorID, category, "failed").Add(float64(failed))
	}
	if skipped > 0 {
		Records.WithLabelValues(connectorID, category, "skipped").Add(float64(skipped))
	}
}

// ObserveCall records one adapter call.
func ObserveCall(connectorID, operation string, d time.Duration, err error) {
	ConnectorCalls.WithLabelValues(connectorID, operation, result(err)).Inc()
	ConnectorLatency.WithLabelValues(connectorID, operation).Observe(d.Seconds())
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// Timer measures one operation.
type Timer struct {
	start time.Time
}

// NewTimer starts timing immediately
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Stop returns the time elapsed since NewTimer. It may be called repeatedly.
func (t *Timer) Stop() time.Duration {
	return time.Since(t.start)
}
