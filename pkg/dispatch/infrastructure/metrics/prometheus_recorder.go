package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	metrics "github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
	logger "github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// PrometheusRecorder is a Prometheus implementation of the metrics.MetricRecorder interface.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	// Job metrics
	jobDurationSeconds *prometheus.HistogramVec
	jobStatusCounter   *prometheus.CounterVec

	// Poller metrics
	pollCycleCounter    *prometheus.CounterVec
	jobsReconciledTotal *prometheus.CounterVec
	commitConflictTotal *prometheus.CounterVec

	// Check engine metrics
	batchCommitTotal     prometheus.Counter
	batchItemsCommitted  prometheus.Counter
	itemsCheckedTotal    *prometheus.CounterVec
	streamEmissionsTotal prometheus.Counter

	// Generic durations recorded via RecordDuration.
	durationSeconds *prometheus.HistogramVec
}

// NewPrometheusRecorder creates a new instance of PrometheusRecorder.
func NewPrometheusRecorder() metrics.MetricRecorder {
	registry := prometheus.NewRegistry()

	// Register Go standard metrics and process/OS metrics.
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &PrometheusRecorder{
		registry: registry,
		jobDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_job_duration_seconds",
			Help:    "Duration of dispatch jobs from creation to terminal state.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind", "status"}),
		jobStatusCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_job_status_total",
			Help: "Total number of dispatch jobs by kind and status.",
		}, []string{"kind", "status"}),
		pollCycleCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_poll_cycles_total",
			Help: "Total number of poll passes by result (executed or debounced).",
		}, []string{"result"}),
		jobsReconciledTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_jobs_reconciled_total",
			Help: "Total number of per-job reconciliations by outcome.",
		}, []string{"outcome"}),
		commitConflictTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_commit_conflicts_total",
			Help: "Total number of lost optimistic-concurrency races by record type.",
		}, []string{"record"}),
		batchCommitTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_check_batch_commits_total",
			Help: "Total number of committed check batch checkpoints.",
		}),
		batchItemsCommitted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_check_batch_items_total",
			Help: "Total number of items committed through batch checkpoints.",
		}),
		itemsCheckedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispatch_check_items_total",
			Help: "Total number of checked items by classification.",
		}, []string{"outcome"}),
		streamEmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispatch_stream_emissions_total",
			Help: "Total number of results emitted by streaming checks.",
		}),
		durationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dispatch_operation_duration_seconds",
			Help:    "Duration of named dispatch operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"name"}),
	}

	// Register all metrics with the registry.
	registry.MustRegister(r.jobDurationSeconds)
	registry.MustRegister(r.jobStatusCounter)
	registry.MustRegister(r.pollCycleCounter)
	registry.MustRegister(r.jobsReconciledTotal)
	registry.MustRegister(r.commitConflictTotal)
	registry.MustRegister(r.batchCommitTotal)
	registry.MustRegister(r.batchItemsCommitted)
	registry.MustRegister(r.itemsCheckedTotal)
	registry.MustRegister(r.streamEmissionsTotal)
	registry.MustRegister(r.durationSeconds)

	return r
}

// GetRegistry returns the Prometheus registry.
func (r *PrometheusRecorder) GetRegistry() *prometheus.Registry {
	return r.registry
}

// RecordJobStart records the creation or launch of a job.
func (r *PrometheusRecorder) RecordJobStart(ctx context.Context, job *model.Job) {
	r.jobStatusCounter.WithLabelValues(job.Kind.String(), job.Status.String()).Inc()
	logger.Debugf("Metrics: Job '%s' (%s) started.", job.ID, job.Kind)
}

// RecordJobEnd records a job reaching a terminal state.
func (r *PrometheusRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {
	r.jobStatusCounter.WithLabelValues(job.Kind.String(), job.Status.String()).Inc()

	if job.CompletedAt == nil {
		return
	}
	duration := job.CompletedAt.Sub(job.CreatedAt).Seconds()
	r.jobDurationSeconds.WithLabelValues(job.Kind.String(), job.Status.String()).Observe(duration)

	logger.Debugf("Metrics: Job '%s' (%s) ended with %s. Duration: %.3fs", job.ID, job.Kind, job.Status, duration)
}

// RecordPollCycle records one executed poll pass.
func (r *PrometheusRecorder) RecordPollCycle(ctx context.Context) {
	r.pollCycleCounter.WithLabelValues("executed").Inc()
}

// RecordPollSkipped records a poll pass rejected by the debounce gate.
func (r *PrometheusRecorder) RecordPollSkipped(ctx context.Context) {
	r.pollCycleCounter.WithLabelValues("debounced").Inc()
}

// RecordJobReconciled records the outcome of reconciling one job.
func (r *PrometheusRecorder) RecordJobReconciled(ctx context.Context, outcome string) {
	r.jobsReconciledTotal.WithLabelValues(outcome).Inc()
}

// RecordCommitConflict records a lost optimistic-concurrency race.
func (r *PrometheusRecorder) RecordCommitConflict(ctx context.Context, record string) {
	r.commitConflictTotal.WithLabelValues(record).Inc()
}

// RecordBatchCommit records the checkpoint of one check batch.
func (r *PrometheusRecorder) RecordBatchCommit(ctx context.Context, count int) {
	r.batchCommitTotal.Inc()
	r.batchItemsCommitted.Add(float64(count))
}

// RecordItemChecked records the classification of a single checked item.
func (r *PrometheusRecorder) RecordItemChecked(ctx context.Context, outcome string) {
	r.itemsCheckedTotal.WithLabelValues(outcome).Inc()
}

// RecordStreamEmission records one result emitted by a streaming check.
func (r *PrometheusRecorder) RecordStreamEmission(ctx context.Context) {
	r.streamEmissionsTotal.Inc()
}

// RecordDuration records the execution time of a specific operation.
func (r *PrometheusRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
	r.durationSeconds.WithLabelValues(name).Observe(duration.Seconds())
}

var _ metrics.MetricRecorder = (*PrometheusRecorder)(nil)
