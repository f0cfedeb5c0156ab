package metrics

import (
	"context"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// MetricRecorder is an abstract interface for recording metrics related to job
// orchestration and policy check execution.
//
// This interface provides a standardized way to record poll, job, batch and item-level
// events, which facilitates integration with different metrics backends
// (e.g., Prometheus, OpenTelemetry Metrics).
type MetricRecorder interface {
	// RecordJobStart records the creation or launch of a job.
	//
	// ctx: The context for the operation.
	// job: The job that was started.
	RecordJobStart(ctx context.Context, job *model.Job)

	// RecordJobEnd records a job reaching a terminal state.
	//
	// ctx: The context for the operation.
	// job: The job that ended.
	RecordJobEnd(ctx context.Context, job *model.Job)

	// RecordPollCycle records one executed poll pass.
	//
	// ctx: The context for the operation.
	RecordPollCycle(ctx context.Context)

	// RecordPollSkipped records a poll pass rejected by the debounce gate.
	//
	// ctx: The context for the operation.
	RecordPollSkipped(ctx context.Context)

	// RecordJobReconciled records the outcome of reconciling one job against its
	// remote state.
	//
	// ctx: The context for the operation.
	// outcome: The reconcile outcome label (e.g., "completed", "vanished", "progress").
	RecordJobReconciled(ctx context.Context, outcome string)

	// RecordCommitConflict records a lost optimistic-concurrency race.
	//
	// ctx: The context for the operation.
	// record: The record type on which the conflict occurred (e.g., "job", "check_result").
	RecordCommitConflict(ctx context.Context, record string)

	// RecordBatchCommit records the checkpoint of one check batch.
	//
	// ctx: The context for the operation.
	// count: The number of items committed in the batch.
	RecordBatchCommit(ctx context.Context, count int)

	// RecordItemChecked records the classification of a single checked item.
	//
	// ctx: The context for the operation.
	// outcome: The classification label ("triggered", "clean" or "error").
	RecordItemChecked(ctx context.Context, outcome string)

	// RecordStreamEmission records one result emitted by a streaming check.
	//
	// ctx: The context for the operation.
	RecordStreamEmission(ctx context.Context)

	// RecordDuration records the execution time of a specific operation.
	//
	// ctx: The context for the operation.
	// name: The name of the duration to record (e.g., "poll_cycle_duration").
	// duration: The length of the duration to record.
	// tags: A map of additional tags or attributes to associate with the duration.
	RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string)
}
