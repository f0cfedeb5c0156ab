package metrics

import (
	"context"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// Tracer is an abstract interface for distributed tracing.
// This interface provides functionality to integrate with tracing systems like
// OpenTelemetry, enabling visualization of poll and check execution flows.
type Tracer interface {
	// StartPollSpan starts a Span for one poll pass.
	//
	// ctx: The parent context.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	//          It is recommended to call the returned function in a defer statement.
	StartPollSpan(ctx context.Context) (context.Context, func())

	// StartReconcileSpan starts a Span for reconciling a single job.
	//
	// ctx: The parent context (typically a context with a poll Span).
	// job: The job being reconciled.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartReconcileSpan(ctx context.Context, job *model.Job) (context.Context, func())

	// StartBatchSpan starts a Span for one check batch.
	//
	// ctx: The parent context.
	// jobID: The check job the batch belongs to.
	// batchIndex: The zero-based index of the batch.
	//
	// Returns: A context with the new Span set, and a function to end the Span.
	StartBatchSpan(ctx context.Context, jobID string, batchIndex int) (context.Context, func())

	// RecordError records an error in the current Span.
	//
	// ctx: The context with the current Span.
	// module: The name of the module or component where the error occurred.
	// err: The error to record.
	RecordError(ctx context.Context, module string, err error)

	// RecordEvent records an event in the current Span.
	//
	// ctx: The context with the current Span.
	// name: The name of the event (e.g., "job_deleted", "batch_checkpoint").
	// attributes: Additional attributes to associate with the event.
	RecordEvent(ctx context.Context, name string, attributes map[string]interface{})
}
