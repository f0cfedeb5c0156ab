package metrics

import (
	"context"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// NoOpMetricRecorder is an implementation of MetricRecorder that does nothing.
// It is used when metrics are disabled or during testing.
type NoOpMetricRecorder struct{}

// NewNoOpMetricRecorder creates a new instance of NoOpMetricRecorder.
func NewNoOpMetricRecorder() MetricRecorder {
	return &NoOpMetricRecorder{}
}

// RecordJobStart does nothing.
func (r *NoOpMetricRecorder) RecordJobStart(ctx context.Context, job *model.Job) {}

// RecordJobEnd does nothing.
func (r *NoOpMetricRecorder) RecordJobEnd(ctx context.Context, job *model.Job) {}

// RecordPollCycle does nothing.
func (r *NoOpMetricRecorder) RecordPollCycle(ctx context.Context) {}

// RecordPollSkipped does nothing.
func (r *NoOpMetricRecorder) RecordPollSkipped(ctx context.Context) {}

// RecordJobReconciled does nothing.
func (r *NoOpMetricRecorder) RecordJobReconciled(ctx context.Context, outcome string) {}

// RecordCommitConflict does nothing.
func (r *NoOpMetricRecorder) RecordCommitConflict(ctx context.Context, record string) {}

// RecordBatchCommit does nothing.
func (r *NoOpMetricRecorder) RecordBatchCommit(ctx context.Context, count int) {}

// RecordItemChecked does nothing.
func (r *NoOpMetricRecorder) RecordItemChecked(ctx context.Context, outcome string) {}

// RecordStreamEmission does nothing.
func (r *NoOpMetricRecorder) RecordStreamEmission(ctx context.Context) {}

// RecordDuration does nothing.
func (r *NoOpMetricRecorder) RecordDuration(ctx context.Context, name string, duration time.Duration, tags map[string]string) {
}

var _ MetricRecorder = (*NoOpMetricRecorder)(nil)

// --- NoOpTracer ---

// NoOpTracer is an implementation of Tracer that does nothing.
type NoOpTracer struct{}

// NewNoOpTracer creates a new instance of NoOpTracer.
func NewNoOpTracer() Tracer {
	return &NoOpTracer{}
}

// StartPollSpan returns the context unchanged.
func (t *NoOpTracer) StartPollSpan(ctx context.Context) (context.Context, func()) {
	return ctx, func() {}
}

// StartReconcileSpan returns the context unchanged.
func (t *NoOpTracer) StartReconcileSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	return ctx, func() {}
}

// StartBatchSpan returns the context unchanged.
func (t *NoOpTracer) StartBatchSpan(ctx context.Context, jobID string, batchIndex int) (context.Context, func()) {
	return ctx, func() {}
}

// RecordError records nothing.
func (t *NoOpTracer) RecordError(ctx context.Context, module string, err error) {}

// RecordEvent records nothing.
func (t *NoOpTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
}

var _ Tracer = (*NoOpTracer)(nil)
