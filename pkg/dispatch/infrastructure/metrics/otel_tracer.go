package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	metrics "github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
)

const tracerName = "github.com/tracelens/dispatch"

// OpenTelemetryTracer is an implementation of metrics.Tracer using OpenTelemetry.
// Spans end up wherever Setup pointed the global tracer provider; without Setup
// they fall through to the default no-op provider.
type OpenTelemetryTracer struct {
	tracer trace.Tracer
}

// NewOpenTelemetryTracer creates a new instance of OpenTelemetryTracer.
func NewOpenTelemetryTracer() metrics.Tracer {
	return &OpenTelemetryTracer{
		tracer: otel.Tracer(tracerName),
	}
}

// StartPollSpan starts a Span for one poll pass.
func (t *OpenTelemetryTracer) StartPollSpan(ctx context.Context) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "dispatch.poll")
	return ctx, func() { span.End() }
}

// StartReconcileSpan starts a Span for reconciling a single job.
func (t *OpenTelemetryTracer) StartReconcileSpan(ctx context.Context, job *model.Job) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "dispatch.reconcile", trace.WithAttributes(
		attribute.String("job.id", job.ID),
		attribute.String("job.kind", job.Kind.String()),
		attribute.String("job.status", job.Status.String()),
	))
	return ctx, func() { span.End() }
}

// StartBatchSpan starts a Span for one check batch.
func (t *OpenTelemetryTracer) StartBatchSpan(ctx context.Context, jobID string, batchIndex int) (context.Context, func()) {
	ctx, span := t.tracer.Start(ctx, "dispatch.check_batch", trace.WithAttributes(
		attribute.String("job.id", jobID),
		attribute.Int("batch.index", batchIndex),
	))
	return ctx, func() { span.End() }
}

// RecordError records an error in the current Span.
func (t *OpenTelemetryTracer) RecordError(ctx context.Context, module string, err error) {
	if err == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	span.RecordError(err, trace.WithAttributes(attribute.String("module", module)))
	span.SetStatus(codes.Error, err.Error())
}

// RecordEvent records an event in the current Span.
func (t *OpenTelemetryTracer) RecordEvent(ctx context.Context, name string, attributes map[string]interface{}) {
	span := trace.SpanFromContext(ctx)
	span.AddEvent(name, trace.WithAttributes(toAttributes(attributes)...))
}

// toAttributes converts a loose attribute map into OTel attributes. Values
// outside the common scalar types are stringified.
func toAttributes(attributes map[string]interface{}) []attribute.KeyValue {
	kvs := make([]attribute.KeyValue, 0, len(attributes))
	for key, value := range attributes {
		switch v := value.(type) {
		case string:
			kvs = append(kvs, attribute.String(key, v))
		case bool:
			kvs = append(kvs, attribute.Bool(key, v))
		case int:
			kvs = append(kvs, attribute.Int(key, v))
		case int64:
			kvs = append(kvs, attribute.Int64(key, v))
		case float64:
			kvs = append(kvs, attribute.Float64(key, v))
		default:
			kvs = append(kvs, attribute.String(key, fmt.Sprintf("%v", v)))
		}
	}
	return kvs
}

var _ metrics.Tracer = (*OpenTelemetryTracer)(nil)
