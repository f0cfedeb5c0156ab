// Package metrics_test verifies the Prometheus recorder registers and moves its
// collectors and that the OpenTelemetry tracer produces real spans.
package metrics_test

import (
	"context"
	"errors"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	inframetrics "github.com/tracelens/dispatch/pkg/dispatch/infrastructure/metrics"
)

func configWithEndpoint(endpoint string) config.TelemetryConfig {
	return config.TelemetryConfig{OTLPEndpoint: endpoint}
}

func gatherFamilies(t *testing.T, r *inframetrics.PrometheusRecorder) map[string]*dto.MetricFamily {
	t.Helper()
	families, err := r.GetRegistry().Gather()
	require.NoError(t, err)

	byName := make(map[string]*dto.MetricFamily, len(families))
	for _, family := range families {
		byName[family.GetName()] = family
	}
	return byName
}

func counterValue(family *dto.MetricFamily, labels map[string]string) float64 {
outer:
	for _, m := range family.GetMetric() {
		have := make(map[string]string, len(m.GetLabel()))
		for _, l := range m.GetLabel() {
			have[l.GetName()] = l.GetValue()
		}
		for k, v := range labels {
			if have[k] != v {
				continue outer
			}
		}
		return m.GetCounter().GetValue()
	}
	return 0
}

func TestPrometheusRecorderCounters(t *testing.T) {
	recorder := inframetrics.NewPrometheusRecorder().(*inframetrics.PrometheusRecorder)
	ctx := context.Background()

	recorder.RecordPollCycle(ctx)
	recorder.RecordPollCycle(ctx)
	recorder.RecordPollSkipped(ctx)
	recorder.RecordJobReconciled(ctx, "completed")
	recorder.RecordCommitConflict(ctx, "job")
	recorder.RecordBatchCommit(ctx, 10)
	recorder.RecordBatchCommit(ctx, 3)
	recorder.RecordItemChecked(ctx, "triggered")
	recorder.RecordItemChecked(ctx, "error")
	recorder.RecordStreamEmission(ctx)
	recorder.RecordDuration(ctx, "poll_cycle", 250*time.Millisecond, nil)

	families := gatherFamilies(t, recorder)

	assert.Equal(t, 2.0, counterValue(families["dispatch_poll_cycles_total"], map[string]string{"result": "executed"}))
	assert.Equal(t, 1.0, counterValue(families["dispatch_poll_cycles_total"], map[string]string{"result": "debounced"}))
	assert.Equal(t, 1.0, counterValue(families["dispatch_jobs_reconciled_total"], map[string]string{"outcome": "completed"}))
	assert.Equal(t, 1.0, counterValue(families["dispatch_commit_conflicts_total"], map[string]string{"record": "job"}))
	assert.Equal(t, 2.0, counterValue(families["dispatch_check_batch_commits_total"], nil))
	assert.Equal(t, 13.0, counterValue(families["dispatch_check_batch_items_total"], nil))
	assert.Equal(t, 1.0, counterValue(families["dispatch_check_items_total"], map[string]string{"outcome": "triggered"}))
	assert.Equal(t, 1.0, counterValue(families["dispatch_stream_emissions_total"], nil))
	assert.Contains(t, families, "dispatch_operation_duration_seconds")
}

func TestPrometheusRecorderJobLifecycle(t *testing.T) {
	recorder := inframetrics.NewPrometheusRecorder().(*inframetrics.PrometheusRecorder)
	ctx := context.Background()

	job := model.NewJob("owner-1", "scope-1", model.JobKindAnalysis, "https://remote.example.com")
	recorder.RecordJobStart(ctx, job)

	job.MarkAsRunning()
	job.MarkAsCompleted()
	recorder.RecordJobEnd(ctx, job)

	families := gatherFamilies(t, recorder)
	assert.Equal(t, 1.0, counterValue(families["dispatch_job_status_total"], map[string]string{
		"kind": "analysis", "status": "PENDING",
	}))
	assert.Equal(t, 1.0, counterValue(families["dispatch_job_status_total"], map[string]string{
		"kind": "analysis", "status": "COMPLETED",
	}))
	assert.Contains(t, families, "dispatch_job_duration_seconds")
}

func TestOpenTelemetryTracerSpans(t *testing.T) {
	spanRecorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spanRecorder))
	otel.SetTracerProvider(provider)
	defer func() { _ = provider.Shutdown(context.Background()) }()

	tracer := inframetrics.NewOpenTelemetryTracer()

	ctx, endPoll := tracer.StartPollSpan(context.Background())
	job := model.NewJob("owner-1", "scope-1", model.JobKindAnalysis, "https://remote.example.com")
	reconcileCtx, endReconcile := tracer.StartReconcileSpan(ctx, job)
	tracer.RecordEvent(reconcileCtx, "job_deleted", map[string]interface{}{"job_id": job.ID, "attempt": 3})
	tracer.RecordError(reconcileCtx, "poller", errors.New("remote unreachable"))
	endReconcile()
	endPoll()

	_, endBatch := tracer.StartBatchSpan(context.Background(), job.ID, 1)
	endBatch()

	spans := spanRecorder.Ended()
	require.Len(t, spans, 3)

	names := make([]string, 0, len(spans))
	for _, span := range spans {
		names = append(names, span.Name())
	}
	assert.Contains(t, names, "dispatch.poll")
	assert.Contains(t, names, "dispatch.reconcile")
	assert.Contains(t, names, "dispatch.check_batch")

	for _, span := range spans {
		if span.Name() != "dispatch.reconcile" {
			continue
		}
		assert.NotEmpty(t, span.Events(), "reconcile span should carry the recorded event and error")
	}
}

func TestSetupDisabledWithoutEndpoint(t *testing.T) {
	telemetry, err := inframetrics.Setup(context.Background(), configWithEndpoint(""))
	require.NoError(t, err)
	assert.Nil(t, telemetry)
	assert.NoError(t, telemetry.Shutdown(context.Background()))
}
