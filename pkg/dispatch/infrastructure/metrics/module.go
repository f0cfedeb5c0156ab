package metrics

import (
	"context"

	"go.uber.org/fx"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	metrics "github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
	logger "github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// RegisterTelemetry sets up the OTLP trace pipeline on application start and
// flushes it on stop. With no OTLP endpoint configured this is a no-op and
// spans stay on the default no-op provider.
func RegisterTelemetry(lc fx.Lifecycle, cfg *config.Config) {
	var telemetry *Telemetry

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			t, err := Setup(ctx, cfg.Dispatch.Telemetry)
			if err != nil {
				return err
			}
			telemetry = t
			if telemetry != nil {
				logger.Infof("Tracing enabled. Exporting spans to %s", cfg.Dispatch.Telemetry.OTLPEndpoint)
			}
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return telemetry.Shutdown(ctx)
		},
	})
}

// Module is an Fx module that provides PrometheusRecorder and OpenTelemetryTracer.
var Module = fx.Options(
	// Provide PrometheusRecorder as a core.MetricRecorder interface.
	fx.Provide(fx.Annotate(
		NewPrometheusRecorder,
		fx.As(new(metrics.MetricRecorder)),
	)),
	// Provide OpenTelemetryTracer as a core.Tracer interface.
	fx.Provide(fx.Annotate(
		NewOpenTelemetryTracer,
		fx.As(new(metrics.Tracer)),
	)),
	fx.Invoke(RegisterTelemetry),
)
