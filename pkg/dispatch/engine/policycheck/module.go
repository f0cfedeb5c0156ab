package policycheck

import (
	"context"

	"go.uber.org/fx"
)

// RegisterShutdown drains running check executions when the application stops.
func RegisterShutdown(lc fx.Lifecycle, m *Manager) {
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return m.Shutdown(ctx)
		},
	})
}

// Module exports the policy check manager for dependency injection.
var Module = fx.Options(
	fx.Provide(NewManager),
	fx.Invoke(RegisterShutdown),
)
