package remote

import (
	"go.uber.org/fx"
)

// Module exports the remote client factory for dependency injection.
var Module = fx.Options(
	fx.Provide(NewHTTPClientFactory),
)
