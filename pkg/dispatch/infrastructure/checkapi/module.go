package checkapi

import (
	"go.uber.org/fx"
)

// Module exports the check client for dependency injection.
var Module = fx.Options(
	fx.Provide(NewClientProvider),
)
