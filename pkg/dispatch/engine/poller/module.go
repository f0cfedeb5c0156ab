package poller

import (
	"go.uber.org/fx"
)

// Module exports the job status poller.
var Module = fx.Options(
	fx.Provide(NewPoller),
)
