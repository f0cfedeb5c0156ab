package gorm

import (
	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
)

// Module exports the components of the gorm adapter package for dependency
// injection (excluding concrete DB providers, which live in subpackages).
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewGormDBConnectionResolver,
		fx.As(new(database.DBConnectionResolver)),
	)),
)
