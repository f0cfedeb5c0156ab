package storage

import (
	"go.uber.org/fx"
)

// Module provides the storage connection resolver. Backend modules
// (local, s3) contribute providers to the storage_providers group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewResolver,
		fx.As(new(StorageConnectionResolver)),
	)),
)
