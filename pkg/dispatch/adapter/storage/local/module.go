package local

import (
	"go.uber.org/fx"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
)

// Module contributes the local file system provider to the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewLocalProvider,
		fx.As(new(storage.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
