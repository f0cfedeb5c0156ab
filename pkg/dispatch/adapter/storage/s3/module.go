package s3

import (
	"go.uber.org/fx"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
)

// Module contributes the S3 provider to the storage provider group.
var Module = fx.Options(
	fx.Provide(fx.Annotate(
		NewS3Provider,
		fx.As(new(storage.StorageProvider)),
		fx.ResultTags(`group:"storage_providers"`),
	)),
)
