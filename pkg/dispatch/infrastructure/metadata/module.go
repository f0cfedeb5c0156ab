package metadata

import (
	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

// NewMetadataStoreProvider builds the GORM-backed metadata store using the
// connection name configured under `dispatch.store.db_ref`.
func NewMetadataStoreProvider(dbResolver database.DBConnectionResolver, cfg *config.Config) *GormMetadataStore {
	return NewGormMetadataStore(dbResolver, cfg.Dispatch.Store.DBRef)
}

// Module exports the metadata store behind each of its ports.
var Module = fx.Options(
	fx.Provide(
		fx.Annotate(
			NewMetadataStoreProvider,
			fx.As(new(port.TraceSource)),
			fx.As(new(port.AnnotationSink)),
			fx.As(new(port.ReportSink)),
			fx.As(new(port.PolicySink)),
		),
	),
)
