package archive

import (
	"go.uber.org/fx"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// NewArchiverProvider selects the archiver from configuration. Archiving
// disabled means the no-op archiver.
func NewArchiverProvider(resolver storage.StorageConnectionResolver, cfg *config.Config) port.ResultArchiver {
	archiveCfg := cfg.Dispatch.Archive
	if !archiveCfg.Enabled {
		logger.Debugf("Result archiving is disabled.")
		return NewNoOpArchiver()
	}

	logger.Infof("Result archiving enabled. Storage connection: '%s'", archiveCfg.Storage)
	return NewParquetArchiver(resolver, archiveCfg.Storage)
}

// Module exports the result archiver for dependency injection.
var Module = fx.Options(
	fx.Provide(NewArchiverProvider),
)
