package main

import (
	"context"

	"go.uber.org/fx"

	database "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm"
	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm/mysql"
	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm/postgres"
	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm/sqlite"
	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	storagelocal "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/local"
	storages3 "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/s3"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/handler"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/policycheck"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/poller"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/archive"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/cache"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/metadata"
	inframetrics "github.com/tracelens/dispatch/pkg/dispatch/infrastructure/metrics"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/remote"
	inmemoryrepo "github.com/tracelens/dispatch/pkg/dispatch/infrastructure/repository/inmemory"
	sqlrepo "github.com/tracelens/dispatch/pkg/dispatch/infrastructure/repository/sql"
	logger "github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// GetApplicationOptions builds the uber-fx options for the dispatch daemon.
// Configuration is loaded before the graph is assembled so module selection
// (store driver) can depend on it.
func GetApplicationOptions(appCtx context.Context, envFilePath string, embeddedConfig config.EmbeddedConfig) []fx.Option {
	cfg, err := config.LoadConfig(envFilePath, embeddedConfig)
	if err != nil {
		logger.Fatalf("Failed to load configuration: %v", err)
	}
	config.GlobalConfig = cfg
	logger.SetLogLevel(cfg.Dispatch.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Dispatch.System.Logging.Level)

	var options []fx.Option

	options = append(options, fx.Supply(
		cfg,
		fx.Annotate(appCtx, fx.As(new(context.Context)), fx.ResultTags(`name:"appCtx"`)),
	))

	options = append(options, logger.Module)
	options = append(options, config.Module)
	// The infrastructure metrics module replaces the core no-op module; including
	// both would double-provide the recorder and tracer interfaces.
	options = append(options, inframetrics.Module)

	// Database adapter with all dialector providers; the connection actually
	// opened is whatever `dispatch.database` names for the configured db_ref.
	options = append(options, database.Module)
	options = append(options, sqlite.Module)
	options = append(options, postgres.Module)
	options = append(options, mysql.Module)

	// Storage adapter backing the result archive.
	options = append(options, storage.Module)
	options = append(options, storagelocal.Module)
	options = append(options, storages3.Module)
	options = append(options, archive.Module)

	// Job record store. The metadata store always runs on the database adapter;
	// the memory driver only swaps the job record repository.
	if cfg.Dispatch.Store.Driver == "memory" {
		logger.Infof("Using in-memory job record store.")
		options = append(options, inmemoryrepo.Module)
	} else {
		options = append(options, sqlrepo.Module)
	}
	options = append(options, metadata.Module)

	options = append(options, cache.Module)
	options = append(options, remote.Module)
	options = append(options, checkapi.Module)
	options = append(options, handler.Module)
	options = append(options, policycheck.Module)
	options = append(options, poller.Module)

	options = append(options, fx.Invoke(
		fx.Annotate(startPollLoop, fx.ParamTags("", "", "", `name:"appCtx"`)),
	))

	return options
}
