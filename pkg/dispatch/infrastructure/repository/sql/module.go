package sql

import (
	"context"

	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
)

// NewJobRepositoryProvider builds the SQL-backed JobRepository using the
// connection name configured under `dispatch.store.db_ref`.
func NewJobRepositoryProvider(dbResolver database.DBConnectionResolver, cfg *config.Config) repository.JobRepository {
	return NewSQLJobRepository(dbResolver, cfg.Dispatch.Store.DBRef)
}

// RunMigrations applies pending schema migrations on application start.
func RunMigrations(lc fx.Lifecycle, dbResolver database.DBConnectionResolver, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			conn, err := dbResolver.ResolveDBConnection(ctx, cfg.Dispatch.Store.DBRef)
			if err != nil {
				return err
			}
			return NewMigrator(conn).Up(ctx)
		},
	})
}

// Module exports the SQL job repository for dependency injection.
var Module = fx.Options(
	fx.Provide(NewJobRepositoryProvider),
	fx.Invoke(RunMigrations),
)
