package gorm

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/configbinder"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// GormDBConnectionResolver is the GORM implementation of database.DBConnectionResolver.
type GormDBConnectionResolver struct {
	dbProviders map[string]database.DBProvider // DBProviders keyed by database type.
	cfg         *config.Config
}

// NewGormDBConnectionResolver creates a new GormDBConnectionResolver.
// It receives dependencies using Fx's parameter struct.
//
// Parameters:
//
//	p: An Fx parameter struct containing a slice of DBProviders and the application Config.
//
// Returns:
//
//	A new GormDBConnectionResolver instance.
func NewGormDBConnectionResolver(p struct {
	fx.In
	DBProviders []database.DBProvider `group:"db_providers"`
	Cfg         *config.Config
}) *GormDBConnectionResolver {
	providerMap := make(map[string]database.DBProvider)
	for _, provider := range p.DBProviders {
		providerMap[provider.Type()] = provider
	}

	return &GormDBConnectionResolver{
		dbProviders: providerMap,
		cfg:         p.Cfg,
	}
}

// ResolveDBConnection resolves a database connection with the specified name.
// It attempts to reconnect if the cached connection no longer responds to a ping.
//
// Parameters:
//
//	ctx: The context for the health check.
//	name: The logical connection name to resolve.
//
// Returns:
//
//	The resolved database.DBConnection and an error if resolution or reconnection fails.
func (r *GormDBConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (database.DBConnection, error) {
	rawConfig, ok := r.cfg.Dispatch.AdapterConfigs[name]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: database configuration '%s' not found under 'dispatch.database'", name)
	}
	properties, ok := rawConfig.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: invalid database configuration format for '%s': expected map[string]interface{} but got %T", name, rawConfig)
	}
	var dbCfg dbconfig.DatabaseConfig
	if err := configbinder.BindProperties(properties, &dbCfg); err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to decode database config for '%s': %w", name, err)
	}

	provider, ok := r.dbProviders[dbCfg.Type]
	if !ok {
		return nil, fmt.Errorf("DBConnectionResolver: DBProvider for type '%s' not found for connection '%s'", dbCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("DBConnectionResolver: failed to get connection '%s': %w", name, err)
	}

	if err := conn.RefreshConnection(ctx); err != nil {
		logger.Warnf("DBConnectionResolver: connection '%s' is invalid (%v). Attempting to reconnect.", name, err)
		reconnectedConn, reconnectErr := provider.ForceReconnect(name)
		if reconnectErr != nil {
			return nil, fmt.Errorf("DBConnectionResolver: failed to reconnect connection '%s': %w", name, reconnectErr)
		}
		logger.Infof("DBConnectionResolver: successfully reconnected connection '%s'.", name)
		return reconnectedConn, nil
	}

	return conn, nil
}

var _ database.DBConnectionResolver = (*GormDBConnectionResolver)(nil)
