// Package database defines the interfaces for database connection management.
// Concrete implementations (e.g. GORM-backed providers) live in subpackages.
package database

import (
	"context"
	"database/sql"

	"gorm.io/gorm"

	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
)

// DBProviderGroup is the Fx group name under which DBProvider implementations
// are collected.
const DBProviderGroup = "db_providers"

// DBConnection represents an established, named database connection.
type DBConnection interface {
	// GormDB returns the underlying GORM database handle.
	GormDB() *gorm.DB
	// GetSQLDB returns the underlying *sql.DB for low-level operations
	// such as health checks and migrations.
	GetSQLDB() (*sql.DB, error)
	// RefreshConnection verifies the connection is alive.
	RefreshConnection(ctx context.Context) error
	// Close releases the connection and its pooled resources.
	Close() error
	// Type returns the database type (e.g. "postgres").
	Type() string
	// Name returns the logical connection name from configuration.
	Name() string
	// Config returns the configuration the connection was opened with.
	Config() dbconfig.DatabaseConfig
}

// DBProvider creates and caches DBConnection instances for one database type.
type DBProvider interface {
	// GetConnection returns the connection with the given logical name,
	// establishing it on first use.
	//
	// Parameters:
	//
	//	name: The logical connection name under the `dispatch.database` config map.
	//
	// Returns:
	//
	//	The established DBConnection and an error if the connection could not be opened.
	GetConnection(name string) (DBConnection, error)
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (DBConnection, error)
	// CloseAll closes every connection held by this provider.
	CloseAll() error
	// Type returns the database type this provider serves.
	Type() string
}

// DBConnectionResolver resolves logical connection names to live connections,
// selecting the appropriate DBProvider based on the configured database type.
type DBConnectionResolver interface {
	// ResolveDBConnection resolves the named connection, reconnecting when the
	// cached connection no longer responds to a ping.
	//
	// Parameters:
	//
	//	ctx: The context for the health check.
	//	name: The logical connection name to resolve.
	//
	// Returns:
	//
	//	The resolved DBConnection and an error if resolution or reconnection fails.
	ResolveDBConnection(ctx context.Context, name string) (DBConnection, error)
}
