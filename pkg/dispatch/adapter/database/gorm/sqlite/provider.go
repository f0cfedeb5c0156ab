// Package sqlite provides a GORM DBProvider implementation for SQLite databases.
package sqlite

import (
	"errors"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	gormadapter "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm"
	"github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

// init registers the SQLite dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("sqlite", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		if cfg.Database == "" { // Ensure database path is provided.
			return nil, errors.New("SQLite database path cannot be empty")
		}
		p := &SQLiteDBProvider{}
		connStr := p.ConnectionString(cfg)
		return sqlite.Open(connStr), nil
	})
}

// SQLiteDBProvider implements database.DBProvider for SQLite connections.
type SQLiteDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN (Data Source Name) for SQLite connections.
//
// Parameters:
//
//	c: The `dbconfig.DatabaseConfig` containing connection details.
func (p *SQLiteDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	// GORM SQLite Dialector expects the file path directly
	return c.Database
}

// NewProvider creates a new `database.DBProvider` for SQLite.
// This function is intended to be used with `fx.Provide`.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &SQLiteDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "sqlite")}
}
