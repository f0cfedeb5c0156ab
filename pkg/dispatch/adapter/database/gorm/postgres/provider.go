// Package postgres provides a GORM DBProvider implementation for PostgreSQL databases.
package postgres

import (
	"fmt"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	gormadapter "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm"
	"github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

// init registers the PostgreSQL dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("postgres", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &PostgresDBProvider{}
		connStr := p.ConnectionString(cfg)
		return postgres.Open(connStr), nil
	})
}

// PostgresDBProvider implements database.DBProvider for PostgreSQL connections.
type PostgresDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN (Data Source Name) for PostgreSQL connections.
//
// Parameters:
//
//	c: The `dbconfig.DatabaseConfig` containing connection details.
func (p *PostgresDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	sslmode := c.Sslmode
	if sslmode == "" {
		sslmode = "disable"
	}
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslmode)
	if c.Schema != "" {
		dsn += fmt.Sprintf(" search_path=%s", c.Schema)
	}
	return dsn
}

// NewProvider creates a new `database.DBProvider` for PostgreSQL.
//
// This function is intended to be used with `fx.Provide` to register the
// PostgreSQL DBProvider in the application's dependency injection graph.
//
// Parameters:
//
//	cfg: The application's global configuration.
//
// Returns:
//
//	A `database.DBProvider` instance configured for PostgreSQL.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &PostgresDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "postgres")}
}
