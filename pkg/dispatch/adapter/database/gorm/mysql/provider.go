// Package mysql provides a GORM DBProvider implementation for MySQL databases.
package mysql

import (
	"fmt"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	gormadapter "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm"
	"github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

// init registers the MySQL dialector factory with the GORM adapter.
func init() {
	gormadapter.RegisterDialector("mysql", func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error) {
		p := &MySQLDBProvider{}
		connStr := p.ConnectionString(cfg)
		return mysql.Open(connStr), nil
	})
}

// MySQLDBProvider implements database.DBProvider for MySQL connections.
type MySQLDBProvider struct {
	*gormadapter.BaseProvider
}

// ConnectionString generates the DSN (Data Source Name) for MySQL connections.
//
// Parameters:
//
//	c: The `dbconfig.DatabaseConfig` containing connection details.
func (p *MySQLDBProvider) ConnectionString(c dbconfig.DatabaseConfig) string {
	// DSN format expected by GORM (gorm.io/driver/mysql)
	// user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local
	// multiStatements is required so schema migrations can run multi-statement files.
	var authPart string
	if c.User != "" {
		authPart = c.User
		if c.Password != "" {
			authPart = fmt.Sprintf("%s:%s", c.User, c.Password)
		}
		authPart += "@"
	}
	return fmt.Sprintf("%stcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=Local&multiStatements=true",
		authPart, c.Host, c.Port, c.Database)
}

// NewProvider creates a new `database.DBProvider` for MySQL.
// This function is intended to be used with `fx.Provide`.
func NewProvider(cfg *config.Config) database.DBProvider {
	return &MySQLDBProvider{BaseProvider: gormadapter.NewBaseProvider(cfg, "mysql")}
}
