package sql

import (
	"context"
	"database/sql"
	"embed"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	migratedb "github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrationsPath is the directory inside migrationsFS holding the SQL files.
const migrationsPath = "migrations"

// migrationsTable tracks applied schema versions.
const migrationsTable = "dispatch_schema_migrations"

// Migrator applies the job store schema migrations to a database connection.
type Migrator struct {
	dbConn database.DBConnection
	dbType string
}

// NewMigrator creates a new Migrator for the given connection.
func NewMigrator(dbConn database.DBConnection) *Migrator {
	return &Migrator{
		dbConn: dbConn,
		dbType: dbConn.Type(),
	}
}

// getDatabaseDriver retrieves a migrate/v4 driver based on the database type.
func (m *Migrator) getDatabaseDriver(sqlDB *sql.DB) (migratedb.Driver, error) {
	switch m.dbType {
	case "postgres":
		return postgres.WithInstance(sqlDB, &postgres.Config{
			MigrationsTable: migrationsTable,
		})
	case "mysql":
		return mysql.WithInstance(sqlDB, &mysql.Config{
			MigrationsTable: migrationsTable,
		})
	case "sqlite":
		return sqlite.WithInstance(sqlDB, &sqlite.Config{
			MigrationsTable: migrationsTable,
		})
	default:
		return nil, fmt.Errorf("unsupported database type for migration: %s", m.dbType)
	}
}

func (m *Migrator) getMigrateInstance() (*migrate.Migrate, error) {
	sqlDB, err := m.dbConn.GetSQLDB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, migrationsPath)
	if err != nil {
		return nil, fmt.Errorf("failed to create iofs source driver for path %s: %w", migrationsPath, err)
	}

	dbDriver, err := m.getDatabaseDriver(sqlDB)
	if err != nil {
		return nil, fmt.Errorf("failed to create database driver: %w", err)
	}

	mInstance, err := migrate.NewWithInstance("iofs", sourceDriver, m.dbType, dbDriver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	return mInstance, nil
}

// Up applies all pending migrations.
func (m *Migrator) Up(ctx context.Context) error {
	logger.Infof("Applying job store migrations (DB: %s, Table: %s)", m.dbType, migrationsTable)

	mInstance, err := m.getMigrateInstance()
	if err != nil {
		return fmt.Errorf("failed to get migrate instance: %w", err)
	}
	defer mInstance.Close()

	if err := mInstance.Up(); err != nil && err != migrate.ErrNoChange {
		if _, _, versionErr := mInstance.Version(); versionErr != nil {
			logger.Errorf("Migration failed and failed to retrieve version: %v", versionErr)
		}
		return fmt.Errorf("migration failed (DB: %s): %w", m.dbType, err)
	}

	logger.Infof("Job store migrations are up to date.")
	return nil
}
