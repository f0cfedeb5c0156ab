package gorm

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// NewGormLogger creates a gorm.Logger instance based on the configured log level.
func NewGormLogger(level string) gorm_logger.Interface {
	var gormLevel gorm_logger.LogLevel
	switch strings.ToUpper(level) {
	case "ERROR":
		gormLevel = gorm_logger.Error
	case "WARN":
		gormLevel = gorm_logger.Warn
	case "INFO", "DEBUG":
		gormLevel = gorm_logger.Info
	default:
		// Default to Silent if not explicitly configured or unknown
		gormLevel = gorm_logger.Silent
	}

	return gorm_logger.New(
		NewGormWriter(),
		gorm_logger.Config{
			SlowThreshold:             200 * time.Millisecond, // Default slow threshold
			LogLevel:                  gormLevel,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
}

// GormWriter is an io.Writer that redirects GORM log output to the application logger.
type GormWriter struct{}

// NewGormWriter creates a new instance of GormWriter.
func NewGormWriter() *GormWriter {
	return &GormWriter{}
}

// Write implements io.Writer.
func (w *GormWriter) Write(p []byte) (n int, err error) {
	msg := strings.TrimSpace(string(p))
	// GORM logs are typically in the format [<duration>ms] SELECT ..., so treat them as DEBUG.
	if strings.Contains(msg, "[") && strings.Contains(msg, "]") && (strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE")) {
		logger.Debugf("[GORM] %s", msg)
	} else {
		// Other GORM logs (connection info, warnings, etc.) are treated as INFO.
		logger.Infof("[GORM] %s", msg)
	}
	return len(p), nil
}

// Printf implements the gorm_logger.Writer interface.
func (w *GormWriter) Printf(format string, v ...interface{}) {
	msg := fmt.Sprintf(format, v...)
	if strings.Contains(msg, "[") && strings.Contains(msg, "]") && (strings.Contains(msg, "SELECT") || strings.Contains(msg, "INSERT") || strings.Contains(msg, "UPDATE") || strings.Contains(msg, "DELETE")) {
		logger.Debugf("[GORM] %s", strings.TrimSpace(msg))
	} else {
		logger.Infof("[GORM] %s", strings.TrimSpace(msg))
	}
}

// GormDBAdapter wraps a GORM connection and implements database.DBConnection.
type GormDBAdapter struct {
	db     *gorm.DB
	sqlDB  *sql.DB
	cfg    dbconfig.DatabaseConfig
	dbType string
	name   string
}

// NewGormDBAdapter creates a new GormDBAdapter.
//
// Parameters:
//
//	db: The established GORM database handle.
//	sqlDB: The underlying *sql.DB of the handle.
//	cfg: The configuration the connection was opened with.
//	dbType: The database type (e.g. "postgres").
//	name: The logical connection name.
func NewGormDBAdapter(db *gorm.DB, sqlDB *sql.DB, cfg dbconfig.DatabaseConfig, dbType string, name string) *GormDBAdapter {
	return &GormDBAdapter{
		db:     db,
		sqlDB:  sqlDB,
		cfg:    cfg,
		dbType: dbType,
		name:   name,
	}
}

// GormDB returns the underlying GORM database handle.
func (a *GormDBAdapter) GormDB() *gorm.DB {
	return a.db
}

// GetSQLDB returns the underlying *sql.DB.
func (a *GormDBAdapter) GetSQLDB() (*sql.DB, error) {
	if a.sqlDB == nil {
		return nil, fmt.Errorf("no underlying *sql.DB available for connection '%s'", a.name)
	}
	return a.sqlDB, nil
}

// RefreshConnection pings the database to verify the connection is alive.
func (a *GormDBAdapter) RefreshConnection(ctx context.Context) error {
	if a.sqlDB == nil {
		return fmt.Errorf("no underlying *sql.DB available for connection '%s'", a.name)
	}
	if err := a.sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to ping database connection '%s': %w", a.name, err)
	}
	return nil
}

// Close releases the connection and its pooled resources.
func (a *GormDBAdapter) Close() error {
	if a.sqlDB == nil {
		return nil
	}
	if err := a.sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database connection '%s': %w", a.name, err)
	}
	logger.Debugf("Closed database connection '%s' (%s).", a.name, a.dbType)
	return nil
}

// Type returns the database type.
func (a *GormDBAdapter) Type() string {
	return a.dbType
}

// Name returns the logical connection name.
func (a *GormDBAdapter) Name() string {
	return a.name
}

// Config returns the configuration the connection was opened with.
func (a *GormDBAdapter) Config() dbconfig.DatabaseConfig {
	return a.cfg
}

var _ database.DBConnection = (*GormDBAdapter)(nil)
