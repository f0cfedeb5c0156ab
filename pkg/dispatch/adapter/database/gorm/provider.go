package gorm

import (
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"gorm.io/gorm"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/configbinder"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// DialectorFactory creates a gorm.Dialector from a DatabaseConfig.
type DialectorFactory func(cfg dbconfig.DatabaseConfig) (gorm.Dialector, error)

var (
	dialectorFactories   = make(map[string]DialectorFactory)
	dialectorFactoriesMu sync.RWMutex
)

// RegisterDialector registers a DialectorFactory for the given database type.
// Driver subpackages call this from their init() functions.
func RegisterDialector(dbType string, factory DialectorFactory) {
	dialectorFactoriesMu.Lock()
	defer dialectorFactoriesMu.Unlock()
	if _, exists := dialectorFactories[dbType]; exists {
		logger.Warnf("DialectorFactory for database type '%s' is already registered. Overwriting.", dbType)
	}
	dialectorFactories[dbType] = factory
}

// GetDialectorFactory returns the DialectorFactory registered for the given type.
func GetDialectorFactory(dbType string) (DialectorFactory, bool) {
	dialectorFactoriesMu.RLock()
	defer dialectorFactoriesMu.RUnlock()
	factory, ok := dialectorFactories[dbType]
	return factory, ok
}

// BaseProvider implements the connection caching and lifecycle shared by all
// GORM-backed DBProvider implementations. Concrete providers embed it and
// contribute their dialector through RegisterDialector.
type BaseProvider struct {
	cfg         *config.Config
	dbType      string
	connections map[string]database.DBConnection
	mu          sync.Mutex
}

// NewBaseProvider creates a BaseProvider for the given database type.
func NewBaseProvider(cfg *config.Config, dbType string) *BaseProvider {
	return &BaseProvider{
		cfg:         cfg,
		dbType:      dbType,
		connections: make(map[string]database.DBConnection),
	}
}

// Type returns the database type this provider serves.
func (p *BaseProvider) Type() string {
	return p.dbType
}

// GetConnection returns the connection with the given logical name,
// establishing and caching it on first use.
func (p *BaseProvider) GetConnection(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// ForceReconnect closes the named connection if present and establishes a new one.
func (p *BaseProvider) ForceReconnect(name string) (database.DBConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close stale connection '%s' before reconnecting: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.createAndStoreConnection(name)
}

// CloseAll closes every connection held by this provider.
func (p *BaseProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// createAndStoreConnection resolves the named configuration entry, opens the
// connection, and caches it. The caller must hold p.mu.
func (p *BaseProvider) createAndStoreConnection(name string) (database.DBConnection, error) {
	rawConfig, ok := p.cfg.Dispatch.AdapterConfigs[name]
	if !ok {
		return nil, fmt.Errorf("database configuration '%s' not found under 'dispatch.database'", name)
	}
	properties, ok := rawConfig.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("invalid database configuration format for '%s': expected map[string]interface{} but got %T", name, rawConfig)
	}

	var dbCfg dbconfig.DatabaseConfig
	if err := configbinder.BindProperties(properties, &dbCfg); err != nil {
		return nil, fmt.Errorf("failed to decode database config for '%s': %w", name, err)
	}
	if dbCfg.Type != p.dbType {
		return nil, fmt.Errorf("database configuration '%s' has type '%s', but this provider serves '%s'", name, dbCfg.Type, p.dbType)
	}

	conn, err := p.connect(name, dbCfg)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established database connection '%s' (%s).", name, p.dbType)
	return conn, nil
}

// connect opens a GORM connection for the given configuration and applies
// the configured pool settings.
func (p *BaseProvider) connect(name string, dbCfg dbconfig.DatabaseConfig) (database.DBConnection, error) {
	factory, ok := GetDialectorFactory(p.dbType)
	if !ok {
		return nil, fmt.Errorf("no DialectorFactory registered for database type '%s'", p.dbType)
	}
	dialector, err := factory(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create dialector for connection '%s': %w", name, err)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: NewGormLogger(p.cfg.Dispatch.System.Logging.Level),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection '%s': %w", name, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying *sql.DB for connection '%s': %w", name, err)
	}
	if dbCfg.Pool.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(dbCfg.Pool.MaxOpenConns)
	}
	if dbCfg.Pool.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(dbCfg.Pool.MaxIdleConns)
	}
	if dbCfg.Pool.ConnMaxLifetimeMinutes > 0 {
		sqlDB.SetConnMaxLifetime(time.Duration(dbCfg.Pool.ConnMaxLifetimeMinutes) * time.Minute)
	}

	return NewGormDBAdapter(db, sqlDB, dbCfg, p.dbType, name), nil
}
