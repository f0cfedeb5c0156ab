// Package config defines configuration structures for database adapters.
package config

// DatabaseConfig holds the settings for a single named database connection.
// Entries under the `dispatch.database` configuration map are decoded into
// this structure when a connection is first requested.
type DatabaseConfig struct {
	Type     string     `yaml:"type"`     // Database type (e.g. "postgres", "mysql", "sqlite").
	Host     string     `yaml:"host"`     // Database hostname.
	Port     int        `yaml:"port"`     // Database port.
	Database string     `yaml:"database"` // Database name, or file path for SQLite.
	User     string     `yaml:"user"`     // Connection user.
	Password string     `yaml:"password"` // Connection password.
	Schema   string     `yaml:"schema"`   // Schema name (PostgreSQL).
	Sslmode  string     `yaml:"sslmode"`  // SSL mode (PostgreSQL).
	Pool     PoolConfig `yaml:"pool"`     // Connection pool settings.
}

// PoolConfig holds connection pool tuning settings.
type PoolConfig struct {
	MaxOpenConns           int `yaml:"max_open_conns"`            // Maximum number of open connections.
	MaxIdleConns           int `yaml:"max_idle_conns"`            // Maximum number of idle connections.
	ConnMaxLifetimeMinutes int `yaml:"conn_max_lifetime_minutes"` // Maximum connection lifetime in minutes.
}
