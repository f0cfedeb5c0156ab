package config

// Package config provides structures and utilities for managing application configuration.

// EmbeddedConfig holds the content of the configuration file, typically passed from main.go.
// This is used when loading configuration from an embedded source (e.g., a compiled binary).
type EmbeddedConfig []byte

// PollerConfig holds configuration for the job status poller.
type PollerConfig struct {
	// DebounceSeconds is the minimum interval between two poll passes.
	DebounceSeconds int `yaml:"debounce_seconds"`
	// MaxTerminalObservations is the number of polls that must observe a remote FAILED
	// state before the local record is removed.
	MaxTerminalObservations int `yaml:"max_terminal_observations"`
	// IntervalSeconds is the daemon ticker interval for triggering poll passes.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// CheckConfig holds configuration for the policy check engine.
type CheckConfig struct {
	// Endpoint is the default policy check endpoint URL.
	Endpoint string `yaml:"endpoint"`
	// APIKey is the default bearer credential for the check endpoint.
	APIKey string `yaml:"api_key"`
	// ChunkSize is the number of items checked per batch.
	ChunkSize int `yaml:"chunk_size"`
	// ItemTimeoutSeconds is the per-item request timeout.
	ItemTimeoutSeconds int `yaml:"item_timeout_seconds"`
	// StreamConcurrency is the default in-flight limit for streaming checks.
	StreamConcurrency int `yaml:"stream_concurrency"`
}

// StoreConfig holds configuration for the job record store.
type StoreConfig struct {
	// Driver selects the store implementation: "memory", "sqlite", "postgres" or "mysql".
	Driver string `yaml:"driver"`
	// DBRef is the name of the database connection used by the store (e.g., "metadata").
	DBRef string `yaml:"db_ref"`
}

// CacheConfig holds configuration for the job status cache.
type CacheConfig struct {
	// RedisURL is the redis connection URL. Empty disables the cache.
	RedisURL string `yaml:"redis_url"`
	// TTLSeconds bounds how long a mirrored status entry lives.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// ArchiveConfig holds configuration for archiving finalized check results.
type ArchiveConfig struct {
	// Enabled turns result archiving on.
	Enabled bool `yaml:"enabled"`
	// Storage is the name of the storage adapter used for archive objects.
	Storage string `yaml:"storage"`
}

// TelemetryConfig holds configuration for distributed tracing.
type TelemetryConfig struct {
	// OTLPEndpoint is the OTLP/HTTP collector endpoint. Empty disables tracing.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	// ServiceName overrides the reported service name.
	ServiceName string `yaml:"service_name"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	// Level is the logging level (e.g., "INFO", "DEBUG").
	Level string `yaml:"level"`
}

// SystemConfig holds system-wide settings.
type SystemConfig struct {
	// Timezone is the application timezone (e.g., "UTC", "Asia/Tokyo").
	Timezone string `yaml:"timezone"`
	// Logging is the logging configuration.
	Logging LoggingConfig `yaml:"logging"`
}

// SecurityConfig holds security-related settings.
type SecurityConfig struct {
	// MaskedParameterKeys is a list of keys in check parameters whose values should be masked in logs.
	MaskedParameterKeys []string `yaml:"masked_parameter_keys"`
}

// DispatchConfig holds all configuration under the "dispatch" top-level key.
type DispatchConfig struct {
	// Poller contains job status poller configurations.
	Poller PollerConfig `yaml:"poller"`
	// Check contains policy check engine configurations.
	Check CheckConfig `yaml:"check"`
	// Store contains job record store configurations.
	Store StoreConfig `yaml:"store"`
	// Cache contains job status cache configurations.
	Cache CacheConfig `yaml:"cache"`
	// Archive contains result archive configurations.
	Archive ArchiveConfig `yaml:"archive"`
	// Telemetry contains tracing configurations.
	Telemetry TelemetryConfig `yaml:"telemetry"`
	// System contains system-wide configurations.
	System SystemConfig `yaml:"system"`
	// Security contains security-related configurations.
	Security SecurityConfig `yaml:"security"`
	// AdapterConfigs holds configurations for database connections, keyed by name.
	AdapterConfigs map[string]interface{} `yaml:"database"`
	// StorageConfigs holds configurations for storage adapters, keyed by name.
	StorageConfigs map[string]interface{} `yaml:"storage"`
}

// Config is the root structure for the entire application configuration.
type Config struct {
	// Dispatch contains the top-level configuration for the dispatch engine.
	Dispatch DispatchConfig `yaml:"dispatch"`
	// EmbeddedConfig holds configuration loaded from an embedded source, not from YAML.
	EmbeddedConfig EmbeddedConfig `yaml:"-"`
}

// GlobalConfig is a pointer to the configuration instance shared across the application.
// It is expected to be set via fx.Supply or fx.Provide.
var GlobalConfig *Config

// GetMaskedParameterKeys retrieves the list of keys to be masked from the global configuration.
func GetMaskedParameterKeys() []string {
	if GlobalConfig == nil {
		return []string{}
	}
	return GlobalConfig.Dispatch.Security.MaskedParameterKeys
}

// NewConfig returns a new instance of Config with default values.
func NewConfig() *Config {
	cfg := &Config{
		Dispatch: DispatchConfig{
			System: SystemConfig{
				Timezone: "UTC",
				Logging:  LoggingConfig{Level: "INFO"},
			},
			Poller: PollerConfig{
				DebounceSeconds:         1,
				MaxTerminalObservations: 3,
				IntervalSeconds:         30,
			},
			Check: CheckConfig{
				ChunkSize:          10,
				ItemTimeoutSeconds: 30,
				StreamConcurrency:  5,
			},
			Store: StoreConfig{
				Driver: "memory",
				DBRef:  "metadata",
			},
			Cache: CacheConfig{
				TTLSeconds: 300,
			},
			Archive: ArchiveConfig{
				Enabled: false,
				Storage: "local",
			},
			Security: SecurityConfig{
				MaskedParameterKeys: []string{"password", "api_key", "secret", "authorization", "cookie"},
			},
		},
	}

	// Initialize adapter maps as empty, to be populated by YAML or by mergeConfig.
	cfg.Dispatch.AdapterConfigs = map[string]interface{}{}
	cfg.Dispatch.StorageConfigs = map[string]interface{}{}
	return cfg
}
