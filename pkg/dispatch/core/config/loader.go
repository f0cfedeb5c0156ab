package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"

	"go.uber.org/fx"
)

// Package config provides utilities for loading and managing application configuration
// from various sources, including YAML files and environment variables.

const moduleName = "config"

// ConfigParams defines the dependencies for NewConfigProvider.
type ConfigParams struct {
	fx.In
	EmbeddedConfig EmbeddedConfig // EmbeddedConfig contains the raw bytes of the configuration file.
	EnvFilePath    string         `name:"envFilePath" optional:"true"` // EnvFilePath is the path to the .env file, if any.
}

// loadConfig loads configuration from a file and environment variables.
// This function is intended to be called only once during application startup.
func loadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	if envFilePath != "" {
		if err := godotenv.Load(envFilePath); err != nil {
			logger.Warnf(".env file (%s) not found or could not be loaded: %v", envFilePath, err)
		}
	} else {
		if err := godotenv.Load(); err != nil {
			logger.Debugf(".env file not found or could not be loaded: %v", err)
		}
	}

	cfg := NewConfig()

	// 1. Load defaults from NewConfig()

	// 2. Expand ${VAR} placeholders in the embedded YAML, then parse it into a
	// temporary Config struct so YAML values land in their proper types.
	expander := NewOsEnvironmentExpander()
	expanded, err := expander.Expand(embeddedConfig)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to expand embedded config", err, false)
	}

	var yamlConfig Config
	if err := yaml.Unmarshal(expanded, &yamlConfig); err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to unmarshal embedded config", err, false)
	}

	// 3. Merge YAML configuration into the default configuration.
	mergeConfig(cfg, &yamlConfig)

	// 4. Override with environment variables
	if err := loadStructFromEnv(reflect.ValueOf(cfg).Elem(), ""); err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to load config from environment variables", err, false)
	}
	return cfg, nil
}

// NewConfigProvider is an Fx provider that loads and provides *Config.
// It initializes the application configuration by loading defaults,
// merging from embedded YAML, and overriding with environment variables.
// It also sets the global logger level.
func NewConfigProvider(params ConfigParams) (*Config, error) {
	cfg, err := loadConfig(params.EnvFilePath, params.EmbeddedConfig)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to load application config", err, false)
	}

	// Set global configuration
	GlobalConfig = cfg

	// Set log level
	logger.SetLogLevel(cfg.Dispatch.System.Logging.Level)
	logger.Infof("Log level set to: %s", cfg.Dispatch.System.Logging.Level)

	return cfg, nil
}

// LoadConfig loads configuration from configuration files and environment variables.
// This function is expected to be called only once during application startup.
func LoadConfig(envFilePath string, embeddedConfig EmbeddedConfig) (*Config, error) {
	return loadConfig(envFilePath, embeddedConfig)
}

// mergeConfig performs a deep merge from sourceConfig into destConfig.
// Values in sourceConfig will overwrite corresponding values in destConfig
// if they are not zero/empty values for their type.
func mergeConfig(destConfig, sourceConfig *Config) {
	mergeDispatchConfig(&destConfig.Dispatch, &sourceConfig.Dispatch)
}

// mergeDispatchConfig merges source into dest.
func mergeDispatchConfig(dest, source *DispatchConfig) {
	// Merge PollerConfig
	if source.Poller.DebounceSeconds != 0 {
		dest.Poller.DebounceSeconds = source.Poller.DebounceSeconds
	}
	if source.Poller.MaxTerminalObservations != 0 {
		dest.Poller.MaxTerminalObservations = source.Poller.MaxTerminalObservations
	}
	if source.Poller.IntervalSeconds != 0 {
		dest.Poller.IntervalSeconds = source.Poller.IntervalSeconds
	}

	// Merge CheckConfig
	if source.Check.Endpoint != "" {
		dest.Check.Endpoint = source.Check.Endpoint
	}
	if source.Check.APIKey != "" {
		dest.Check.APIKey = source.Check.APIKey
	}
	if source.Check.ChunkSize != 0 {
		dest.Check.ChunkSize = source.Check.ChunkSize
	}
	if source.Check.ItemTimeoutSeconds != 0 {
		dest.Check.ItemTimeoutSeconds = source.Check.ItemTimeoutSeconds
	}
	if source.Check.StreamConcurrency != 0 {
		dest.Check.StreamConcurrency = source.Check.StreamConcurrency
	}

	// Merge StoreConfig
	if source.Store.Driver != "" {
		dest.Store.Driver = source.Store.Driver
	}
	if source.Store.DBRef != "" {
		dest.Store.DBRef = source.Store.DBRef
	}

	// Merge CacheConfig
	if source.Cache.RedisURL != "" {
		dest.Cache.RedisURL = source.Cache.RedisURL
	}
	if source.Cache.TTLSeconds != 0 {
		dest.Cache.TTLSeconds = source.Cache.TTLSeconds
	}

	// Merge ArchiveConfig
	if source.Archive.Enabled {
		dest.Archive.Enabled = source.Archive.Enabled
	}
	if source.Archive.Storage != "" {
		dest.Archive.Storage = source.Archive.Storage
	}

	// Merge TelemetryConfig
	if source.Telemetry.OTLPEndpoint != "" {
		dest.Telemetry.OTLPEndpoint = source.Telemetry.OTLPEndpoint
	}
	if source.Telemetry.ServiceName != "" {
		dest.Telemetry.ServiceName = source.Telemetry.ServiceName
	}

	// Merge SystemConfig
	mergeSystemConfig(&dest.System, &source.System)

	// Merge SecurityConfig
	if source.Security.MaskedParameterKeys != nil {
		dest.Security.MaskedParameterKeys = source.Security.MaskedParameterKeys
	}

	// Merge AdapterConfigs (this is the critical part for database configs)
	if source.AdapterConfigs != nil {
		if dest.AdapterConfigs == nil {
			dest.AdapterConfigs = make(map[string]interface{})
		}
		for key, value := range source.AdapterConfigs {
			dest.AdapterConfigs[key] = value
		}
	}

	// Merge StorageConfigs
	if source.StorageConfigs != nil {
		if dest.StorageConfigs == nil {
			dest.StorageConfigs = make(map[string]interface{})
		}
		for key, value := range source.StorageConfigs {
			dest.StorageConfigs[key] = value
		}
	}
}

// mergeSystemConfig merges source into dest.
func mergeSystemConfig(dest, source *SystemConfig) {
	if source.Timezone != "" {
		dest.Timezone = source.Timezone
	}
	if source.Logging.Level != "" {
		dest.Logging.Level = source.Logging.Level
	}
}

// loadStructFromEnv recursively loads configuration values into a struct from environment variables.
// It uses the "yaml" tag to determine the environment variable name
// (e.g., DISPATCH_POLLER_DEBOUNCE_SECONDS).
func loadStructFromEnv(val reflect.Value, prefix string) error {
	typ := val.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := val.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}
		envVarName := strings.ToUpper(prefix + yamlTag)

		if field.Kind() == reflect.Struct {
			if err := loadStructFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		envValue, exists := os.LookupEnv(envVarName)
		if !exists && field.Kind() != reflect.Map { // If it's a map type, continue to process nested environment variables.
			continue
		}

		if field.Kind() == reflect.Map && field.Type().Key().Kind() == reflect.String && field.Type().Elem().Kind() == reflect.Struct {
			// For map[string]struct{}, process nested environment variables
			// Example: DISPATCH_DATABASE_METADATA_HOST
			if err := loadMapOfStructsFromEnv(field, envVarName+"_"); err != nil {
				return err
			}
			continue
		}

		if err := setField(field, envValue); err != nil {
			return fmt.Errorf("failed to set field '%s' from env var '%s': %w", fieldType.Name, envVarName, err)
		}
	}
	return nil
}

// loadMapOfStructsFromEnv loads fields of type map[string]struct{} from environment variables.
// It infers map keys and struct field names from environment variable names.
//
// Example: For a field `Databases map[string]DatabaseConfig` in the config struct,
// an environment variable `DATABASE_METADATA_HOST=localhost` would set the `Host` field
// of the `DatabaseConfig` instance associated with the key "metadata".
func loadMapOfStructsFromEnv(mapField reflect.Value, prefix string) error {
	if mapField.IsNil() {
		mapField.Set(reflect.MakeMap(mapField.Type()))
	}

	elemType := mapField.Type().Elem()

	for _, env := range os.Environ() {
		if !strings.HasPrefix(env, prefix) {
			continue
		}

		keyPartWithValue := strings.TrimPrefix(env, prefix)
		parts := strings.SplitN(keyPartWithValue, "=", 2)
		if len(parts) != 2 {
			continue
		}
		keyAndField := parts[0] // e.g., "METADATA_HOST"
		envValue := parts[1]

		keyAndFieldParts := strings.Split(keyAndField, "_")
		if len(keyAndFieldParts) < 2 {
			continue
		}
		mapKey := strings.ToLower(keyAndFieldParts[0])
		structFieldName := strings.Join(keyAndFieldParts[1:], "_")

		structVal := mapField.MapIndex(reflect.ValueOf(mapKey))
		if !structVal.IsValid() {
			structVal = reflect.New(elemType).Elem()
		}

		if err := setStructFieldFromEnv(structVal, structFieldName, envValue); err != nil {
			return err
		}
		mapField.SetMapIndex(reflect.ValueOf(mapKey), structVal)
	}
	return nil
}

// setStructFieldFromEnv sets the value of a specific struct field from an environment variable.
// It iterates through the struct's fields, matching the `fieldName` (case-insensitively)
// against the field's `yaml` tag.
func setStructFieldFromEnv(structVal reflect.Value, fieldName string, value string) error {
	typ := structVal.Type()
	for i := 0; i < typ.NumField(); i++ {
		field := structVal.Field(i)
		fieldType := typ.Field(i)
		yamlTag := fieldType.Tag.Get("yaml")
		if yamlTag == "" || yamlTag == "-" {
			continue
		}

		if strings.EqualFold(yamlTag, fieldName) { // (case-insensitive comparison)
			return setField(field, value)
		}
	}
	return nil // Return nil if field not found (not an error)
}

// setField sets the value of a reflect.Value field based on its kind.
// It handles string, int, float, and bool types.
func setField(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}
	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		intValue, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(intValue)
	case reflect.Float64, reflect.Float32:
		floatValue, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(floatValue)
	case reflect.Bool:
		boolValue, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(boolValue)
	}
	return nil
}
