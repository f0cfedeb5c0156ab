// Package config provides core configuration structures and utilities for the dispatch engine.
// This module defines Fx providers for configuration-related components.
package config

import "go.uber.org/fx"

// NewLoggingConfigProvider extracts and provides *LoggingConfig from *Config.
// This allows other Fx components to depend only on the logging configuration.
func NewLoggingConfigProvider(cfg *Config) *LoggingConfig {
	return &cfg.Dispatch.System.Logging
}

// NewPollerConfigProvider extracts and provides *PollerConfig from *Config.
func NewPollerConfigProvider(cfg *Config) *PollerConfig {
	return &cfg.Dispatch.Poller
}

// NewCheckConfigProvider extracts and provides *CheckConfig from *Config.
func NewCheckConfigProvider(cfg *Config) *CheckConfig {
	return &cfg.Dispatch.Check
}

// Module provides configuration-related components to Fx. The *Config instance itself
// is supplied by the application entry point after LoadConfig.
var Module = fx.Options(
	fx.Provide(NewLoggingConfigProvider),
	fx.Provide(NewPollerConfigProvider),
	fx.Provide(NewCheckConfigProvider),
)
