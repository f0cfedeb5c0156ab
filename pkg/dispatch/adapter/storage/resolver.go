package storage

import (
	"context"
	"fmt"

	"go.uber.org/fx"

	storageconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/config"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/configbinder"
)

// DecodeConfig resolves the named entry of the `dispatch.storage` config map
// into a typed StorageConfig. Providers and the resolver share this so a
// connection name decodes the same way everywhere.
func DecodeConfig(cfg *config.Config, name string) (storageconfig.StorageConfig, error) {
	var storageCfg storageconfig.StorageConfig

	rawConfig, ok := cfg.Dispatch.StorageConfigs[name]
	if !ok {
		return storageCfg, fmt.Errorf("storage configuration '%s' not found under 'dispatch.storage'", name)
	}
	properties, ok := rawConfig.(map[string]interface{})
	if !ok {
		return storageCfg, fmt.Errorf("invalid storage configuration format for '%s': expected map[string]interface{} but got %T", name, rawConfig)
	}
	if err := configbinder.BindProperties(properties, &storageCfg); err != nil {
		return storageCfg, fmt.Errorf("failed to decode storage config for '%s': %w", name, err)
	}
	return storageCfg, nil
}

// Resolver is the default implementation of StorageConnectionResolver. It
// dispatches to the provider registered for the configured storage type.
type Resolver struct {
	providers map[string]StorageProvider
	cfg       *config.Config
}

// NewResolver creates a Resolver from the collected StorageProvider group.
func NewResolver(p struct {
	fx.In
	Providers []StorageProvider `group:"storage_providers"`
	Cfg       *config.Config
}) *Resolver {
	providerMap := make(map[string]StorageProvider)
	for _, provider := range p.Providers {
		providerMap[provider.Type()] = provider
	}

	return &Resolver{
		providers: providerMap,
		cfg:       p.Cfg,
	}
}

// ResolveStorageConnection resolves a storage connection with the specified name.
func (r *Resolver) ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error) {
	storageCfg, err := DecodeConfig(r.cfg, name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: %w", err)
	}

	provider, ok := r.providers[storageCfg.Type]
	if !ok {
		return nil, fmt.Errorf("StorageConnectionResolver: StorageProvider for type '%s' not found for connection '%s'", storageCfg.Type, name)
	}

	conn, err := provider.GetConnection(name)
	if err != nil {
		return nil, fmt.Errorf("StorageConnectionResolver: failed to get connection '%s': %w", name, err)
	}
	return conn, nil
}

var _ StorageConnectionResolver = (*Resolver)(nil)
