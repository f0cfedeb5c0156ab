package local

import (
	"fmt"
	"sync"

	"github.com/hashicorp/go-multierror"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// LocalProvider implements storage.StorageProvider for the file system backend.
type LocalProvider struct {
	cfg         *config.Config
	connections map[string]storage.StorageConnection
	mu          sync.Mutex
}

// NewLocalProvider creates a LocalProvider.
func NewLocalProvider(cfg *config.Config) *LocalProvider {
	return &LocalProvider{
		cfg:         cfg,
		connections: make(map[string]storage.StorageConnection),
	}
}

// Type returns the storage type this provider serves.
func (p *LocalProvider) Type() string {
	return ProviderType
}

// GetConnection returns the connection with the given logical name,
// establishing and caching it on first use.
func (p *LocalProvider) GetConnection(name string) (storage.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		return conn, nil
	}
	return p.createAndStoreConnection(name)
}

// ForceReconnect closes the named connection if present and establishes a new one.
func (p *LocalProvider) ForceReconnect(name string) (storage.StorageConnection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if conn, ok := p.connections[name]; ok {
		if err := conn.Close(); err != nil {
			logger.Warnf("Failed to close stale storage connection '%s' before reconnecting: %v", name, err)
		}
		delete(p.connections, name)
	}
	return p.createAndStoreConnection(name)
}

// CloseAll closes every connection held by this provider.
func (p *LocalProvider) CloseAll() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	var result *multierror.Error
	for name, conn := range p.connections {
		if err := conn.Close(); err != nil {
			result = multierror.Append(result, fmt.Errorf("failed to close storage connection '%s': %w", name, err))
		}
		delete(p.connections, name)
	}
	return result.ErrorOrNil()
}

// createAndStoreConnection resolves the named configuration entry, opens the
// connection, and caches it. The caller must hold p.mu.
func (p *LocalProvider) createAndStoreConnection(name string) (storage.StorageConnection, error) {
	storageCfg, err := storage.DecodeConfig(p.cfg, name)
	if err != nil {
		return nil, err
	}
	if storageCfg.Type != ProviderType {
		return nil, fmt.Errorf("storage configuration '%s' has type '%s', but this provider serves '%s'", name, storageCfg.Type, ProviderType)
	}

	conn, err := NewLocalConnection(storageCfg, name)
	if err != nil {
		return nil, err
	}
	p.connections[name] = conn
	logger.Infof("Established local storage connection '%s' (base_dir %s).", name, storageCfg.BaseDir)
	return conn, nil
}

var _ storage.StorageProvider = (*LocalProvider)(nil)
