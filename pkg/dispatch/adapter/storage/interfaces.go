// Package storage defines the interfaces for object storage connection
// management. Concrete implementations (local file system, S3-compatible
// endpoints) live in subpackages.
package storage

import (
	"context"
	"io"

	storageconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/config"
)

// StorageProviderGroup is the Fx group name under which StorageProvider
// implementations are collected.
const StorageProviderGroup = "storage_providers"

// StorageConnection represents an established, named storage connection.
type StorageConnection interface {
	// Upload writes the data stream to the given bucket and object name.
	// An empty bucket falls back to the connection's configured default.
	Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error
	// Download opens the named object for reading. The returned ReadCloser
	// must be closed by the caller.
	Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error)
	// ListObjects calls fn with the name of every object under the given
	// prefix. Returning an error from fn stops the listing.
	ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error
	// DeleteObject removes the named object. Deleting an object that does
	// not exist is not an error.
	DeleteObject(ctx context.Context, bucket, objectName string) error
	// Close releases any resources held by the connection.
	Close() error
	// Type returns the storage type (e.g. "local", "s3").
	Type() string
	// Name returns the logical connection name from configuration.
	Name() string
	// Config returns the configuration the connection was opened with.
	Config() storageconfig.StorageConfig
}

// StorageProvider creates and caches StorageConnection instances for one
// storage type.
type StorageProvider interface {
	// GetConnection returns the connection with the given logical name,
	// establishing it on first use.
	//
	// Parameters:
	//
	//	name: The logical connection name under the `dispatch.storage` config map.
	//
	// Returns:
	//
	//	The established StorageConnection and an error if the connection could not be opened.
	GetConnection(name string) (StorageConnection, error)
	// ForceReconnect closes and re-establishes the named connection.
	ForceReconnect(name string) (StorageConnection, error)
	// CloseAll closes every connection held by this provider.
	CloseAll() error
	// Type returns the storage type this provider serves.
	Type() string
}

// StorageConnectionResolver resolves logical connection names to live
// connections, selecting the appropriate StorageProvider based on the
// configured storage type.
type StorageConnectionResolver interface {
	// ResolveStorageConnection resolves the named connection.
	//
	// Parameters:
	//
	//	ctx: The context for connection establishment.
	//	name: The logical connection name to resolve.
	//
	// Returns:
	//
	//	The resolved StorageConnection and an error if resolution fails.
	ResolveStorageConnection(ctx context.Context, name string) (StorageConnection, error)
}
