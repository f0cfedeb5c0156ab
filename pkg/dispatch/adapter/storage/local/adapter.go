// Package local provides a local file system implementation of the storage
// adapter interfaces. Buckets map to directories under the configured base
// directory and objects map to files.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	storageconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// ProviderType is the type identifier for the local storage backend.
const ProviderType = "local"

// localConnection implements storage.StorageConnection on the file system.
type localConnection struct {
	cfg  storageconfig.StorageConfig
	name string
}

var _ storage.StorageConnection = (*localConnection)(nil)

// NewLocalConnection creates a file system backed storage connection. The
// configured BaseDir is created when it does not exist yet.
func NewLocalConnection(cfg storageconfig.StorageConfig, name string) (storage.StorageConnection, error) {
	if cfg.BaseDir == "" {
		return nil, fmt.Errorf("local storage connection '%s': base_dir must be specified in configuration", name)
	}

	info, err := os.Stat(cfg.BaseDir)
	switch {
	case os.IsNotExist(err):
		if err := os.MkdirAll(cfg.BaseDir, 0755); err != nil {
			return nil, fmt.Errorf("local storage connection '%s': failed to create base_dir '%s': %w", name, cfg.BaseDir, err)
		}
	case err != nil:
		return nil, fmt.Errorf("local storage connection '%s': failed to stat base_dir '%s': %w", name, cfg.BaseDir, err)
	case !info.IsDir():
		return nil, fmt.Errorf("local storage connection '%s': base_dir '%s' is not a directory", name, cfg.BaseDir)
	}

	return &localConnection{cfg: cfg, name: name}, nil
}

// Close does nothing for the local file system, which holds no resources.
func (c *localConnection) Close() error {
	logger.Debugf("Local storage connection '%s' closed.", c.name)
	return nil
}

// Type returns "local".
func (c *localConnection) Type() string {
	return ProviderType
}

// Name returns the logical connection name.
func (c *localConnection) Name() string {
	return c.name
}

// Config returns the configuration the connection was opened with.
func (c *localConnection) Config() storageconfig.StorageConfig {
	return c.cfg
}

// Upload writes the data stream to a file under BaseDir, creating parent
// directories as needed. The contentType is ignored on the file system.
func (c *localConnection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for upload: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fullPath), 0755); err != nil {
		return fmt.Errorf("failed to create directory for '%s': %w", fullPath, err)
	}

	file, err := os.Create(fullPath)
	if err != nil {
		return fmt.Errorf("failed to create file '%s': %w", fullPath, err)
	}
	defer file.Close()

	if _, err := io.Copy(file, data); err != nil {
		return fmt.Errorf("failed to write data to file '%s': %w", fullPath, err)
	}
	logger.Debugf("Uploaded object '%s' (local connection '%s').", fullPath, c.name)
	return nil
}

// Download opens the named file. The returned ReadCloser must be closed by
// the caller.
func (c *localConnection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve path for download: %w", err)
	}

	file, err := os.Open(fullPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file '%s': %w", fullPath, err)
	}
	return file, nil
}

// ListObjects walks the bucket directory and calls fn with the relative name
// of every file matching the prefix.
func (c *localConnection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucketDir, err := c.resolvePath(bucket, "")
	if err != nil {
		return fmt.Errorf("failed to resolve bucket path for listing: %w", err)
	}
	if _, err := os.Stat(bucketDir); os.IsNotExist(err) {
		return nil
	}

	err = filepath.WalkDir(bucketDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}

		objectName, err := filepath.Rel(bucketDir, path)
		if err != nil {
			return fmt.Errorf("failed to get relative path for '%s': %w", path, err)
		}
		objectName = filepath.ToSlash(objectName)

		if prefix != "" && !strings.HasPrefix(objectName, prefix) {
			return nil
		}
		return fn(objectName)
	})
	if err != nil {
		return fmt.Errorf("failed to list objects under '%s' with prefix '%s': %w", bucketDir, prefix, err)
	}
	return nil
}

// DeleteObject removes the named file. A missing file is logged and ignored.
func (c *localConnection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	fullPath, err := c.resolvePath(bucket, objectName)
	if err != nil {
		return fmt.Errorf("failed to resolve path for delete: %w", err)
	}

	if err := os.Remove(fullPath); err != nil {
		if os.IsNotExist(err) {
			logger.Warnf("Attempted to delete non-existent object '%s' (local connection '%s').", fullPath, c.name)
			return nil
		}
		return fmt.Errorf("failed to delete file '%s': %w", fullPath, err)
	}
	logger.Debugf("Deleted object '%s' (local connection '%s').", fullPath, c.name)
	return nil
}

// resolvePath joins BaseDir, bucket and object name and verifies the result
// stays inside BaseDir.
func (c *localConnection) resolvePath(bucket, objectName string) (string, error) {
	if bucket == "" {
		bucket = c.cfg.BucketName
	}

	fullPath := filepath.Join(c.cfg.BaseDir, bucket, objectName)

	absBaseDir, err := filepath.Abs(c.cfg.BaseDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for base_dir '%s': %w", c.cfg.BaseDir, err)
	}
	absFullPath, err := filepath.Abs(fullPath)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path for '%s': %w", fullPath, err)
	}
	if absFullPath != absBaseDir && !strings.HasPrefix(absFullPath, absBaseDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("resolved path '%s' is outside of base_dir '%s'", fullPath, c.cfg.BaseDir)
	}

	return fullPath, nil
}
