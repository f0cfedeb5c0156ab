// Package s3 provides an S3-compatible implementation of the storage adapter
// interfaces, backed by the MinIO client. It works against MinIO, AWS S3 and
// other S3-compatible endpoints. Buckets are expected to exist; the adapter
// does not create them.
package s3

import (
	"context"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	storageconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/config"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// ProviderType is the type identifier for the S3 storage backend.
const ProviderType = "s3"

// s3Connection implements storage.StorageConnection on an S3-compatible endpoint.
type s3Connection struct {
	client *minio.Client
	cfg    storageconfig.StorageConfig
	name   string
}

var _ storage.StorageConnection = (*s3Connection)(nil)

// NewS3Connection creates an S3 backed storage connection. The client is
// lazy; no network traffic happens until the first operation.
func NewS3Connection(cfg storageconfig.StorageConfig, name string) (storage.StorageConnection, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 storage connection '%s': endpoint must be specified in configuration", name)
	}
	if cfg.AccessKey == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("s3 storage connection '%s': access_key and secret_key must be specified in configuration", name)
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("s3 storage connection '%s': failed to create client for endpoint '%s': %w", name, cfg.Endpoint, err)
	}

	return &s3Connection{client: client, cfg: cfg, name: name}, nil
}

// Close does nothing; the underlying client holds no persistent connection.
func (c *s3Connection) Close() error {
	logger.Debugf("S3 storage connection '%s' closed.", c.name)
	return nil
}

// Type returns "s3".
func (c *s3Connection) Type() string {
	return ProviderType
}

// Name returns the logical connection name.
func (c *s3Connection) Name() string {
	return c.name
}

// Config returns the configuration the connection was opened with.
func (c *s3Connection) Config() storageconfig.StorageConfig {
	return c.cfg
}

// Upload streams the data to the named object. The object size is unknown up
// front, so the client uses multipart upload for large streams.
func (c *s3Connection) Upload(ctx context.Context, bucket, objectName string, data io.Reader, contentType string) error {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return err
	}

	_, err = c.client.PutObject(ctx, bucket, objectName, data, -1, minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return fmt.Errorf("failed to upload object '%s' to bucket '%s': %w", objectName, bucket, err)
	}
	logger.Debugf("Uploaded object '%s' to bucket '%s' (s3 connection '%s').", objectName, bucket, c.name)
	return nil
}

// Download opens the named object for reading. Object retrieval is lazy in
// the client, so a Stat forces missing objects to surface here instead of on
// the first read.
func (c *s3Connection) Download(ctx context.Context, bucket, objectName string) (io.ReadCloser, error) {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return nil, err
	}

	object, err := c.client.GetObject(ctx, bucket, objectName, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object '%s' from bucket '%s': %w", objectName, bucket, err)
	}
	if _, err := object.Stat(); err != nil {
		_ = object.Close()
		return nil, fmt.Errorf("failed to stat object '%s' in bucket '%s': %w", objectName, bucket, err)
	}
	return object, nil
}

// ListObjects calls fn with the key of every object under the prefix.
func (c *s3Connection) ListObjects(ctx context.Context, bucket, prefix string, fn func(objectName string) error) error {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return err
	}

	for object := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if object.Err != nil {
			return fmt.Errorf("failed to list objects in bucket '%s' with prefix '%s': %w", bucket, prefix, object.Err)
		}
		if err := fn(object.Key); err != nil {
			return err
		}
	}
	return nil
}

// DeleteObject removes the named object. S3 deletes are idempotent, so a
// missing object is not an error.
func (c *s3Connection) DeleteObject(ctx context.Context, bucket, objectName string) error {
	bucket, err := c.resolveBucket(bucket)
	if err != nil {
		return err
	}

	if err := c.client.RemoveObject(ctx, bucket, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object '%s' from bucket '%s': %w", objectName, bucket, err)
	}
	logger.Debugf("Deleted object '%s' from bucket '%s' (s3 connection '%s').", objectName, bucket, c.name)
	return nil
}

// resolveBucket falls back to the configured default bucket.
func (c *s3Connection) resolveBucket(bucket string) (string, error) {
	if bucket == "" {
		bucket = c.cfg.BucketName
	}
	if bucket == "" {
		return "", fmt.Errorf("s3 storage connection '%s': no bucket given and no bucket_name configured", c.name)
	}
	return bucket, nil
}
