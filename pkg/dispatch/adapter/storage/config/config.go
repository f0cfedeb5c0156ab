package config

// StorageConfig holds configuration for a single storage connection.
type StorageConfig struct {
	// Type selects the storage backend: "local" or "s3".
	Type string `yaml:"type"`
	// BucketName is the default bucket used when an operation passes none.
	BucketName string `yaml:"bucket_name"`
	// BaseDir is the root directory for local file system storage.
	BaseDir string `yaml:"base_dir"`
	// Endpoint is the host:port of an S3-compatible endpoint.
	Endpoint string `yaml:"endpoint"`
	// AccessKey is the S3 access key ID.
	AccessKey string `yaml:"access_key"`
	// SecretKey is the S3 secret access key.
	SecretKey string `yaml:"secret_key"`
	// Region is the S3 region used when creating buckets.
	Region string `yaml:"region"`
	// UseSSL enables TLS for the S3 endpoint.
	UseSSL bool `yaml:"use_ssl"`
}
