package s3_test

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	storageconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/config"
	"github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/s3"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
)

func s3Config() storageconfig.StorageConfig {
	return storageconfig.StorageConfig{
		Type:      s3.ProviderType,
		Endpoint:  "localhost:9000",
		AccessKey: "dispatch",
		SecretKey: "dispatch-secret",
	}
}

func TestNewS3Connection_ValidatesConfiguration(t *testing.T) {
	cfg := s3Config()
	cfg.Endpoint = ""
	_, err := s3.NewS3Connection(cfg, "remote-archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "endpoint must be specified")

	cfg = s3Config()
	cfg.SecretKey = ""
	_, err = s3.NewS3Connection(cfg, "remote-archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access_key and secret_key must be specified")
}

func TestNewS3Connection_IsLazy(t *testing.T) {
	// No server listens on the endpoint; construction must still succeed.
	conn, err := s3.NewS3Connection(s3Config(), "remote-archive")
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, "s3", conn.Type())
	assert.Equal(t, "remote-archive", conn.Name())
	assert.Equal(t, "localhost:9000", conn.Config().Endpoint)
}

func TestS3Connection_RequiresABucket(t *testing.T) {
	conn, err := s3.NewS3Connection(s3Config(), "remote-archive")
	require.NoError(t, err)

	// Bucket resolution fails before any request is attempted.
	err = conn.Upload(context.Background(), "", "scope-1/job-9.parquet", strings.NewReader("x"), "application/octet-stream")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no bucket given and no bucket_name configured")
}

func TestS3Provider_RejectsForeignType(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Dispatch.StorageConfigs["archive"] = map[string]interface{}{
		"type":     "local",
		"base_dir": t.TempDir(),
	}

	p := s3.NewS3Provider(cfg)
	assert.Equal(t, "s3", p.Type())

	_, err := p.GetConnection("archive")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "this provider serves 's3'")
}

func TestS3Provider_CachesConnections(t *testing.T) {
	cfg := config.NewConfig()
	cfg.Dispatch.StorageConfigs["remote-archive"] = map[string]interface{}{
		"type":        "s3",
		"endpoint":    "localhost:9000",
		"access_key":  "dispatch",
		"secret_key":  "dispatch-secret",
		"bucket_name": "archive",
	}

	p := s3.NewS3Provider(cfg)

	first, err := p.GetConnection("remote-archive")
	require.NoError(t, err)
	second, err := p.GetConnection("remote-archive")
	require.NoError(t, err)
	assert.Same(t, first, second)

	require.NoError(t, p.CloseAll())
}
