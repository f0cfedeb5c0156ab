// Package archive_test verifies the Parquet export of finalized check results
// through the local storage backend.
package archive_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	"github.com/tracelens/dispatch/pkg/dispatch/adapter/storage/local"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/archive"
)

func newLocalResolver(t *testing.T, baseDir string) (*storage.Resolver, *config.Config) {
	t.Helper()

	cfg := config.NewConfig()
	cfg.Dispatch.StorageConfigs["archive"] = map[string]interface{}{
		"type":        "local",
		"base_dir":    baseDir,
		"bucket_name": "results",
	}

	r := storage.NewResolver(struct {
		fx.In
		Providers []storage.StorageProvider `group:"storage_providers"`
		Cfg       *config.Config
	}{Providers: []storage.StorageProvider{local.NewLocalProvider(cfg)}, Cfg: cfg})
	return r, cfg
}

func newFinalizedResult(job *model.Job) *model.PolicyCheckResult {
	result := model.NewPolicyCheckResult(job.ID, job.ScopeID, 23)
	result.AppendBatch(
		[]string{"trace-1", "trace-4"},
		[]model.ItemError{{ItemID: "trace-7", Error: "check endpoint returned 500"}},
	)
	now := time.Now()
	result.CompletedAt = &now
	return result
}

func listArchivedObjects(t *testing.T, baseDir string) []string {
	t.Helper()

	var objects []string
	err := filepath.Walk(baseDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			objects = append(objects, path)
		}
		return nil
	})
	require.NoError(t, err)
	return objects
}

func TestParquetArchiverExportsFinalizedResult(t *testing.T) {
	baseDir := t.TempDir()
	resolver, _ := newLocalResolver(t, baseDir)

	job := model.NewPolicyCheckJob("owner-1", "scope-1", "no profanity", nil, 23)
	result := newFinalizedResult(job)

	archiver := archive.NewParquetArchiver(resolver, "archive")
	require.NoError(t, archiver.ArchiveResult(context.Background(), job, result))

	objects := listArchivedObjects(t, baseDir)
	require.Len(t, objects, 1)
	assert.Contains(t, objects[0], filepath.Join("check_results", "scope=scope-1"))
	assert.Contains(t, filepath.Base(objects[0]), job.ID)

	data, err := os.ReadFile(objects[0])
	require.NoError(t, err)
	require.Greater(t, len(data), 8)
	assert.Equal(t, "PAR1", string(data[:4]), "archived object should be a Parquet file")
}

func TestParquetArchiverSkipsEmptyResults(t *testing.T) {
	baseDir := t.TempDir()
	resolver, _ := newLocalResolver(t, baseDir)

	job := model.NewPolicyCheckJob("owner-1", "scope-1", "no profanity", nil, 5)
	result := model.NewPolicyCheckResult(job.ID, job.ScopeID, 5)

	archiver := archive.NewParquetArchiver(resolver, "archive")
	require.NoError(t, archiver.ArchiveResult(context.Background(), job, result))

	assert.Empty(t, listArchivedObjects(t, baseDir), "no rows means no object is written")
}

func TestParquetArchiverSurfacesUnresolvableStorage(t *testing.T) {
	resolver, _ := newLocalResolver(t, t.TempDir())

	job := model.NewPolicyCheckJob("owner-1", "scope-1", "no profanity", nil, 5)
	result := newFinalizedResult(job)

	archiver := archive.NewParquetArchiver(resolver, "missing-connection")
	err := archiver.ArchiveResult(context.Background(), job, result)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing-connection")
}

func TestNewArchiverProviderSelection(t *testing.T) {
	resolver, cfg := newLocalResolver(t, t.TempDir())

	cfg.Dispatch.Archive.Enabled = false
	archiver := archive.NewArchiverProvider(resolver, cfg)
	assert.IsType(t, &archive.NoOpArchiver{}, archiver)

	cfg.Dispatch.Archive.Enabled = true
	cfg.Dispatch.Archive.Storage = "archive"
	archiver = archive.NewArchiverProvider(resolver, cfg)
	assert.IsType(t, &archive.ParquetArchiver{}, archiver)
}

func TestNoOpArchiverDoesNothing(t *testing.T) {
	job := model.NewPolicyCheckJob("owner-1", "scope-1", "no profanity", nil, 5)
	result := newFinalizedResult(job)

	assert.NoError(t, archive.NewNoOpArchiver().ArchiveResult(context.Background(), job, result))
}
