// Package metadata_test provides unit tests for the GORM-backed metadata store.
package metadata_test

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gorm_logger "gorm.io/gorm/logger"

	dbadapter "github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	dbconfig "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/config"
	gormadapter "github.com/tracelens/dispatch/pkg/dispatch/adapter/database/gorm"
	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/metadata"
)

// singleConnectionResolver always resolves to one fixed connection.
type singleConnectionResolver struct {
	conn dbadapter.DBConnection
}

func (r *singleConnectionResolver) ResolveDBConnection(ctx context.Context, name string) (dbadapter.DBConnection, error) {
	return r.conn, nil
}

// setupMockStore sets up a GORM handle over sqlmock and a metadata store using it.
func setupMockStore(t *testing.T) (sqlmock.Sqlmock, *metadata.GormMetadataStore) {
	t.Helper()

	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{Logger: gorm_logger.Default.LogMode(gorm_logger.Silent)})
	require.NoError(t, err)

	conn := gormadapter.NewGormDBAdapter(gormDB, sqlDB, dbconfig.DatabaseConfig{Type: "mysql"}, "mysql", "metadata")
	store := metadata.NewGormMetadataStore(&singleConnectionResolver{conn: conn}, "metadata")
	return mock, store
}

func TestGormMetadataStore_CountItems(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT count").
		WithArgs("scope-1").
		WillReturnRows(sqlmock.NewRows([]string{"count(*)"}).AddRow(3))

	count, err := store.CountItems(ctx, "scope-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_LoadItems(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	rows := sqlmock.NewRows([]string{"id", "scope_id", "ordinal", "messages"}).
		AddRow("item-1", "scope-1", 0, `[{"role":"user","content":"hello"},{"role":"assistant","content":"hi"}]`).
		AddRow("item-2", "scope-1", 1, `[{"role":"user","content":"bye"}]`)
	mock.ExpectQuery("SELECT \\* FROM `dispatch_trace_items`").
		WithArgs("scope-1").
		WillReturnRows(rows)

	items, err := store.LoadItems(ctx, "scope-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "item-1", items[0].ID)
	assert.Equal(t, model.TraceMessageList{
		{Role: "user", Content: "hello"},
		{Role: "assistant", Content: "hi"},
	}, items[0].Messages)
	assert.Equal(t, "item-2", items[1].ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_LoadItems_UnknownScope(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery("SELECT \\* FROM `dispatch_trace_items`").
		WithArgs("scope-missing").
		WillReturnRows(sqlmock.NewRows([]string{"id", "scope_id", "ordinal", "messages"}))

	items, err := store.LoadItems(ctx, "scope-missing")
	assert.Nil(t, items)
	assert.ErrorIs(t, err, port.ErrScopeNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_WriteAnnotations(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	annotations := []model.Annotation{
		{ItemID: "item-1", Key: "policy_violation", Value: map[string]interface{}{"severity": "high"}},
		{ItemID: "item-2", Key: "policy_violation", Value: "none"},
	}

	mock.ExpectExec("INSERT INTO `dispatch_annotations` (.+) ON DUPLICATE KEY UPDATE").
		WillReturnResult(sqlmock.NewResult(0, 2))

	require.NoError(t, store.WriteAnnotations(ctx, "scope-1", annotations))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_WriteAnnotations_Empty(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	// No statements are expected for an empty batch.
	require.NoError(t, store.WriteAnnotations(ctx, "scope-1", nil))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_SaveReport(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	report := &model.AnalysisReport{
		JobID:   "job-1",
		ScopeID: "scope-1",
		Summary: map[string]interface{}{
			"clusters": 4,
			"verdict":  "needs review",
		},
		TotalCost: 1.25,
		CreatedAt: time.Now(),
	}

	mock.ExpectExec("INSERT INTO `dispatch_analysis_reports`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.SaveReport(ctx, report))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGormMetadataStore_AppendGeneratedPolicy(t *testing.T) {
	mock, store := setupMockStore(t)
	ctx := context.Background()

	policy := &model.GeneratedPolicy{
		JobID:         "job-2",
		ScopeID:       "scope-1",
		Policy:        "The assistant must never reveal credentials.",
		DetectionRate: 0.87,
	}

	mock.ExpectExec("INSERT INTO `dispatch_generated_policies`").
		WillReturnResult(sqlmock.NewResult(1, 1))

	require.NoError(t, store.AppendGeneratedPolicy(ctx, policy))
	assert.NoError(t, mock.ExpectationsWereMet())
}
