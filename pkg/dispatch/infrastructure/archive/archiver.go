// Package archive exports finalized policy check results as Parquet objects to a
// configured storage backend. Archiving is best-effort: the engine logs failures
// and leaves job and result state untouched.
package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	storage "github.com/tracelens/dispatch/pkg/dispatch/adapter/storage"
	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

const moduleName = "archive"

// outputBaseDir is the object prefix all archived results land under, partitioned
// by scope so downstream readers can prune by dataset.
const outputBaseDir = "check_results"

// resultRow is one archived outcome line. The schema is flat on purpose: one row
// per classified item, outcome "triggered" or "error".
type resultRow struct {
	JobID      string `parquet:"name=job_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ScopeID    string `parquet:"name=scope_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	ItemID     string `parquet:"name=item_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Outcome    string `parquet:"name=outcome, type=BYTE_ARRAY, convertedtype=UTF8"`
	Error      string `parquet:"name=error, type=BYTE_ARRAY, convertedtype=UTF8"`
	TotalItems int32  `parquet:"name=total_items, type=INT32"`
	ArchivedAt int64  `parquet:"name=archived_at, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
}

// ParquetArchiver writes one Parquet object per finalized check job through a
// resolved storage connection.
type ParquetArchiver struct {
	resolver   storage.StorageConnectionResolver
	storageRef string
}

// NewParquetArchiver creates an archiver writing to the named storage connection.
func NewParquetArchiver(resolver storage.StorageConnectionResolver, storageRef string) *ParquetArchiver {
	return &ParquetArchiver{
		resolver:   resolver,
		storageRef: storageRef,
	}
}

// ArchiveResult exports the finalized result of a finished check job.
func (a *ParquetArchiver) ArchiveResult(ctx context.Context, job *model.Job, result *model.PolicyCheckResult) error {
	rows := buildRows(job, result)
	if len(rows) == 0 {
		logger.Debugf("Archive: job '%s' finished with no triggered or errored items. Nothing to export.", job.ID)
		return nil
	}

	buf := new(bytes.Buffer)
	pw, err := writer.NewParquetWriterFromWriter(buf, new(resultRow), 1)
	if err != nil {
		return exception.NewDispatchError(moduleName,
			fmt.Sprintf("failed to create Parquet writer for job '%s'", job.ID), err, false)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, row := range rows {
		if err := pw.Write(row); err != nil {
			return exception.NewDispatchError(moduleName,
				fmt.Sprintf("failed to write archive row for job '%s'", job.ID), err, false)
		}
	}

	// WriteStop finalizes the file. The library panics on some malformed schemas,
	// so contain that and surface it as an error.
	if err := writeStop(pw, job.ID); err != nil {
		return err
	}

	conn, err := a.resolver.ResolveStorageConnection(ctx, a.storageRef)
	if err != nil {
		return exception.NewDispatchError(moduleName,
			fmt.Sprintf("failed to resolve storage connection '%s'", a.storageRef), err, false)
	}

	objectName := objectNameFor(job)
	if err := conn.Upload(ctx, "", objectName, buf, "application/octet-stream"); err != nil {
		return exception.NewDispatchError(moduleName,
			fmt.Sprintf("failed to upload archive object '%s' for job '%s'", objectName, job.ID), err, false)
	}

	logger.Infof("Archive: exported %d rows for job '%s' to %s/%s", len(rows), job.ID, a.storageRef, objectName)
	return nil
}

func writeStop(pw *writer.ParquetWriter, jobID string) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = exception.NewDispatchError(moduleName,
				fmt.Sprintf("Parquet writer panicked during WriteStop for job '%s': %v", jobID, r), nil, false)
			logger.Errorf("Archive: recovered from panic during WriteStop for job '%s': %v", jobID, r)
		}
	}()
	if stopErr := pw.WriteStop(); stopErr != nil {
		return exception.NewDispatchError(moduleName,
			fmt.Sprintf("failed to stop Parquet writer for job '%s'", jobID), stopErr, false)
	}
	return nil
}

func buildRows(job *model.Job, result *model.PolicyCheckResult) []resultRow {
	archivedAt := time.Now().UnixMilli()
	if result.CompletedAt != nil {
		archivedAt = result.CompletedAt.UnixMilli()
	}

	rows := make([]resultRow, 0, len(result.TriggeredItemIDs)+len(result.ErrorItems))
	for _, itemID := range result.TriggeredItemIDs {
		rows = append(rows, resultRow{
			JobID:      job.ID,
			ScopeID:    result.ScopeID,
			ItemID:     itemID,
			Outcome:    "triggered",
			TotalItems: int32(result.TotalItems),
			ArchivedAt: archivedAt,
		})
	}
	for _, item := range result.ErrorItems {
		rows = append(rows, resultRow{
			JobID:      job.ID,
			ScopeID:    result.ScopeID,
			ItemID:     item.ItemID,
			Outcome:    "error",
			Error:      item.Error,
			TotalItems: int32(result.TotalItems),
			ArchivedAt: archivedAt,
		})
	}
	return rows
}

// objectNameFor builds a Hive-style partitioned object path. The timestamp keeps
// repeated archives of re-run scopes from colliding.
func objectNameFor(job *model.Job) string {
	fileName := fmt.Sprintf("job_%s_%s.parquet", job.ID, time.Now().UTC().Format("20060102150405"))
	return path.Join(outputBaseDir, fmt.Sprintf("scope=%s", job.ScopeID), fileName)
}

var _ port.ResultArchiver = (*ParquetArchiver)(nil)
