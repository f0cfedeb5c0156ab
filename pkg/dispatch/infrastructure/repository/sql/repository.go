// Package sql provides the GORM-backed implementation of the job repository.
// It persists job records and policy check results through a resolved
// database connection and enforces version-based optimistic concurrency on
// every update.
package sql

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/tracelens/dispatch/pkg/dispatch/adapter/database"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

const moduleName = "sql_repository"

// terminalStatuses lists the statuses excluded by active-only queries.
var terminalStatuses = []model.JobStatus{
	model.JobStatusCompleted,
	model.JobStatusFailed,
	model.JobStatusCancelled,
}

// reapedStatuses lists the statuses excluded from reconciliation queries. FAILED is
// deliberately absent: failed jobs stay in the poll set until they are reaped.
var reapedStatuses = []model.JobStatus{
	model.JobStatusCompleted,
	model.JobStatusCancelled,
}

// SQLJobRepository implements the repository.JobRepository interface.
type SQLJobRepository struct {
	dbResolver database.DBConnectionResolver
	// dbName is the logical name of the database connection used by this
	// repository (e.g. "metadata").
	dbName string
}

// NewSQLJobRepository creates a new instance of SQLJobRepository.
//
// Parameters:
//
//	dbResolver: The database connection resolver.
//	dbName: The logical name of the database connection to be used by this repository.
//
// Returns:
//
//	A new instance of repository.JobRepository.
func NewSQLJobRepository(dbResolver database.DBConnectionResolver, dbName string) repository.JobRepository {
	return &SQLJobRepository{
		dbResolver: dbResolver,
		dbName:     dbName,
	}
}

// getDB resolves the repository's database connection and returns a GORM
// handle bound to the given context.
func (r *SQLJobRepository) getDB(ctx context.Context) (*gorm.DB, error) {
	conn, err := r.dbResolver.ResolveDBConnection(ctx, r.dbName)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to resolve DB connection '%s'", r.dbName), err, true)
	}
	return conn.GormDB().WithContext(ctx), nil
}

// writeSession returns a session that issues single statements without the
// default wrapping transaction.
func writeSession(db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{SkipDefaultTransaction: true})
}

// --- JobRecord implementation ---

func (r *SQLJobRepository) SaveJob(ctx context.Context, job *model.Job) error {
	const op = "SQLJobRepository.SaveJob"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	var count int64
	if err := db.Model(&JobRecordEntity{}).Where("id = ?", job.ID).Count(&count).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to check existence of job %s", op, job.ID), err, true)
	}
	if count > 0 {
		return fmt.Errorf("%w: job %s", repository.ErrJobAlreadyExists, job.ID)
	}

	if err := writeSession(db).Create(fromDomainJob(job)).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to save job %s", op, job.ID), err, true)
	}
	return nil
}

func (r *SQLJobRepository) UpdateJob(ctx context.Context, job *model.Job) error {
	const op = "SQLJobRepository.UpdateJob"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	originalVersion := job.Version
	job.Version++
	entity := fromDomainJob(job)

	result := writeSession(db).
		Model(&JobRecordEntity{}).
		Where("id = ? AND version = ?", job.ID, originalVersion).
		Updates(updateColumnsJob(entity))
	if result.Error != nil {
		job.Version = originalVersion // Rollback version
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to update job %s", op, job.ID), result.Error, true)
	}
	if result.RowsAffected == 0 {
		job.Version = originalVersion // Rollback version

		var count int64
		if err := db.Model(&JobRecordEntity{}).Where("id = ?", job.ID).Count(&count).Error; err == nil && count == 0 {
			return fmt.Errorf("%w: job %s", repository.ErrJobNotFound, job.ID)
		}
		return exception.NewCommitConflictError(moduleName, fmt.Sprintf("job %s with version %d not found for update", job.ID, originalVersion), nil)
	}
	return nil
}

func (r *SQLJobRepository) FindJobByID(ctx context.Context, scopeID, ownerID, jobID string) (*model.Job, error) {
	const op = "SQLJobRepository.FindJobByID"

	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var entity JobRecordEntity
	err = db.Where("id = ? AND scope_id = ? AND owner_id = ?", jobID, scopeID, ownerID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", repository.ErrJobNotFound, jobID)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to find job %s", op, jobID), err, true)
	}
	return toDomainJob(&entity), nil
}

func (r *SQLJobRepository) FindJobs(ctx context.Context, scopeID, ownerID string, activeOnly bool) ([]*model.Job, error) {
	const op = "SQLJobRepository.FindJobs"

	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}

	query := db.Where("scope_id = ? AND owner_id = ?", scopeID, ownerID)
	if activeOnly {
		query = query.Where("status NOT IN ?", terminalStatuses)
	}

	var entities []JobRecordEntity
	if err := query.Order("created_at DESC").Find(&entities).Error; err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to find jobs for scope %s", op, scopeID), err, true)
	}

	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs, nil
}

func (r *SQLJobRepository) FindActiveJobs(ctx context.Context) ([]*model.Job, error) {
	const op = "SQLJobRepository.FindActiveJobs"

	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var entities []JobRecordEntity
	err = db.Where("status NOT IN ?", reapedStatuses).Order("created_at ASC").Find(&entities).Error
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to find active jobs", op), err, true)
	}

	jobs := make([]*model.Job, 0, len(entities))
	for i := range entities {
		jobs = append(jobs, toDomainJob(&entities[i]))
	}
	return jobs, nil
}

func (r *SQLJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	const op = "SQLJobRepository.DeleteJob"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	result := writeSession(db).Where("id = ?", jobID).Delete(&JobRecordEntity{})
	if result.Error != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to delete job %s", op, jobID), result.Error, true)
	}
	if result.RowsAffected == 0 {
		logger.Debugf("%s: job %s was already absent.", op, jobID)
	}
	return nil
}

// --- CheckResult implementation ---

func (r *SQLJobRepository) SaveCheckResult(ctx context.Context, result *model.PolicyCheckResult) error {
	const op = "SQLJobRepository.SaveCheckResult"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	var count int64
	if err := db.Model(&CheckResultEntity{}).Where("job_id = ?", result.JobID).Count(&count).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to check existence of result for job %s", op, result.JobID), err, true)
	}
	if count > 0 {
		return fmt.Errorf("%w: job %s", repository.ErrCheckResultAlreadyExists, result.JobID)
	}

	if err := writeSession(db).Create(fromDomainCheckResult(result)).Error; err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to save check result for job %s", op, result.JobID), err, true)
	}
	return nil
}

func (r *SQLJobRepository) UpdateCheckResult(ctx context.Context, result *model.PolicyCheckResult) error {
	const op = "SQLJobRepository.UpdateCheckResult"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	originalVersion := result.Version
	result.Version++
	entity := fromDomainCheckResult(result)

	updateResult := writeSession(db).
		Model(&CheckResultEntity{}).
		Where("job_id = ? AND version = ?", result.JobID, originalVersion).
		Updates(updateColumnsCheckResult(entity))
	if updateResult.Error != nil {
		result.Version = originalVersion // Rollback version
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to update check result for job %s", op, result.JobID), updateResult.Error, true)
	}
	if updateResult.RowsAffected == 0 {
		result.Version = originalVersion // Rollback version

		var count int64
		if err := db.Model(&CheckResultEntity{}).Where("job_id = ?", result.JobID).Count(&count).Error; err == nil && count == 0 {
			return fmt.Errorf("%w: job %s", repository.ErrCheckResultNotFound, result.JobID)
		}
		return exception.NewCommitConflictError(moduleName, fmt.Sprintf("check result for job %s with version %d not found for update", result.JobID, originalVersion), nil)
	}
	return nil
}

func (r *SQLJobRepository) FindCheckResultByJobID(ctx context.Context, jobID string) (*model.PolicyCheckResult, error) {
	const op = "SQLJobRepository.FindCheckResultByJobID"

	db, err := r.getDB(ctx)
	if err != nil {
		return nil, err
	}

	var entity CheckResultEntity
	err = db.Where("job_id = ?", jobID).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: job %s", repository.ErrCheckResultNotFound, jobID)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to find check result for job %s", op, jobID), err, true)
	}
	return toDomainCheckResult(&entity), nil
}

func (r *SQLJobRepository) DeleteCheckResultsByScope(ctx context.Context, scopeID string) error {
	const op = "SQLJobRepository.DeleteCheckResultsByScope"

	db, err := r.getDB(ctx)
	if err != nil {
		return err
	}

	result := writeSession(db).Where("scope_id = ?", scopeID).Delete(&CheckResultEntity{})
	if result.Error != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("%s: failed to delete check results for scope %s", op, scopeID), result.Error, true)
	}
	logger.Debugf("%s: deleted %d check results for scope %s.", op, result.RowsAffected, scopeID)
	return nil
}

// Close is a no-op. The underlying connections are owned by the DB providers
// and closed through their CloseAll at shutdown.
func (r *SQLJobRepository) Close() error {
	return nil
}

var _ repository.JobRepository = (*SQLJobRepository)(nil)
