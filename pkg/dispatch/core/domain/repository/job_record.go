package repository

import (
	"context"
	"errors"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// ErrJobNotFound is the error returned when a job record is not found.
var ErrJobNotFound = errors.New("job record not found")

// ErrJobAlreadyExists is the error returned when saving a job whose ID is already taken.
var ErrJobAlreadyExists = errors.New("job record already exists")

// JobRecord defines the persistence operations for job records. The store is the sole
// writer of job documents; everything else mutates jobs through it.
type JobRecord interface {
	// SaveJob persists a new job record. Fails with ErrJobAlreadyExists if the ID is taken.
	SaveJob(ctx context.Context, job *model.Job) error

	// UpdateJob updates an existing job record conditional on its Version. A version
	// mismatch returns a commit conflict; on success the stored version increments.
	UpdateJob(ctx context.Context, job *model.Job) error

	// FindJobByID finds a job by ID within the given scope and owner.
	FindJobByID(ctx context.Context, scopeID, ownerID, jobID string) (*model.Job, error)

	// FindJobs lists the jobs of an owner within a scope. With activeOnly, terminal
	// jobs are filtered out.
	FindJobs(ctx context.Context, scopeID, ownerID string, activeOnly bool) ([]*model.Job, error)

	// FindActiveJobs lists every job still requiring reconciliation across all scopes
	// and owners. COMPLETED and CANCELLED jobs are excluded; FAILED jobs stay visible
	// so their terminal observations keep accumulating until the job is reaped.
	FindActiveJobs(ctx context.Context) ([]*model.Job, error)

	// DeleteJob removes a job record. Deleting an absent job is not an error.
	DeleteJob(ctx context.Context, jobID string) error
}
