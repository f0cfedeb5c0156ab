package inmemory

import (
	"context"
	"fmt"
	"sort"

	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

const moduleName = "inmemory_repository"

// SaveJob persists a new job record.
// It returns ErrJobAlreadyExists if a job with the same ID already exists.
func (r *InMemoryJobRepository) SaveJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s: %w", job.ID, repository.ErrJobAlreadyExists)
	}
	r.jobs[job.ID] = job.DeepCopy()
	return nil
}

// UpdateJob updates an existing job record conditional on its Version. A stale version
// loses the race and gets a commit conflict; on success the version increments both in
// the store and in the caller's copy.
func (r *InMemoryJobRepository) UpdateJob(ctx context.Context, job *model.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.jobs[job.ID]
	if !exists {
		return fmt.Errorf("job %s: %w", job.ID, repository.ErrJobNotFound)
	}
	if current.Version != job.Version {
		return exception.NewCommitConflictError(moduleName,
			fmt.Sprintf("job %s version %d does not match stored version %d", job.ID, job.Version, current.Version), nil)
	}

	stored := job.DeepCopy()
	stored.Version++
	r.jobs[job.ID] = stored
	job.Version = stored.Version
	return nil
}

// FindJobByID finds a job by ID within the given scope and owner.
// A job outside the caller's scope or owner is reported as not found.
func (r *InMemoryJobRepository) FindJobByID(ctx context.Context, scopeID, ownerID, jobID string) (*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	job, ok := r.jobs[jobID]
	if !ok || job.ScopeID != scopeID || job.OwnerID != ownerID {
		return nil, repository.ErrJobNotFound
	}
	return job.DeepCopy(), nil
}

// FindJobs lists the jobs of an owner within a scope, newest first.
func (r *InMemoryJobRepository) FindJobs(ctx context.Context, scopeID, ownerID string, activeOnly bool) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.ScopeID != scopeID || job.OwnerID != ownerID {
			continue
		}
		if activeOnly && job.Status.IsTerminal() {
			continue
		}
		jobs = append(jobs, job.DeepCopy())
	}

	// Sort by CreatedAt in descending order (latest first)
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[j].CreatedAt.Before(jobs[i].CreatedAt)
	})

	return jobs, nil
}

// FindActiveJobs lists every job still requiring reconciliation, oldest first so poll
// passes visit jobs in a stable order. FAILED jobs are included because the poller
// keeps observing them until their observation count reaps them.
func (r *InMemoryJobRepository) FindActiveJobs(ctx context.Context) ([]*model.Job, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	jobs := make([]*model.Job, 0)
	for _, job := range r.jobs {
		if job.Status == model.JobStatusCompleted || job.Status == model.JobStatusCancelled {
			continue
		}
		jobs = append(jobs, job.DeepCopy())
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.Before(jobs[j].CreatedAt)
	})

	return jobs, nil
}

// DeleteJob removes a job record. Deleting an absent job is not an error.
func (r *InMemoryJobRepository) DeleteJob(ctx context.Context, jobID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.jobs, jobID)
	return nil
}
