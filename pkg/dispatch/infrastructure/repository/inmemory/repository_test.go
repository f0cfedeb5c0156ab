// Package inmemory_test provides unit tests for the in-memory repository, focusing on
// scoping, deep-copy isolation and optimistic concurrency.
package inmemory_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/repository/inmemory"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

func newTestJob(ownerID, scopeID string, status model.JobStatus) *model.Job {
	job := model.NewJob(ownerID, scopeID, model.JobKindAnalysis, "https://worker.example.com")
	job.Status = status
	return job
}

func TestSaveJobRejectsDuplicateID(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusPending)

	require.NoError(t, repo.SaveJob(ctx, job))
	err := repo.SaveJob(ctx, job)
	assert.ErrorIs(t, err, repository.ErrJobAlreadyExists)
}

func TestFindJobByIDScoping(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusPending)
	require.NoError(t, repo.SaveJob(ctx, job))

	found, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, found.ID)

	// A different owner or scope cannot see the job.
	_, err = repo.FindJobByID(ctx, "s1", "u2", job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
	_, err = repo.FindJobByID(ctx, "s2", "u1", job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestFindJobByIDReturnsCopy(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusPending)
	require.NoError(t, repo.SaveJob(ctx, job))

	found, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	found.NumProcessed = 99

	again, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, again.NumProcessed)
}

func TestUpdateJobVersionDiscipline(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusPending)
	require.NoError(t, repo.SaveJob(ctx, job))

	first, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	second, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)

	first.MarkAsRunning()
	require.NoError(t, repo.UpdateJob(ctx, first))
	assert.Equal(t, 1, first.Version)

	// The second reader still holds version 0 and must lose the race.
	second.MarkAsCancelled()
	err = repo.UpdateJob(ctx, second)
	require.Error(t, err)
	assert.True(t, exception.IsCommitConflict(err))

	// The winning write is what the store remembers.
	current, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, current.Status)
}

func TestUpdateJobAfterRefreshSucceeds(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusRunning)
	require.NoError(t, repo.SaveJob(ctx, job))

	stale, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)

	winner, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	winner.RecordProgress(5, 10)
	require.NoError(t, repo.UpdateJob(ctx, winner))

	stale.RecordProgress(3, 10)
	require.Error(t, repo.UpdateJob(ctx, stale))

	// Re-read and re-apply, as the engine does after a conflict.
	fresh, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	fresh.RecordProgress(8, 10)
	require.NoError(t, repo.UpdateJob(ctx, fresh))

	current, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, current.NumProcessed)
	assert.Equal(t, 2, current.Version)
}

func TestFindJobsFiltersAndSorts(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	older := newTestJob("u1", "s1", model.JobStatusRunning)
	older.CreatedAt = time.Now().Add(-time.Hour)
	newer := newTestJob("u1", "s1", model.JobStatusCompleted)
	other := newTestJob("u2", "s1", model.JobStatusRunning)

	require.NoError(t, repo.SaveJob(ctx, older))
	require.NoError(t, repo.SaveJob(ctx, newer))
	require.NoError(t, repo.SaveJob(ctx, other))

	all, err := repo.FindJobs(ctx, "s1", "u1", false)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, newer.ID, all[0].ID, "newest first")

	active, err := repo.FindJobs(ctx, "s1", "u1", true)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, older.ID, active[0].ID)
}

func TestFindActiveJobsCrossesOwners(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	a := newTestJob("u1", "s1", model.JobStatusPending)
	a.CreatedAt = time.Now().Add(-3 * time.Hour)
	b := newTestJob("u2", "s2", model.JobStatusRunning)
	b.CreatedAt = time.Now().Add(-2 * time.Hour)
	failed := newTestJob("u2", "s2", model.JobStatusFailed)
	failed.CreatedAt = time.Now().Add(-time.Hour)
	done := newTestJob("u3", "s3", model.JobStatusCompleted)
	cancelled := newTestJob("u3", "s3", model.JobStatusCancelled)

	require.NoError(t, repo.SaveJob(ctx, a))
	require.NoError(t, repo.SaveJob(ctx, b))
	require.NoError(t, repo.SaveJob(ctx, failed))
	require.NoError(t, repo.SaveJob(ctx, done))
	require.NoError(t, repo.SaveJob(ctx, cancelled))

	active, err := repo.FindActiveJobs(ctx)
	require.NoError(t, err)
	require.Len(t, active, 3)
	assert.Equal(t, a.ID, active[0].ID, "oldest first")
	assert.Equal(t, b.ID, active[1].ID)
	assert.Equal(t, failed.ID, active[2].ID, "failed jobs stay in the poll set until reaped")
}

func TestDeleteJobIsIdempotent(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()
	job := newTestJob("u1", "s1", model.JobStatusPending)
	require.NoError(t, repo.SaveJob(ctx, job))

	require.NoError(t, repo.DeleteJob(ctx, job.ID))
	require.NoError(t, repo.DeleteJob(ctx, job.ID))

	_, err := repo.FindJobByID(ctx, "s1", "u1", job.ID)
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestCheckResultLifecycle(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	result := model.NewPolicyCheckResult("job-1", "s1", 23)
	require.NoError(t, repo.SaveCheckResult(ctx, result))
	assert.ErrorIs(t, repo.SaveCheckResult(ctx, result), repository.ErrCheckResultAlreadyExists)

	loaded, err := repo.FindCheckResultByJobID(ctx, "job-1")
	require.NoError(t, err)
	loaded.AppendBatch([]string{"item-1"}, nil)
	require.NoError(t, repo.UpdateCheckResult(ctx, loaded))
	assert.Equal(t, 1, loaded.Version)

	// Stale version conflicts.
	stale := model.NewPolicyCheckResult("job-1", "s1", 23)
	err = repo.UpdateCheckResult(ctx, stale)
	require.Error(t, err)
	assert.True(t, exception.IsCommitConflict(err))

	require.NoError(t, repo.DeleteCheckResultsByScope(ctx, "s1"))
	_, err = repo.FindCheckResultByJobID(ctx, "job-1")
	assert.ErrorIs(t, err, repository.ErrCheckResultNotFound)
}

func TestDeleteCheckResultsByScopeLeavesOtherScopes(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	ctx := context.Background()

	require.NoError(t, repo.SaveCheckResult(ctx, model.NewPolicyCheckResult("job-1", "s1", 5)))
	require.NoError(t, repo.SaveCheckResult(ctx, model.NewPolicyCheckResult("job-2", "s2", 5)))

	require.NoError(t, repo.DeleteCheckResultsByScope(ctx, "s1"))

	_, err := repo.FindCheckResultByJobID(ctx, "job-2")
	assert.NoError(t, err)
}
