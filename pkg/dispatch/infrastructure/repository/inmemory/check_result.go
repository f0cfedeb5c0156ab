package inmemory

import (
	"context"
	"fmt"

	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

// SaveCheckResult persists a new policy check result, keyed by job ID.
// It returns ErrCheckResultAlreadyExists if a result for the job already exists.
func (r *InMemoryJobRepository) SaveCheckResult(ctx context.Context, result *model.PolicyCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.checkResults[result.JobID]; exists {
		return fmt.Errorf("check result for job %s: %w", result.JobID, repository.ErrCheckResultAlreadyExists)
	}
	r.checkResults[result.JobID] = result.DeepCopy()
	return nil
}

// UpdateCheckResult updates an existing result conditional on its Version, with the
// same conflict semantics as job updates.
func (r *InMemoryJobRepository) UpdateCheckResult(ctx context.Context, result *model.PolicyCheckResult) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, exists := r.checkResults[result.JobID]
	if !exists {
		return fmt.Errorf("check result for job %s: %w", result.JobID, repository.ErrCheckResultNotFound)
	}
	if current.Version != result.Version {
		return exception.NewCommitConflictError(moduleName,
			fmt.Sprintf("check result for job %s version %d does not match stored version %d", result.JobID, result.Version, current.Version), nil)
	}

	stored := result.DeepCopy()
	stored.Version++
	r.checkResults[result.JobID] = stored
	result.Version = stored.Version
	return nil
}

// FindCheckResultByJobID finds the result produced by the given check job.
func (r *InMemoryJobRepository) FindCheckResultByJobID(ctx context.Context, jobID string) (*model.PolicyCheckResult, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result, ok := r.checkResults[jobID]
	if !ok {
		return nil, repository.ErrCheckResultNotFound
	}
	return result.DeepCopy(), nil
}

// DeleteCheckResultsByScope removes every result belonging to a scope.
func (r *InMemoryJobRepository) DeleteCheckResultsByScope(ctx context.Context, scopeID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for jobID, result := range r.checkResults {
		if result.ScopeID == scopeID {
			delete(r.checkResults, jobID)
		}
	}
	return nil
}
