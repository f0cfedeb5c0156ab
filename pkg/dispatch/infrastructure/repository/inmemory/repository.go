// Package inmemory provides an in-memory implementation of the JobRepository interface.
// It stores all dispatch records in maps within memory, suitable for testing and
// scenarios where persistence is not required.
package inmemory

import (
	"sync"

	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// InMemoryJobRepository is an in-memory implementation of the JobRepository interface.
// It holds all dispatch records in in-memory maps.
type InMemoryJobRepository struct {
	jobs         map[string]*model.Job
	checkResults map[string]*model.PolicyCheckResult // keyed by job ID
	mu           sync.RWMutex                        // Mutex to protect concurrent access to maps.
}

// NewInMemoryJobRepository creates and initializes a new instance of InMemoryJobRepository.
func NewInMemoryJobRepository() *InMemoryJobRepository {
	return &InMemoryJobRepository{
		jobs:         make(map[string]*model.Job),
		checkResults: make(map[string]*model.PolicyCheckResult),
	}
}

// Close releases resources used by the repository.
// As an in-memory repository, it holds no external resources, so this method always returns nil.
func (r *InMemoryJobRepository) Close() error {
	return nil
}
