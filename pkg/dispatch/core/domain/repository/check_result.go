package repository

import (
	"context"
	"errors"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// ErrCheckResultNotFound is the error returned when a policy check result is not found.
var ErrCheckResultNotFound = errors.New("policy check result not found")

// ErrCheckResultAlreadyExists is the error returned when saving a result whose job ID is already taken.
var ErrCheckResultAlreadyExists = errors.New("policy check result already exists")

// CheckResult defines the persistence operations for policy check results.
type CheckResult interface {
	// SaveCheckResult persists a new result record, keyed by job ID.
	SaveCheckResult(ctx context.Context, result *model.PolicyCheckResult) error

	// UpdateCheckResult updates an existing result conditional on its Version, with
	// the same conflict semantics as job updates.
	UpdateCheckResult(ctx context.Context, result *model.PolicyCheckResult) error

	// FindCheckResultByJobID finds the result produced by the given check job.
	FindCheckResultByJobID(ctx context.Context, jobID string) (*model.PolicyCheckResult, error)

	// DeleteCheckResultsByScope removes every result belonging to a scope.
	DeleteCheckResultsByScope(ctx context.Context, scopeID string) error
}
