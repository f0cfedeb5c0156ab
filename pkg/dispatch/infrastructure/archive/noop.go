package archive

import (
	"context"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// NoOpArchiver is a ResultArchiver that does nothing. It is selected when
// archiving is disabled and in tests.
type NoOpArchiver struct{}

// NewNoOpArchiver creates a new instance of NoOpArchiver.
func NewNoOpArchiver() *NoOpArchiver {
	return &NoOpArchiver{}
}

// ArchiveResult does nothing.
func (a *NoOpArchiver) ArchiveResult(ctx context.Context, job *model.Job, result *model.PolicyCheckResult) error {
	return nil
}

var _ port.ResultArchiver = (*NoOpArchiver)(nil)
