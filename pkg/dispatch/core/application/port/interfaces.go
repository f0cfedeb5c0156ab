// Package port defines the core interfaces (ports) for the dispatch application.
// These interfaces abstract the application's capabilities and dependencies,
// allowing for flexible implementation and testing.
package port

import (
	"context"
	"errors"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// ErrScopeNotFound is returned when a scope does not exist in the trace store.
var ErrScopeNotFound = errors.New("scope not found")

// TraceSource provides read access to the trace items of a scope. The check engine
// uses it to size and load the work of a policy check job.
type TraceSource interface {
	// CountItems returns the number of checkable items in the scope.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   scopeID: The scope to count.
	//
	// Returns:
	//   int: The number of items in the scope.
	//   error: An error if the scope cannot be read.
	CountItems(ctx context.Context, scopeID string) (int, error)

	// LoadItems loads every checkable item of the scope in a stable order.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   scopeID: The scope to load.
	//
	// Returns:
	//   []model.ScopeItem: The scope's items with their message payloads.
	//   error: An error if the scope cannot be read.
	LoadItems(ctx context.Context, scopeID string) ([]model.ScopeItem, error)
}

// AnnotationSink receives per-item findings produced by result handlers.
type AnnotationSink interface {
	// WriteAnnotations attaches annotations to the scope's items. Implementations are
	// expected to be idempotent for repeated handler dispatches.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   scopeID: The scope the annotated items belong to.
	//   annotations: The findings to attach.
	//
	// Returns:
	//   error: An error if the annotations cannot be written.
	WriteAnnotations(ctx context.Context, scopeID string, annotations []model.Annotation) error
}

// ReportSink stores aggregate analysis report documents.
type ReportSink interface {
	// SaveReport persists the report produced by a completed analysis job.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   report: The report document to store.
	//
	// Returns:
	//   error: An error if the report cannot be stored.
	SaveReport(ctx context.Context, report *model.AnalysisReport) error
}

// ResultArchiver exports finalized policy check outcomes to long-term storage.
type ResultArchiver interface {
	// ArchiveResult exports the finalized result of a finished check job. Archiving is
	// best-effort; callers log failures and leave job state untouched.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   job: The finished job the result belongs to.
	//   result: The finalized result to export.
	//
	// Returns:
	//   error: An error if the export fails.
	ArchiveResult(ctx context.Context, job *model.Job, result *model.PolicyCheckResult) error
}

// PolicySink stores policy documents produced by synthesis jobs.
type PolicySink interface {
	// AppendGeneratedPolicy appends a generated policy record for the scope.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   policy: The generated policy document.
	//
	// Returns:
	//   error: An error if the policy cannot be stored.
	AppendGeneratedPolicy(ctx context.Context, policy *model.GeneratedPolicy) error
}
