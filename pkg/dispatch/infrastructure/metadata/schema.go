package metadata

import (
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// TraceItemEntity is the GORM entity for a checkable trace item of a scope.
type TraceItemEntity struct {
	ID      string `gorm:"primaryKey"`
	ScopeID string
	// Ordinal fixes the load order of the scope's items.
	Ordinal  int
	Messages model.TraceMessageList
}

// TableName specifies the table name for the TraceItemEntity.
func (TraceItemEntity) TableName() string {
	return "dispatch_trace_items"
}

// AnnotationEntity is the GORM entity for a per-item finding written by a
// result handler. Uniqueness over (scope_id, item_id, annotation_key) makes
// repeated handler dispatches overwrite instead of duplicate.
type AnnotationEntity struct {
	ID              string `gorm:"primaryKey"`
	ScopeID         string
	ItemID          string
	AnnotationKey   string
	AnnotationValue string
	CreatedAt       time.Time
}

// TableName specifies the table name for the AnnotationEntity.
func (AnnotationEntity) TableName() string {
	return "dispatch_annotations"
}

// AnalysisReportEntity is the GORM entity for an aggregate analysis report.
type AnalysisReportEntity struct {
	ID      string `gorm:"primaryKey"`
	JobID   string
	ScopeID string
	// Summary holds the report document as JSON.
	Summary   string
	TotalCost float64
	CreatedAt time.Time
}

// TableName specifies the table name for the AnalysisReportEntity.
func (AnalysisReportEntity) TableName() string {
	return "dispatch_analysis_reports"
}

// GeneratedPolicyEntity is the GORM entity for a policy document produced by
// a synthesis job.
type GeneratedPolicyEntity struct {
	ID            string `gorm:"primaryKey"`
	JobID         string
	ScopeID       string
	Policy        string
	DetectionRate float64
	CreatedAt     time.Time
}

// TableName specifies the table name for the GeneratedPolicyEntity.
func (GeneratedPolicyEntity) TableName() string {
	return "dispatch_generated_policies"
}
