package metadata

import (
	"encoding/json"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// toDomainScopeItem converts a TraceItemEntity to the domain model.
func toDomainScopeItem(entity *TraceItemEntity) model.ScopeItem {
	return model.ScopeItem{
		ID:       entity.ID,
		Messages: entity.Messages,
	}
}

// fromDomainAnnotation converts a domain Annotation to its entity, encoding
// the finding value as JSON.
func fromDomainAnnotation(scopeID string, annotation *model.Annotation) (*AnnotationEntity, error) {
	value, err := json.Marshal(annotation.Value)
	if err != nil {
		return nil, err
	}
	return &AnnotationEntity{
		ID:              model.NewID(),
		ScopeID:         scopeID,
		ItemID:          annotation.ItemID,
		AnnotationKey:   annotation.Key,
		AnnotationValue: string(value),
		CreatedAt:       time.Now(),
	}, nil
}

// fromDomainReport converts a domain AnalysisReport to its entity, encoding
// the summary document as JSON.
func fromDomainReport(report *model.AnalysisReport) (*AnalysisReportEntity, error) {
	summary, err := json.Marshal(report.Summary)
	if err != nil {
		return nil, err
	}
	createdAt := report.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &AnalysisReportEntity{
		ID:        model.NewID(),
		JobID:     report.JobID,
		ScopeID:   report.ScopeID,
		Summary:   string(summary),
		TotalCost: report.TotalCost,
		CreatedAt: createdAt,
	}, nil
}

// fromDomainPolicy converts a domain GeneratedPolicy to its entity.
func fromDomainPolicy(policy *model.GeneratedPolicy) *GeneratedPolicyEntity {
	createdAt := policy.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	return &GeneratedPolicyEntity{
		ID:            model.NewID(),
		JobID:         policy.JobID,
		ScopeID:       policy.ScopeID,
		Policy:        policy.Policy,
		DetectionRate: policy.DetectionRate,
		CreatedAt:     createdAt,
	}
}
