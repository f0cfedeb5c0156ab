package sql

import (
	"github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// --- Mapper functions ---

func fromDomainJob(j *model.Job) *JobRecordEntity {
	if j == nil {
		return nil
	}
	return &JobRecordEntity{
		ID:                   j.ID,
		OwnerID:              j.OwnerID,
		ScopeID:              j.ScopeID,
		Kind:                 j.Kind,
		Status:               j.Status,
		Endpoint:             j.Endpoint,
		RemoteJobID:          j.RemoteJobID,
		NumProcessed:         j.NumProcessed,
		NumTotal:             j.NumTotal,
		SecretMaterial:       j.SecretMaterial,
		SessionCookie:        j.SessionCookie,
		Policy:               j.Policy,
		Parameters:           j.Parameters,
		ErrorMessage:         j.ErrorMessage,
		TerminalObservations: j.TerminalObservations,
		CreatedAt:            j.CreatedAt,
		CompletedAt:          j.CompletedAt,
		LastUpdated:          j.LastUpdated,
		Version:              j.Version,
	}
}

func toDomainJob(entity *JobRecordEntity) *model.Job {
	if entity == nil {
		return nil
	}
	return &model.Job{
		ID:                   entity.ID,
		OwnerID:              entity.OwnerID,
		ScopeID:              entity.ScopeID,
		Kind:                 entity.Kind,
		Status:               entity.Status,
		Endpoint:             entity.Endpoint,
		RemoteJobID:          entity.RemoteJobID,
		NumProcessed:         entity.NumProcessed,
		NumTotal:             entity.NumTotal,
		SecretMaterial:       entity.SecretMaterial,
		SessionCookie:        entity.SessionCookie,
		Policy:               entity.Policy,
		Parameters:           entity.Parameters,
		ErrorMessage:         entity.ErrorMessage,
		TerminalObservations: entity.TerminalObservations,
		CreatedAt:            entity.CreatedAt,
		CompletedAt:          entity.CompletedAt,
		LastUpdated:          entity.LastUpdated,
		Version:              entity.Version,
	}
}

// updateColumnsJob builds the column map for a full job record update.
// Primary key and creation timestamp are never updated.
func updateColumnsJob(entity *JobRecordEntity) map[string]interface{} {
	return map[string]interface{}{
		"owner_id":              entity.OwnerID,
		"scope_id":              entity.ScopeID,
		"kind":                  entity.Kind,
		"status":                entity.Status,
		"endpoint":              entity.Endpoint,
		"remote_job_id":         entity.RemoteJobID,
		"num_processed":         entity.NumProcessed,
		"num_total":             entity.NumTotal,
		"secret_material":       entity.SecretMaterial,
		"session_cookie":        entity.SessionCookie,
		"policy":                entity.Policy,
		"parameters":            entity.Parameters,
		"error_message":         entity.ErrorMessage,
		"terminal_observations": entity.TerminalObservations,
		"completed_at":          entity.CompletedAt,
		"last_updated":          entity.LastUpdated,
		"version":               entity.Version,
	}
}

func fromDomainCheckResult(r *model.PolicyCheckResult) *CheckResultEntity {
	if r == nil {
		return nil
	}
	return &CheckResultEntity{
		JobID:          r.JobID,
		ScopeID:        r.ScopeID,
		TriggeredItems: r.TriggeredItemIDs,
		TriggeredCount: r.TriggeredCount,
		ErrorItems:     r.ErrorItems,
		TotalItems:     r.TotalItems,
		CompletedAt:    r.CompletedAt,
		LastUpdated:    r.LastUpdated,
		Version:        r.Version,
	}
}

func toDomainCheckResult(entity *CheckResultEntity) *model.PolicyCheckResult {
	if entity == nil {
		return nil
	}
	return &model.PolicyCheckResult{
		JobID:            entity.JobID,
		ScopeID:          entity.ScopeID,
		TriggeredItemIDs: entity.TriggeredItems,
		TriggeredCount:   entity.TriggeredCount,
		ErrorItems:       entity.ErrorItems,
		TotalItems:       entity.TotalItems,
		CompletedAt:      entity.CompletedAt,
		LastUpdated:      entity.LastUpdated,
		Version:          entity.Version,
	}
}

// updateColumnsCheckResult builds the column map for a full check result update.
func updateColumnsCheckResult(entity *CheckResultEntity) map[string]interface{} {
	return map[string]interface{}{
		"scope_id":        entity.ScopeID,
		"triggered_items": entity.TriggeredItems,
		"triggered_count": entity.TriggeredCount,
		"error_items":     entity.ErrorItems,
		"total_items":     entity.TotalItems,
		"completed_at":    entity.CompletedAt,
		"last_updated":    entity.LastUpdated,
		"version":         entity.Version,
	}
}
