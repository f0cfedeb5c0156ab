package sql

import (
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// JobRecordEntity is a schema model used for persistence.
type JobRecordEntity struct {
	ID                   string
	OwnerID              string
	ScopeID              string
	Kind                 model.JobKind
	Status               model.JobStatus
	Endpoint             string
	RemoteJobID          string
	NumProcessed         int
	NumTotal             int
	SecretMaterial       string
	SessionCookie        string
	Policy               string
	Parameters           model.CheckParameters
	ErrorMessage         string
	TerminalObservations int
	CreatedAt            time.Time
	CompletedAt          *time.Time
	LastUpdated          time.Time
	Version              int
}

func (JobRecordEntity) TableName() string {
	return "dispatch_job_records"
}

// CheckResultEntity is a schema model used for persistence.
type CheckResultEntity struct {
	JobID          string `gorm:"primaryKey"`
	ScopeID        string
	TriggeredItems model.ItemIDList
	TriggeredCount int
	ErrorItems     model.ErrorItemList
	TotalItems     int
	CompletedAt    *time.Time
	LastUpdated    time.Time
	Version        int
}

func (CheckResultEntity) TableName() string {
	return "dispatch_check_results"
}
