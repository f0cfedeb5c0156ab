package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// synthesisPayload is the result payload of a completed policy synthesis job.
type synthesisPayload struct {
	Policy        string  `mapstructure:"policy"`
	DetectionRate float64 `mapstructure:"detection_rate"`
}

// PolicySynthesisHandler appends the policy document produced by a completed
// synthesis job to the scope's generated policies.
type PolicySynthesisHandler struct {
	policies port.PolicySink
}

// NewPolicySynthesisHandler creates a new instance of PolicySynthesisHandler.
func NewPolicySynthesisHandler(policies port.PolicySink) *PolicySynthesisHandler {
	return &PolicySynthesisHandler{
		policies: policies,
	}
}

func (h *PolicySynthesisHandler) Handle(ctx context.Context, job *model.Job, payload map[string]interface{}) error {
	var result synthesisPayload
	if err := mapstructure.Decode(payload, &result); err != nil {
		return fmt.Errorf("failed to decode synthesis payload of job %s: %w", job.ID, err)
	}
	if result.Policy == "" {
		return fmt.Errorf("synthesis payload of job %s carries no policy text", job.ID)
	}

	return h.policies.AppendGeneratedPolicy(ctx, &model.GeneratedPolicy{
		JobID:         job.ID,
		ScopeID:       job.ScopeID,
		Policy:        result.Policy,
		DetectionRate: result.DetectionRate,
		CreatedAt:     time.Now(),
	})
}

var _ ResultHandler = (*PolicySynthesisHandler)(nil)
