package handler

import (
	"context"
	"fmt"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// analysisPayload is the result payload of a completed analysis job.
type analysisPayload struct {
	Items     []analysisItem         `mapstructure:"items"`
	Summary   map[string]interface{} `mapstructure:"summary"`
	TotalCost float64                `mapstructure:"total_cost"`
}

// analysisItem carries the annotations produced for one trace item.
type analysisItem struct {
	ItemID      string                 `mapstructure:"item_id"`
	Annotations map[string]interface{} `mapstructure:"annotations"`
	Cost        float64                `mapstructure:"cost"`
}

// AnalysisHandler stores the outcome of a completed analysis job: per-item
// annotations on the scope and an aggregate report document.
type AnalysisHandler struct {
	annotations port.AnnotationSink
	reports     port.ReportSink
}

// NewAnalysisHandler creates a new instance of AnalysisHandler.
func NewAnalysisHandler(annotations port.AnnotationSink, reports port.ReportSink) *AnalysisHandler {
	return &AnalysisHandler{
		annotations: annotations,
		reports:     reports,
	}
}

func (h *AnalysisHandler) Handle(ctx context.Context, job *model.Job, payload map[string]interface{}) error {
	var result analysisPayload
	if err := mapstructure.Decode(payload, &result); err != nil {
		return fmt.Errorf("failed to decode analysis payload of job %s: %w", job.ID, err)
	}

	annotations := make([]model.Annotation, 0, len(result.Items))
	// total_cost wins when the remote reports it; otherwise sum the per-item costs.
	totalCost := result.TotalCost
	for _, item := range result.Items {
		for key, value := range item.Annotations {
			annotations = append(annotations, model.Annotation{
				ItemID: item.ItemID,
				Key:    key,
				Value:  value,
			})
		}
		if result.TotalCost == 0 {
			totalCost += item.Cost
		}
	}

	if len(annotations) > 0 {
		if err := h.annotations.WriteAnnotations(ctx, job.ScopeID, annotations); err != nil {
			return err
		}
	}
	logger.Debugf("Analysis job %s: wrote %d annotations for scope %s.", job.ID, len(annotations), job.ScopeID)

	report := &model.AnalysisReport{
		JobID:     job.ID,
		ScopeID:   job.ScopeID,
		Summary:   result.Summary,
		TotalCost: totalCost,
		CreatedAt: time.Now(),
	}
	return h.reports.SaveReport(ctx, report)
}

var _ ResultHandler = (*AnalysisHandler)(nil)
