package handler

import (
	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
)

// RegisterBuiltinHandlers binds the built-in result handlers to their job kinds.
func RegisterBuiltinHandlers(
	registry *Registry,
	annotations port.AnnotationSink,
	reports port.ReportSink,
	policies port.PolicySink,
) error {
	if err := registry.Register(string(model.JobKindAnalysis), NewAnalysisHandler(annotations, reports)); err != nil {
		return err
	}
	return registry.Register(string(model.JobKindPolicySynthesis), NewPolicySynthesisHandler(policies))
}

// Module exports the result handler registry with the built-in handlers bound.
var Module = fx.Options(
	fx.Provide(NewRegistry),
	fx.Invoke(RegisterBuiltinHandlers),
)
