// Package handler dispatches the result payloads of completed remote jobs to
// kind-specific handlers. The registry is populated once at process start;
// dispatching never fails the caller, so a terminal job can always be reaped
// even when its handler misbehaves.
package handler

import (
	"context"
	"fmt"
	"sync"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

const moduleName = "result_handler"

// ResultHandler applies the kind-specific side effects of a completed remote
// job, e.g. writing derived annotations or storing a generated policy.
type ResultHandler interface {
	// Handle processes the remote result payload of the completed job.
	//
	// Parameters:
	//   ctx: The context for the operation.
	//   job: The completed job.
	//   payload: The remote result payload.
	//
	// Returns:
	//   error: An error if the side effects cannot be applied.
	Handle(ctx context.Context, job *model.Job, payload map[string]interface{}) error
}

// Registry maps job kinds to their result handlers.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ResultHandler
}

// NewRegistry creates an empty handler registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ResultHandler),
	}
}

// Register binds a handler to a job kind. Binding a kind twice is a wiring
// mistake and returns an error.
func (r *Registry) Register(kind string, h ResultHandler) error {
	if h == nil {
		return fmt.Errorf("result handler for kind '%s' is nil", kind)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[kind]; exists {
		return fmt.Errorf("result handler for kind '%s' is already registered", kind)
	}
	r.handlers[kind] = h
	return nil
}

// Dispatch invokes the handler registered for the job's kind. A missing
// handler logs and no-ops. Handler errors and panics are caught and logged;
// they never propagate to the caller.
func (r *Registry) Dispatch(ctx context.Context, job *model.Job, payload map[string]interface{}) {
	kind := string(job.Kind)

	r.mu.RLock()
	h, ok := r.handlers[kind]
	r.mu.RUnlock()
	if !ok {
		logger.Warnf("No result handler registered for kind '%s'; skipping result processing of job %s.", kind, job.ID)
		return
	}

	if err := invoke(ctx, h, job, payload); err != nil {
		logger.Errorf("Result processing of job %s failed: %v", job.ID, exception.NewHandlerError(moduleName, kind, err))
	}
}

// invoke runs the handler, converting a panic into an error.
func invoke(ctx context.Context, h ResultHandler, job *model.Job, payload map[string]interface{}) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Handle(ctx, job, payload)
}
