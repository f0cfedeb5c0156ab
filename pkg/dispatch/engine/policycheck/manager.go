// Package policycheck runs policy check jobs over the items of a scope. The
// manager owns the job lifecycle: creation spawns a supervised executor that
// grinds through the scope in fixed batches with per-batch checkpoints, while
// cancellation, reads and result access go through the manager directly. A
// streaming variant evaluates a scope without persisting a job.
package policycheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/cache"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/remote"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

const moduleName = "policy_check"

// CheckRequest carries the caller-supplied inputs of a policy check.
type CheckRequest struct {
	// Policy is the policy text evaluated against every item of the scope.
	Policy string
	// Endpoint is the check endpoint receiving one POST per item.
	Endpoint string
	// Credentials authenticates those POSTs.
	Credentials checkapi.Credentials
	// Parameters are forwarded verbatim to the endpoint.
	Parameters model.CheckParameters
}

// RemoteJobRequest carries the inputs for delegating work to a remote system.
type RemoteJobRequest struct {
	Kind       model.JobKind
	Endpoint   string
	Token      string
	Parameters model.CheckParameters
}

// ManagerParams bundles the manager's dependencies for fx injection.
type ManagerParams struct {
	fx.In

	Repo          repository.JobRepository
	Traces        port.TraceSource
	Checker       checkapi.Client
	Archiver      port.ResultArchiver
	ClientFactory remote.ClientFactory
	StatusCache   cache.Cache
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
	Cfg           *config.Config
}

// Manager owns the lifecycle of policy check jobs. Execution runs in its own
// goroutine per job; the manager keeps a cancel registry so cooperative
// cancellation can reach a running executor.
type Manager struct {
	repo          repository.JobRepository
	traces        port.TraceSource
	checker       checkapi.Client
	archiver      port.ResultArchiver
	clientFactory remote.ClientFactory
	statusCache   cache.Cache
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer

	chunkSize         int
	streamConcurrency int
	cacheTTL          time.Duration

	mu      sync.Mutex
	cancels map[string]context.CancelFunc

	executions sync.WaitGroup
}

// NewManager creates the policy check manager from the configured batch size
// and streaming concurrency.
func NewManager(p ManagerParams) *Manager {
	checkCfg := p.Cfg.Dispatch.Check

	chunkSize := checkCfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = 10
	}
	streamConcurrency := checkCfg.StreamConcurrency
	if streamConcurrency <= 0 {
		streamConcurrency = 5
	}

	return &Manager{
		repo:              p.Repo,
		traces:            p.Traces,
		checker:           p.Checker,
		archiver:          p.Archiver,
		clientFactory:     p.ClientFactory,
		statusCache:       p.StatusCache,
		recorder:          p.Recorder,
		tracer:            p.Tracer,
		chunkSize:         chunkSize,
		streamConcurrency: streamConcurrency,
		cacheTTL:          time.Duration(p.Cfg.Dispatch.Cache.TTLSeconds) * time.Second,
		cancels:           make(map[string]context.CancelFunc),
	}
}

// CreateJob validates the scope, persists a new check job with its empty
// result record, and starts asynchronous execution. The call returns as soon
// as the records are stored; progress is observable through GetJob.
func (m *Manager) CreateJob(ctx context.Context, scopeID, ownerID string, req CheckRequest) (*model.Job, error) {
	count, err := m.traces.CountItems(ctx, scopeID)
	if err != nil {
		if errors.Is(err, port.ErrScopeNotFound) {
			return nil, exception.NewEmptyScopeError(moduleName, scopeID)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to size scope %s", scopeID), err, true)
	}
	if count == 0 {
		return nil, exception.NewEmptyScopeError(moduleName, scopeID)
	}

	job := model.NewPolicyCheckJob(ownerID, scopeID, req.Policy, req.Parameters, count)
	job.Endpoint = req.Endpoint
	job.SecretMaterial = req.Credentials.BearerToken
	job.SessionCookie = req.Credentials.SessionCookie

	if err := m.repo.SaveJob(ctx, job); err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to persist check job %s", job.ID), err, true)
	}
	result := model.NewPolicyCheckResult(job.ID, scopeID, count)
	if err := m.repo.SaveCheckResult(ctx, result); err != nil {
		// Without a result record the job could never report outcomes. Take the
		// job record back out so no half-created pair sits in the store.
		if delErr := m.repo.DeleteJob(ctx, job.ID); delErr != nil {
			logger.Warnf("Failed to roll back job %s after result save failure: %v", job.ID, delErr)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to persist result record for job %s", job.ID), err, true)
	}

	m.recorder.RecordJobStart(ctx, job)
	m.mirrorStatus(ctx, job)

	// The execution context deliberately does not descend from the caller's
	// request context: the job must keep running after the creating request
	// returns. Cancellation reaches it through the registry.
	execCtx, cancel := context.WithCancel(context.Background())
	m.registerCancel(job.ID, cancel)

	m.executions.Add(1)
	go m.supervise(execCtx, job.DeepCopy(), req)

	logger.Infof("Started policy check job %s over %d items of scope %s.", job.ID, count, scopeID)
	return job.Sanitized(), nil
}

// Cancel marks the given jobs CANCELLED and signals their executors. It does
// not wait for an executor to observe the cancellation; that happens at the
// next batch boundary.
func (m *Manager) Cancel(ctx context.Context, scopeID, ownerID string, jobIDs []string) error {
	var multiErr *multierror.Error
	for _, jobID := range jobIDs {
		if err := m.cancelOne(ctx, scopeID, ownerID, jobID); err != nil {
			multiErr = multierror.Append(multiErr, err)
		}
	}
	return multiErr.ErrorOrNil()
}

func (m *Manager) cancelOne(ctx context.Context, scopeID, ownerID, jobID string) error {
	for attempt := 0; attempt < 2; attempt++ {
		job, err := m.repo.FindJobByID(ctx, scopeID, ownerID, jobID)
		if err != nil {
			if errors.Is(err, repository.ErrJobNotFound) {
				logger.Debugf("Cancel requested for unknown job %s; ignoring.", jobID)
				return nil
			}
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to load job %s for cancellation", jobID), err, true)
		}
		if job.IsTerminal() {
			m.fireCancel(jobID)
			return nil
		}

		job.MarkAsCancelled()
		err = m.repo.UpdateJob(ctx, job)
		if err == nil {
			m.mirrorStatus(ctx, job)
			m.fireCancel(jobID)
			logger.Infof("Job %s marked CANCELLED.", jobID)
			return nil
		}
		if !exception.IsCommitConflict(err) {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to cancel job %s", jobID), err, true)
		}
		m.recorder.RecordCommitConflict(ctx, "job")
		logger.Warnf("Commit conflict while cancelling job %s; re-reading.", jobID)
	}
	return exception.NewCommitConflictError(moduleName, fmt.Sprintf("gave up cancelling job %s after repeated conflicts", jobID), nil)
}

// GetJob returns the owner's view of one job with secrets stripped. The status
// cache is consulted first for the status field; the store remains the source
// of truth for everything else.
func (m *Manager) GetJob(ctx context.Context, scopeID, ownerID, jobID string) (*model.Job, error) {
	job, err := m.repo.FindJobByID(ctx, scopeID, ownerID, jobID)
	if err != nil {
		return nil, err
	}
	if status, ok, cacheErr := m.statusCache.GetJobStatus(ctx, scopeID, ownerID, jobID); cacheErr == nil && ok {
		job.Status = status
	}
	return job.Sanitized(), nil
}

// ListJobs returns the owner's jobs within a scope, newest first, with secrets
// stripped.
func (m *Manager) ListJobs(ctx context.Context, scopeID, ownerID string, activeOnly bool) ([]*model.Job, error) {
	jobs, err := m.repo.FindJobs(ctx, scopeID, ownerID, activeOnly)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to list jobs of scope %s", scopeID), err, true)
	}
	sanitized := make([]*model.Job, 0, len(jobs))
	for _, job := range jobs {
		sanitized = append(sanitized, job.Sanitized())
	}
	return sanitized, nil
}

// GetResult returns the accumulated result of a check job.
func (m *Manager) GetResult(ctx context.Context, jobID string) (*model.PolicyCheckResult, error) {
	return m.repo.FindCheckResultByJobID(ctx, jobID)
}

// ClearResults removes every stored check result of the scope.
func (m *Manager) ClearResults(ctx context.Context, scopeID string) error {
	if err := m.repo.DeleteCheckResultsByScope(ctx, scopeID); err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to clear results of scope %s", scopeID), err, true)
	}
	logger.Infof("Cleared check results of scope %s.", scopeID)
	return nil
}

// QueueRemoteJob creates a job record for work delegated to a remote system:
// the job is enqueued remotely, its remote identifier recorded locally, and
// the poller takes over from there.
func (m *Manager) QueueRemoteJob(ctx context.Context, scopeID, ownerID string, req RemoteJobRequest) (*model.Job, error) {
	if req.Kind != model.JobKindAnalysis && req.Kind != model.JobKindPolicySynthesis {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("kind '%s' cannot be delegated to a remote system", req.Kind), nil, false)
	}

	job := model.NewJob(ownerID, scopeID, req.Kind, req.Endpoint)
	job.SecretMaterial = req.Token
	if req.Parameters != nil {
		job.Parameters = req.Parameters.Copy()
	}

	client := m.clientFactory(req.Endpoint, req.Token)
	remoteJobID, err := client.EnqueueJob(ctx, remote.EnqueueRequest{
		Kind:       string(req.Kind),
		ScopeID:    scopeID,
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to enqueue %s job for scope %s", req.Kind, scopeID), err, exception.IsTemporary(err))
	}
	job.RemoteJobID = remoteJobID

	if err := m.repo.SaveJob(ctx, job); err != nil {
		// The remote side accepted the job but there is no local record to track
		// it. Ask the remote to cancel so the work does not run unobserved.
		if cancelErr := client.CancelJob(ctx, remoteJobID); cancelErr != nil {
			logger.Warnf("Failed to cancel orphaned remote job %s: %v", remoteJobID, cancelErr)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to persist job %s", job.ID), err, true)
	}

	m.recorder.RecordJobStart(ctx, job)
	m.mirrorStatus(ctx, job)
	logger.Infof("Queued remote %s job %s (remote ID %s) for scope %s.", req.Kind, job.ID, remoteJobID, scopeID)
	return job.Sanitized(), nil
}

// Shutdown signals every running execution to stop and waits for them to
// finish, bounded by the given context.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	for _, cancel := range m.cancels {
		cancel()
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.executions.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Wait blocks until every in-flight check execution has finished.
func (m *Manager) Wait() {
	m.executions.Wait()
}

func (m *Manager) registerCancel(jobID string, cancel context.CancelFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancels[jobID] = cancel
}

// unregisterCancel removes the registry entry and releases the context.
func (m *Manager) unregisterCancel(jobID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	delete(m.cancels, jobID)
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// fireCancel signals the executor of the given job, if one is still running.
func (m *Manager) fireCancel(jobID string) {
	m.mu.Lock()
	cancel, ok := m.cancels[jobID]
	m.mu.Unlock()
	if ok {
		cancel()
	}
}

// mirrorStatus writes the job's status to the status cache. Best-effort: a
// stale or missing mirror only costs a store read.
func (m *Manager) mirrorStatus(ctx context.Context, job *model.Job) {
	if err := m.statusCache.SetJobStatus(ctx, job.ScopeID, job.OwnerID, job.ID, job.Status, m.cacheTTL); err != nil {
		logger.Debugf("Failed to mirror status of job %s: %v", job.ID, err)
	}
}
