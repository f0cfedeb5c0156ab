// Package poller reconciles locally tracked remote-delegated jobs against the
// remote systems executing them. Each poll pass loads the jobs still awaiting
// reconciliation, asks every job's endpoint for its current state, applies the
// observed status through read-modify-write commits, and reaps records that
// reached the end of their life.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/fx"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/handler"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/cache"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/remote"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

const moduleName = "poller"

// PollerParams bundles the poller's dependencies for fx injection.
type PollerParams struct {
	fx.In

	Repo          repository.JobRepository
	Registry      *handler.Registry
	ClientFactory remote.ClientFactory
	StatusCache   cache.Cache
	Recorder      metrics.MetricRecorder
	Tracer        metrics.Tracer
	Cfg           *config.Config
}

// Poller drives the reconciliation of remote-delegated jobs. PollAllJobs is
// idempotent and safe to call concurrently with itself; the gate bounds how
// often a pass actually runs.
type Poller struct {
	repo          repository.JobRepository
	registry      *handler.Registry
	clientFactory remote.ClientFactory
	statusCache   cache.Cache
	recorder      metrics.MetricRecorder
	tracer        metrics.Tracer
	gate          *PollGate

	maxTerminalObservations int
	cacheTTL                time.Duration
}

// NewPoller creates the job status poller from the configured debounce
// interval and terminal-observation threshold.
func NewPoller(p PollerParams) *Poller {
	pollerCfg := p.Cfg.Dispatch.Poller

	maxObservations := pollerCfg.MaxTerminalObservations
	if maxObservations <= 0 {
		maxObservations = 3
	}

	return &Poller{
		repo:                    p.Repo,
		registry:                p.Registry,
		clientFactory:           p.ClientFactory,
		statusCache:             p.StatusCache,
		recorder:                p.Recorder,
		tracer:                  p.Tracer,
		gate:                    NewPollGate(time.Duration(pollerCfg.DebounceSeconds) * time.Second),
		maxTerminalObservations: maxObservations,
		cacheTTL:                time.Duration(p.Cfg.Dispatch.Cache.TTLSeconds) * time.Second,
	}
}

// Gate exposes the poller's debounce gate.
func (p *Poller) Gate() *PollGate {
	return p.gate
}

// PollAllJobs reconciles every tracked remote job against its remote system.
// Calls within the debounce window are no-ops. Each job is reconciled in its
// own goroutine; per-job failures are aggregated and never block siblings.
func (p *Poller) PollAllJobs(ctx context.Context) error {
	if !p.gate.TryPass() {
		p.recorder.RecordPollSkipped(ctx)
		return nil
	}

	ctx, endSpan := p.tracer.StartPollSpan(ctx)
	defer endSpan()

	start := time.Now()
	p.recorder.RecordPollCycle(ctx)

	jobs, err := p.repo.FindActiveJobs(ctx)
	if err != nil {
		p.tracer.RecordError(ctx, moduleName, err)
		return exception.NewDispatchError(moduleName, "failed to load active jobs", err, true)
	}

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		multiErr *multierror.Error
	)
	polled := 0
	for _, job := range jobs {
		// Local check jobs are progressed by their own engine.
		if job.Kind == model.JobKindPolicyCheck {
			continue
		}
		polled++

		wg.Add(1)
		go func(job *model.Job) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Recovered from panic while reconciling job %s: %v", job.ID, r)
					mu.Lock()
					multiErr = multierror.Append(multiErr, fmt.Errorf("reconciliation of job %s panicked: %v", job.ID, r))
					mu.Unlock()
				}
			}()

			if err := p.pollOne(ctx, job); err != nil {
				mu.Lock()
				multiErr = multierror.Append(multiErr, err)
				mu.Unlock()
			}
		}(job)
	}
	wg.Wait()

	if polled > 0 {
		logger.Debugf("Poll pass reconciled %d jobs in %s.", polled, time.Since(start))
	}
	p.recorder.RecordDuration(ctx, "poll_cycle_duration", time.Since(start), nil)
	return multiErr.ErrorOrNil()
}

// pollOne reconciles a single job against the remote system's view of it.
func (p *Poller) pollOne(ctx context.Context, job *model.Job) error {
	ctx, endSpan := p.tracer.StartReconcileSpan(ctx, job)
	defer endSpan()

	client := p.clientFactory(job.Endpoint, job.SecretMaterial)

	status, err := client.GetJob(ctx, job.RemoteJobID)
	if err != nil {
		switch {
		case exception.IsRemoteNotFound(err):
			// The remote has no memory of this job. Drop the local record.
			logger.Infof("Remote job %s (job %s) is unknown remotely; deleting local record.", job.RemoteJobID, job.ID)
			p.tracer.RecordEvent(ctx, "job_vanished", map[string]interface{}{"job_id": job.ID})
			p.recorder.RecordJobReconciled(ctx, "vanished")
			p.invalidateStatus(ctx, job)
			return p.deleteLocal(ctx, job)
		case exception.IsTemporary(err):
			// Transient. The job stays untouched until the next cycle.
			logger.Warnf("Leaving job %s for the next poll cycle: %v", job.ID, err)
			p.recorder.RecordJobReconciled(ctx, "deferred")
			return nil
		default:
			p.tracer.RecordError(ctx, moduleName, err)
			p.recorder.RecordJobReconciled(ctx, "error")
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to poll remote job %s", job.RemoteJobID), err, true)
		}
	}

	// Re-fetch the latest document so concurrent writes are not clobbered.
	current, err := p.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
	if err != nil {
		if errors.Is(err, repository.ErrJobNotFound) {
			// Reaped by a concurrent pass.
			return nil
		}
		return err
	}

	switch status.Status {
	case model.JobStatusCompleted:
		return p.completeJob(ctx, client, current, status)
	case model.JobStatusCancelled:
		return p.reapCancelled(ctx, client, current)
	case model.JobStatusFailed:
		return p.observeFailure(ctx, client, current, status)
	case model.JobStatusRunning:
		return p.recordRunning(ctx, current, status)
	case model.JobStatusPending:
		p.recorder.RecordJobReconciled(ctx, "status")
		p.mirrorStatus(ctx, current)
		return nil
	default:
		logger.Warnf("Remote reported unknown status '%s' for job %s; ignoring.", status.Status, current.ID)
		return nil
	}
}

// completeJob finalizes a job the remote reports as completed: progress is
// forced to full, the result payload goes to the handler registry, then the
// remote record (best-effort) and the local record are deleted.
func (p *Poller) completeJob(ctx context.Context, client remote.Client, job *model.Job, status *remote.JobStatus) error {
	if job.Status != model.JobStatusCompleted {
		job.MarkAsCompleted()
	}
	if status.Total != nil && *status.Total > 0 {
		job.NumTotal = *status.Total
	}
	job.NumProcessed = job.NumTotal

	p.registry.Dispatch(ctx, job, decodeResultPayload(status.Raw))

	p.deleteRemote(ctx, client, job)
	p.recorder.RecordJobEnd(ctx, job)
	p.recorder.RecordJobReconciled(ctx, "completed")
	p.tracer.RecordEvent(ctx, "job_deleted", map[string]interface{}{"job_id": job.ID, "status": string(job.Status)})
	p.mirrorStatus(ctx, job)
	return p.deleteLocal(ctx, job)
}

// reapCancelled removes both records of a job the remote reports as cancelled.
func (p *Poller) reapCancelled(ctx context.Context, client remote.Client, job *model.Job) error {
	if job.Status != model.JobStatusCancelled {
		job.MarkAsCancelled()
	}

	p.deleteRemote(ctx, client, job)
	p.recorder.RecordJobEnd(ctx, job)
	p.recorder.RecordJobReconciled(ctx, "cancelled")
	p.mirrorStatus(ctx, job)
	return p.deleteLocal(ctx, job)
}

// observeFailure counts one FAILED observation. The record survives until the
// configured number of observations, then both sides are reaped.
func (p *Poller) observeFailure(ctx context.Context, client remote.Client, job *model.Job, status *remote.JobStatus) error {
	observations := job.ObserveTerminalFailure()
	if job.Status != model.JobStatusFailed {
		job.MarkAsFailed(nil)
	}
	if status.ErrorMessage != "" {
		job.ErrorMessage = status.ErrorMessage
	}

	if observations >= p.maxTerminalObservations {
		logger.Infof("Job %s observed FAILED %d times; reaping.", job.ID, observations)
		p.deleteRemote(ctx, client, job)
		p.recorder.RecordJobEnd(ctx, job)
		p.recorder.RecordJobReconciled(ctx, "failed_reaped")
		p.mirrorStatus(ctx, job)
		return p.deleteLocal(ctx, job)
	}

	p.recorder.RecordJobReconciled(ctx, "failed_observed")
	p.mirrorStatus(ctx, job)
	return p.commit(ctx, job)
}

// recordRunning updates the progress counters from the remote observation.
func (p *Poller) recordRunning(ctx context.Context, job *model.Job, status *remote.JobStatus) error {
	if job.Status == model.JobStatusPending {
		job.MarkAsRunning()
	}

	processed := job.NumProcessed
	if status.NumProcessed != nil {
		processed = *status.NumProcessed
	}
	total := job.NumTotal
	if status.Total != nil {
		total = *status.Total
	}
	job.RecordProgress(processed, total)

	p.recorder.RecordJobReconciled(ctx, "progress")
	p.mirrorStatus(ctx, job)
	return p.commit(ctx, job)
}

// commit persists the reconciled job. A lost version race is logged and left
// for the next cycle, which re-reads the latest truth.
func (p *Poller) commit(ctx context.Context, job *model.Job) error {
	if err := p.repo.UpdateJob(ctx, job); err != nil {
		switch {
		case exception.IsCommitConflict(err):
			p.recorder.RecordCommitConflict(ctx, "job")
			logger.Warnf("Commit conflict while updating job %s; leaving for next cycle.", job.ID)
			return nil
		case errors.Is(err, repository.ErrJobNotFound):
			logger.Debugf("Job %s disappeared during reconciliation.", job.ID)
			return nil
		default:
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to persist job %s", job.ID), err, true)
		}
	}
	return nil
}

// deleteRemote removes the remote side's record. Best-effort: failures are
// logged, never propagated, so the local record can always be reaped.
func (p *Poller) deleteRemote(ctx context.Context, client remote.Client, job *model.Job) {
	if err := client.DeleteJob(ctx, job.RemoteJobID); err != nil && !exception.IsRemoteNotFound(err) {
		logger.Warnf("Failed to delete remote job %s of job %s: %v", job.RemoteJobID, job.ID, err)
	}
}

func (p *Poller) deleteLocal(ctx context.Context, job *model.Job) error {
	if err := p.repo.DeleteJob(ctx, job.ID); err != nil {
		return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to delete job %s", job.ID), err, true)
	}
	return nil
}

// mirrorStatus writes the observed status to the job status cache.
// Best-effort: a stale or missing mirror only costs a store read.
func (p *Poller) mirrorStatus(ctx context.Context, job *model.Job) {
	if err := p.statusCache.SetJobStatus(ctx, job.ScopeID, job.OwnerID, job.ID, job.Status, p.cacheTTL); err != nil {
		logger.Debugf("Failed to mirror status of job %s: %v", job.ID, err)
	}
}

func (p *Poller) invalidateStatus(ctx context.Context, job *model.Job) {
	if err := p.statusCache.InvalidateJobStatus(ctx, job.ScopeID, job.OwnerID, job.ID); err != nil {
		logger.Debugf("Failed to invalidate cached status of job %s: %v", job.ID, err)
	}
}

// decodeResultPayload unpacks the raw remote result for handler dispatch.
func decodeResultPayload(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var payload map[string]interface{}
	if err := json.Unmarshal(raw, &payload); err != nil {
		logger.Warnf("Remote result payload is not a JSON object: %v", err)
		return map[string]interface{}{}
	}
	return payload
}
