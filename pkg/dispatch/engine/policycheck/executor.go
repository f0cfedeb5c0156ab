package policycheck

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// batchOutcome accumulates one batch worth of item classifications.
type batchOutcome struct {
	processed int
	triggered []string
	errItems  []model.ItemError
}

// supervise runs one check job to completion inside its own goroutine. Panics
// end the job as FAILED instead of taking the process down.
func (m *Manager) supervise(ctx context.Context, job *model.Job, req CheckRequest) {
	defer m.executions.Done()
	defer m.unregisterCancel(job.ID)
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("Policy check job %s panicked: %v", job.ID, r)
			m.failJob(context.Background(), job, fmt.Errorf("check execution panicked: %v", r))
		}
	}()

	m.runJob(ctx, job, req)
}

// runJob executes the batch algorithm: load the scope, mark the job RUNNING,
// process fixed-size batches with a checkpoint after each, then finalize.
// Cancellation is observed at batch boundaries only; in-flight item requests
// are allowed to complete.
func (m *Manager) runJob(ctx context.Context, job *model.Job, req CheckRequest) {
	start := time.Now()

	// The cancel signal is observed at batch boundaries only. Store commits in
	// progress settle on a detached context even while cancellation arrives.
	storeCtx := context.WithoutCancel(ctx)

	items, err := m.traces.LoadItems(ctx, job.ScopeID)
	if err != nil {
		logger.Errorf("Failed to load items of scope %s for job %s: %v", job.ScopeID, job.ID, err)
		m.tracer.RecordError(ctx, moduleName, err)
		m.failJob(storeCtx, job, fmt.Errorf("failed to load scope items: %s", exception.ExtractErrorMessage(err)))
		return
	}
	if len(items) == 0 {
		m.failJob(storeCtx, job, fmt.Errorf("scope %s has no items to check", job.ScopeID))
		return
	}

	proceed, err := m.markRunning(storeCtx, job)
	if err != nil {
		logger.Errorf("Failed to mark job %s RUNNING: %v", job.ID, err)
		return
	}
	if !proceed {
		m.finalizeCancelled(storeCtx, job, start)
		return
	}

	cancelled := false
	for batchIndex := 0; len(items) > 0; batchIndex++ {
		if m.observeCancellation(ctx, job) {
			cancelled = true
			break
		}

		size := m.chunkSize
		if size > len(items) {
			size = len(items)
		}
		batch := items[:size]
		items = items[size:]

		batchCtx, endSpan := m.tracer.StartBatchSpan(ctx, job.ID, batchIndex)
		outcome := m.checkBatch(batchCtx, req, batch)
		endSpan()

		if err := m.checkpoint(storeCtx, job, outcome); err != nil {
			logger.Errorf("Failed to checkpoint batch %d of job %s: %v", batchIndex, job.ID, err)
			m.tracer.RecordError(ctx, moduleName, err)
			m.failJob(storeCtx, job, fmt.Errorf("failed to checkpoint batch %d: %s", batchIndex, exception.ExtractErrorMessage(err)))
			return
		}
	}

	if cancelled {
		m.finalizeCancelled(storeCtx, job, start)
		return
	}
	m.finalizeCompleted(storeCtx, job, start)
}

// observeCancellation reports whether the job should stop before its next
// batch, either because the cancel registry fired or because the stored
// status was flipped to CANCELLED.
func (m *Manager) observeCancellation(ctx context.Context, job *model.Job) bool {
	if ctx.Err() != nil {
		return true
	}
	current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
	if err != nil {
		// Stopping is the safe answer when the job cannot be re-read, whether it
		// was deleted out from under the executor or the read itself was cut off.
		logger.Warnf("Could not re-read job %s at batch boundary: %v; stopping.", job.ID, err)
		return true
	}
	return current.Status == model.JobStatusCancelled
}

// checkBatch posts every item of the batch concurrently and classifies the
// responses. A failing item is recorded as an error entry; it never aborts
// the rest of the batch. The item requests are detached from the cancel
// signal so an arriving cancellation lets in-flight posts finish.
func (m *Manager) checkBatch(ctx context.Context, req CheckRequest, batch []model.ScopeItem) batchOutcome {
	itemCtx := context.WithoutCancel(ctx)

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	outcome := batchOutcome{processed: len(batch)}

	for _, item := range batch {
		wg.Add(1)
		go func(item model.ScopeItem) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("Check of item %s panicked: %v", item.ID, r)
					m.recorder.RecordItemChecked(ctx, "error")
					mu.Lock()
					outcome.errItems = append(outcome.errItems, model.ItemError{
						ItemID: item.ID,
						Error:  fmt.Sprintf("check panicked: %v", r),
					})
					mu.Unlock()
				}
			}()

			result, err := m.checker.CheckItem(itemCtx, checkapi.CheckRequest{
				Endpoint:    req.Endpoint,
				Credentials: req.Credentials,
				Messages:    item.Messages,
				Policy:      req.Policy,
				Parameters:  req.Parameters,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				m.recorder.RecordItemChecked(ctx, "error")
				outcome.errItems = append(outcome.errItems, model.ItemError{
					ItemID: item.ID,
					Error:  exception.ExtractErrorMessage(err),
				})
			case result.Triggered:
				m.recorder.RecordItemChecked(ctx, "triggered")
				outcome.triggered = append(outcome.triggered, item.ID)
			default:
				m.recorder.RecordItemChecked(ctx, "clean")
			}
		}(item)
	}
	wg.Wait()

	return outcome
}

// checkpoint commits one batch's outcome: progress on the job record, then the
// batch's triggered/error items on the result record. Both writes re-read the
// latest document immediately before writing; a lost version race is re-read
// and re-applied once. The only concurrent writer is Cancel's status flip,
// which the re-read preserves.
func (m *Manager) checkpoint(ctx context.Context, job *model.Job, outcome batchOutcome) error {
	if err := m.commitProgress(ctx, job, outcome.processed); err != nil {
		return err
	}
	if err := m.commitResult(ctx, job.ID, outcome); err != nil {
		return err
	}
	m.recorder.RecordBatchCommit(ctx, outcome.processed)
	return nil
}

func (m *Manager) commitProgress(ctx context.Context, job *model.Job, processed int) error {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
		if err != nil {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to re-read job %s for checkpoint", job.ID), err, true)
		}
		current.RecordProgress(current.NumProcessed+processed, current.NumTotal)

		err = m.repo.UpdateJob(ctx, current)
		if err == nil {
			m.mirrorStatus(ctx, current)
			return nil
		}
		if !exception.IsCommitConflict(err) {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to commit progress of job %s", job.ID), err, true)
		}
		m.recorder.RecordCommitConflict(ctx, "job")
		logger.Warnf("Commit conflict on job %s progress; re-reading.", job.ID)
	}
	return exception.NewCommitConflictError(moduleName, fmt.Sprintf("gave up committing progress of job %s after repeated conflicts", job.ID), nil)
}

func (m *Manager) commitResult(ctx context.Context, jobID string, outcome batchOutcome) error {
	for attempt := 0; attempt < 2; attempt++ {
		result, err := m.repo.FindCheckResultByJobID(ctx, jobID)
		if err != nil {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to re-read result of job %s for checkpoint", jobID), err, true)
		}
		result.AppendBatch(outcome.triggered, outcome.errItems)

		err = m.repo.UpdateCheckResult(ctx, result)
		if err == nil {
			return nil
		}
		if !exception.IsCommitConflict(err) {
			return exception.NewDispatchError(moduleName, fmt.Sprintf("failed to commit result of job %s", jobID), err, true)
		}
		m.recorder.RecordCommitConflict(ctx, "check_result")
		logger.Warnf("Commit conflict on result of job %s; re-reading.", jobID)
	}
	return exception.NewCommitConflictError(moduleName, fmt.Sprintf("gave up committing result of job %s after repeated conflicts", jobID), nil)
}

// markRunning transitions the job to RUNNING. Returns false without error when
// a cancellation raced in before the first batch.
func (m *Manager) markRunning(ctx context.Context, job *model.Job) (bool, error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
		if err != nil {
			return false, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to load job %s", job.ID), err, true)
		}
		if current.Status == model.JobStatusCancelled {
			return false, nil
		}
		current.MarkAsRunning()

		err = m.repo.UpdateJob(ctx, current)
		if err == nil {
			m.mirrorStatus(ctx, current)
			return true, nil
		}
		if !exception.IsCommitConflict(err) {
			return false, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to mark job %s RUNNING", job.ID), err, true)
		}
		m.recorder.RecordCommitConflict(ctx, "job")
	}
	return false, exception.NewCommitConflictError(moduleName, fmt.Sprintf("gave up marking job %s RUNNING after repeated conflicts", job.ID), nil)
}

// finalizeCompleted stamps the job COMPLETED and the result finalized, then
// hands the result to the archiver. A cancellation that raced in after the
// last batch boundary is honored instead.
func (m *Manager) finalizeCompleted(ctx context.Context, job *model.Job, start time.Time) {
	current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
	if err != nil {
		logger.Warnf("Job %s disappeared before finalization: %v", job.ID, err)
		return
	}
	if current.Status == model.JobStatusCancelled {
		m.finalizeCancelled(ctx, job, start)
		return
	}

	current.MarkAsCompleted()
	current.NumProcessed = current.NumTotal
	if err := m.repo.UpdateJob(ctx, current); err != nil {
		logger.Errorf("Failed to finalize job %s: %v", job.ID, err)
		return
	}
	m.mirrorStatus(ctx, current)
	m.recorder.RecordJobEnd(ctx, current)
	m.recorder.RecordDuration(ctx, "check_job_duration", time.Since(start), map[string]string{"outcome": "completed"})
	m.tracer.RecordEvent(ctx, "check_job_completed", map[string]interface{}{"job_id": current.ID})

	result, err := m.repo.FindCheckResultByJobID(ctx, current.ID)
	if err != nil {
		logger.Errorf("Result of job %s disappeared before finalization: %v", current.ID, err)
		return
	}
	result.Finalize()
	if err := m.repo.UpdateCheckResult(ctx, result); err != nil {
		logger.Errorf("Failed to finalize result of job %s: %v", current.ID, err)
		return
	}

	logger.Infof("Policy check job %s completed: %d/%d items, %d triggered, %d errors.",
		current.ID, current.NumProcessed, current.NumTotal, result.TriggeredCount, len(result.ErrorItems))

	// Archiving is best-effort and never touches job state.
	if err := m.archiver.ArchiveResult(ctx, current, result); err != nil {
		logger.Warnf("Failed to archive result of job %s: %v", current.ID, err)
	}
}

// finalizeCancelled settles a stopped execution. The stored status is flipped
// to CANCELLED if the signal arrived through the context alone, so an
// interrupted job never lingers as RUNNING. The result keeps whatever the
// passed checkpoints committed and gets no completion stamp.
func (m *Manager) finalizeCancelled(ctx context.Context, job *model.Job, start time.Time) {
	current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
	if err != nil {
		if !errors.Is(err, repository.ErrJobNotFound) {
			logger.Warnf("Failed to load job %s after cancellation: %v", job.ID, err)
		}
		return
	}
	if !current.IsTerminal() {
		current.MarkAsCancelled()
		if err := m.repo.UpdateJob(ctx, current); err != nil {
			logger.Warnf("Failed to settle cancelled job %s: %v", job.ID, err)
			return
		}
	}
	m.mirrorStatus(ctx, current)
	m.recorder.RecordJobEnd(ctx, current)
	m.recorder.RecordDuration(ctx, "check_job_duration", time.Since(start), map[string]string{"outcome": "cancelled"})
	m.tracer.RecordEvent(ctx, "check_job_cancelled", map[string]interface{}{"job_id": current.ID})
	logger.Infof("Policy check job %s stopped on cancellation after %d/%d items.", current.ID, current.NumProcessed, current.NumTotal)
}

// failJob marks the job FAILED with the given cause through read-modify-write.
func (m *Manager) failJob(ctx context.Context, job *model.Job, cause error) {
	for attempt := 0; attempt < 2; attempt++ {
		current, err := m.repo.FindJobByID(ctx, job.ScopeID, job.OwnerID, job.ID)
		if err != nil {
			logger.Errorf("Failed to load job %s to mark it FAILED: %v", job.ID, err)
			return
		}
		if current.IsTerminal() {
			return
		}
		current.MarkAsFailed(cause)

		err = m.repo.UpdateJob(ctx, current)
		if err == nil {
			m.mirrorStatus(ctx, current)
			m.recorder.RecordJobEnd(ctx, current)
			logger.Warnf("Policy check job %s failed: %s", current.ID, current.ErrorMessage)
			return
		}
		if !exception.IsCommitConflict(err) {
			logger.Errorf("Failed to mark job %s FAILED: %v", job.ID, err)
			return
		}
		m.recorder.RecordCommitConflict(ctx, "job")
	}
	logger.Errorf("Gave up marking job %s FAILED after repeated conflicts.", job.ID)
}
