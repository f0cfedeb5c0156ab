package policycheck

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/logger"
)

// StreamResult is one item's outcome emitted by a streaming check.
type StreamResult struct {
	ItemID    string
	Triggered bool
	Findings  []string
	Err       error
}

// StreamCheck evaluates every item of the scope and emits each outcome as soon
// as its request completes, in completion order. Concurrency is bounded by a
// counting semaphore of size maxConcurrent (the configured default when not
// positive). The consumer's context governs the stream: once it is done, no
// new item requests are issued and in-flight outcomes are discarded instead of
// emitted. The returned channel closes when every issued item has finished.
//
// No job document is persisted; a streaming check is not resumable and not
// poll-queryable.
func (m *Manager) StreamCheck(ctx context.Context, scopeID string, req CheckRequest, maxConcurrent int) (<-chan StreamResult, error) {
	items, err := m.traces.LoadItems(ctx, scopeID)
	if err != nil {
		if errors.Is(err, port.ErrScopeNotFound) {
			return nil, exception.NewEmptyScopeError(moduleName, scopeID)
		}
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to load items of scope %s", scopeID), err, true)
	}
	if len(items) == 0 {
		return nil, exception.NewEmptyScopeError(moduleName, scopeID)
	}

	if maxConcurrent <= 0 {
		maxConcurrent = m.streamConcurrency
	}

	results := make(chan StreamResult, maxConcurrent)
	go func() {
		defer close(results)

		sem := make(chan struct{}, maxConcurrent)
		var wg sync.WaitGroup

		issued := 0
	issue:
		for _, item := range items {
			// Stop issuing once the consumer is gone.
			if ctx.Err() != nil {
				break
			}
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				break issue
			}
			issued++

			wg.Add(1)
			go func(item model.ScopeItem) {
				defer wg.Done()
				defer func() { <-sem }()

				result := m.checkStreamItem(ctx, req, item)
				if ctx.Err() != nil {
					// Consumer disconnected between completion and emission; the
					// outcome is discarded.
					return
				}
				select {
				case results <- result:
					m.recorder.RecordStreamEmission(ctx)
				case <-ctx.Done():
				}
			}(item)
		}
		wg.Wait()

		if issued < len(items) {
			logger.Debugf("Streaming check of scope %s stopped after %d of %d items.", scopeID, issued, len(items))
		}
	}()

	return results, nil
}

// checkStreamItem evaluates one item with the shared per-item semantics.
func (m *Manager) checkStreamItem(ctx context.Context, req CheckRequest, item model.ScopeItem) StreamResult {
	outcome, err := m.checker.CheckItem(ctx, checkapi.CheckRequest{
		Endpoint:    req.Endpoint,
		Credentials: req.Credentials,
		Messages:    item.Messages,
		Policy:      req.Policy,
		Parameters:  req.Parameters,
	})
	if err != nil {
		m.recorder.RecordItemChecked(ctx, "error")
		return StreamResult{ItemID: item.ID, Err: err}
	}

	if outcome.Triggered {
		m.recorder.RecordItemChecked(ctx, "triggered")
	} else {
		m.recorder.RecordItemChecked(ctx, "clean")
	}
	return StreamResult{
		ItemID:    item.ID,
		Triggered: outcome.Triggered,
		Findings:  outcome.Findings,
	}
}
