// Package policycheck_test exercises the policy check manager, its batch
// executor, and the streaming variant against an in-memory store and a
// scripted check endpoint.
package policycheck_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/dispatch/pkg/dispatch/core/application/port"
	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	repository "github.com/tracelens/dispatch/pkg/dispatch/core/domain/repository"
	"github.com/tracelens/dispatch/pkg/dispatch/core/metrics"
	"github.com/tracelens/dispatch/pkg/dispatch/engine/policycheck"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/cache"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/remote"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/repository/inmemory"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

// fakeTraceSource serves scripted scope items. A loadGate, when set, blocks
// LoadItems until the test releases it.
type fakeTraceSource struct {
	mu         sync.Mutex
	items      map[string][]model.ScopeItem
	loadGate   chan struct{}
	loading    chan struct{}
	loadPanics bool
}

func newFakeTraceSource() *fakeTraceSource {
	return &fakeTraceSource{items: make(map[string][]model.ScopeItem)}
}

func (f *fakeTraceSource) CountItems(ctx context.Context, scopeID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.items[scopeID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", port.ErrScopeNotFound, scopeID)
	}
	return len(items), nil
}

func (f *fakeTraceSource) LoadItems(ctx context.Context, scopeID string) ([]model.ScopeItem, error) {
	f.mu.Lock()
	gate := f.loadGate
	loading := f.loading
	panics := f.loadPanics
	f.mu.Unlock()

	if loading != nil {
		close(loading)
	}
	if gate != nil {
		<-gate
	}
	if panics {
		panic("trace source exploded")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	items, ok := f.items[scopeID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", port.ErrScopeNotFound, scopeID)
	}
	return append([]model.ScopeItem(nil), items...), nil
}

// fakeCheckClient classifies items by the content of their first message. It
// can block calls on a release channel to freeze a batch mid-flight.
type fakeCheckClient struct {
	mu          sync.Mutex
	triggered   map[string]bool
	errs        map[string]error
	blocks      map[string]chan struct{}
	release     chan struct{}
	panicOn     string
	calls       []string
	inFlight    int
	maxInFlight int
}

func newFakeCheckClient() *fakeCheckClient {
	return &fakeCheckClient{
		triggered: make(map[string]bool),
		errs:      make(map[string]error),
		blocks:    make(map[string]chan struct{}),
	}
}

func (f *fakeCheckClient) CheckItem(ctx context.Context, req checkapi.CheckRequest) (*checkapi.CheckOutcome, error) {
	key := ""
	if len(req.Messages) > 0 {
		key = req.Messages[0].Content
	}

	f.mu.Lock()
	f.calls = append(f.calls, key)
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	release := f.release
	block := f.blocks[key]
	panics := key == f.panicOn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if panics {
		panic("check client exploded")
	}

	for _, gate := range []chan struct{}{release, block} {
		if gate == nil {
			continue
		}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, exception.NewTransportError("fake_check", "request aborted", ctx.Err())
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.errs[key]; ok {
		return nil, err
	}
	if f.triggered[key] {
		return &checkapi.CheckOutcome{Triggered: true, Findings: []string{"policy violated"}}, nil
	}
	return &checkapi.CheckOutcome{}, nil
}

func (f *fakeCheckClient) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeCheckClient) currentInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlight
}

func (f *fakeCheckClient) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxInFlight
}

// captureArchiver records archived results.
type captureArchiver struct {
	mu      sync.Mutex
	jobs    []*model.Job
	results []*model.PolicyCheckResult
	err     error
}

func (a *captureArchiver) ArchiveResult(ctx context.Context, job *model.Job, result *model.PolicyCheckResult) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.jobs = append(a.jobs, job)
	a.results = append(a.results, result)
	return a.err
}

func (a *captureArchiver) archived() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.results)
}

// fakeRemote scripts the remote system for QueueRemoteJob.
type fakeRemote struct {
	mu         sync.Mutex
	remoteID   string
	enqueueErr error
	enqueued   []remote.EnqueueRequest
	cancelled  []string
}

func (f *fakeRemote) GetJob(ctx context.Context, remoteJobID string) (*remote.JobStatus, error) {
	return nil, fmt.Errorf("%w: remote job %s", exception.ErrRemoteJobNotFound, remoteJobID)
}

func (f *fakeRemote) CancelJob(ctx context.Context, remoteJobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, remoteJobID)
	return nil
}

func (f *fakeRemote) DeleteJob(ctx context.Context, remoteJobID string) error { return nil }

func (f *fakeRemote) EnqueueJob(ctx context.Context, req remote.EnqueueRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.enqueueErr != nil {
		return "", f.enqueueErr
	}
	f.enqueued = append(f.enqueued, req)
	return f.remoteID, nil
}

func (f *fakeRemote) ListJobs(ctx context.Context) ([]remote.JobStatus, error) { return nil, nil }

// stubCache keeps job statuses in a map.
type stubCache struct {
	mu       sync.Mutex
	statuses map[string]model.JobStatus
}

func newStubCache() *stubCache {
	return &stubCache{statuses: make(map[string]model.JobStatus)}
}

func (c *stubCache) statusKey(scopeID, ownerID, jobID string) string {
	return scopeID + "/" + ownerID + "/" + jobID
}

func (c *stubCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

func (c *stubCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}

func (c *stubCache) Delete(ctx context.Context, key string) error { return nil }

func (c *stubCache) Ping(ctx context.Context) error { return nil }

func (c *stubCache) SetJobStatus(ctx context.Context, scopeID, ownerID, jobID string, status model.JobStatus, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.statuses[c.statusKey(scopeID, ownerID, jobID)] = status
	return nil
}

func (c *stubCache) GetJobStatus(ctx context.Context, scopeID, ownerID, jobID string) (model.JobStatus, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	status, ok := c.statuses[c.statusKey(scopeID, ownerID, jobID)]
	return status, ok, nil
}

func (c *stubCache) InvalidateJobStatus(ctx context.Context, scopeID, ownerID, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.statuses, c.statusKey(scopeID, ownerID, jobID))
	return nil
}

func makeItems(n int) []model.ScopeItem {
	items := make([]model.ScopeItem, 0, n)
	for i := 1; i <= n; i++ {
		id := fmt.Sprintf("item-%d", i)
		items = append(items, model.ScopeItem{
			ID:       id,
			Messages: model.TraceMessageList{{Role: "user", Content: id}},
		})
	}
	return items
}

func newTestManager(t *testing.T, repo repository.JobRepository, traces port.TraceSource, checker checkapi.Client, archiver port.ResultArchiver) *policycheck.Manager {
	t.Helper()
	return newTestManagerWithDeps(t, repo, traces, checker, archiver, &fakeRemote{}, cache.NewNoOpCache())
}

func newTestManagerWithDeps(t *testing.T, repo repository.JobRepository, traces port.TraceSource, checker checkapi.Client, archiver port.ResultArchiver, rc remote.Client, statusCache cache.Cache) *policycheck.Manager {
	t.Helper()
	return policycheck.NewManager(policycheck.ManagerParams{
		Repo:          repo,
		Traces:        traces,
		Checker:       checker,
		Archiver:      archiver,
		ClientFactory: func(endpoint, token string) remote.Client { return rc },
		StatusCache:   statusCache,
		Recorder:      metrics.NewNoOpMetricRecorder(),
		Tracer:        metrics.NewNoOpTracer(),
		Cfg:           config.NewConfig(),
	})
}

func defaultRequest() policycheck.CheckRequest {
	return policycheck.CheckRequest{
		Policy:      "no PII in traces",
		Endpoint:    "https://check.test/v1/check",
		Credentials: checkapi.Credentials{BearerToken: "token-abc"},
		Parameters:  model.CheckParameters{"threshold": 0.5},
	}
}

func TestManager_CreateJob_EmptyScope(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["empty-scope"] = nil

	m := newTestManager(t, repo, traces, newFakeCheckClient(), &captureArchiver{})

	_, err := m.CreateJob(context.Background(), "empty-scope", "user-1", defaultRequest())
	assert.True(t, exception.IsEmptyScope(err))

	_, err = m.CreateJob(context.Background(), "no-such-scope", "user-1", defaultRequest())
	assert.True(t, exception.IsEmptyScope(err))

	jobs, err := m.ListJobs(context.Background(), "empty-scope", "user-1", false)
	require.NoError(t, err)
	assert.Empty(t, jobs, "no job record may be left behind by a rejected creation")
}

func TestManager_CreateJob_ReturnsSanitizedPendingJob(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(3)

	m := newTestManager(t, repo, traces, newFakeCheckClient(), &captureArchiver{})

	job, err := m.CreateJob(context.Background(), "scope-1", "user-1", defaultRequest())
	require.NoError(t, err)

	assert.Equal(t, model.JobKindPolicyCheck, job.Kind)
	assert.Equal(t, model.JobStatusPending, job.Status)
	assert.Equal(t, 3, job.NumTotal)
	assert.Equal(t, "no PII in traces", job.Policy)
	assert.Empty(t, job.SecretMaterial)
	assert.Empty(t, job.SessionCookie)

	m.Wait()
}

func TestManager_GetJob_PrefersCachedStatusAndStripsSecrets(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	statusCache := newStubCache()
	m := newTestManagerWithDeps(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{}, &fakeRemote{}, statusCache)

	job := model.NewPolicyCheckJob("user-1", "scope-1", "policy", nil, 5)
	job.SecretMaterial = "token-abc"
	require.NoError(t, repo.SaveJob(context.Background(), job))
	require.NoError(t, statusCache.SetJobStatus(context.Background(), "scope-1", "user-1", job.ID, model.JobStatusRunning, time.Minute))

	got, err := m.GetJob(context.Background(), "scope-1", "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusRunning, got.Status, "cached status wins over the stored one")
	assert.Empty(t, got.SecretMaterial)

	_, err = m.GetJob(context.Background(), "scope-1", "user-1", "no-such-job")
	assert.ErrorIs(t, err, repository.ErrJobNotFound)
}

func TestManager_ListJobs_StripsSecrets(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	m := newTestManager(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{})

	job := model.NewPolicyCheckJob("user-1", "scope-1", "policy", nil, 5)
	job.SecretMaterial = "token-abc"
	job.SessionCookie = "session=xyz"
	require.NoError(t, repo.SaveJob(context.Background(), job))

	jobs, err := m.ListJobs(context.Background(), "scope-1", "user-1", false)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Empty(t, jobs[0].SecretMaterial)
	assert.Empty(t, jobs[0].SessionCookie)
}

func TestManager_Cancel_UnknownJobIsIgnored(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	m := newTestManager(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{})

	assert.NoError(t, m.Cancel(context.Background(), "scope-1", "user-1", []string{"no-such-job"}))
}

func TestManager_Cancel_TerminalJobIsLeftUntouched(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	m := newTestManager(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{})

	job := model.NewPolicyCheckJob("user-1", "scope-1", "policy", nil, 5)
	job.MarkAsRunning()
	job.MarkAsCompleted()
	require.NoError(t, repo.SaveJob(context.Background(), job))

	require.NoError(t, m.Cancel(context.Background(), "scope-1", "user-1", []string{job.ID}))

	current, err := repo.FindJobByID(context.Background(), "scope-1", "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, current.Status)
}

func TestManager_ClearResults_RemovesScopeResults(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	m := newTestManager(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{})

	result := model.NewPolicyCheckResult("job-1", "scope-1", 5)
	require.NoError(t, repo.SaveCheckResult(context.Background(), result))
	other := model.NewPolicyCheckResult("job-2", "scope-2", 5)
	require.NoError(t, repo.SaveCheckResult(context.Background(), other))

	require.NoError(t, m.ClearResults(context.Background(), "scope-1"))

	_, err := m.GetResult(context.Background(), "job-1")
	assert.ErrorIs(t, err, repository.ErrCheckResultNotFound)

	kept, err := m.GetResult(context.Background(), "job-2")
	require.NoError(t, err)
	assert.Equal(t, "scope-2", kept.ScopeID)
}

func TestManager_QueueRemoteJob_RecordsRemoteID(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	rc := &fakeRemote{remoteID: "remote-123"}
	m := newTestManagerWithDeps(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{}, rc, cache.NewNoOpCache())

	job, err := m.QueueRemoteJob(context.Background(), "scope-1", "user-1", policycheck.RemoteJobRequest{
		Kind:       model.JobKindAnalysis,
		Endpoint:   "https://remote.test",
		Token:      "token-abc",
		Parameters: model.CheckParameters{"model": "large"},
	})
	require.NoError(t, err)

	assert.Equal(t, "remote-123", job.RemoteJobID)
	assert.Empty(t, job.SecretMaterial)
	require.Len(t, rc.enqueued, 1)
	assert.Equal(t, "analysis", rc.enqueued[0].Kind)
	assert.Equal(t, "scope-1", rc.enqueued[0].ScopeID)

	stored, err := repo.FindJobByID(context.Background(), "scope-1", "user-1", job.ID)
	require.NoError(t, err)
	assert.Equal(t, "remote-123", stored.RemoteJobID)
	assert.Equal(t, "token-abc", stored.SecretMaterial, "the store keeps the credential for the poller")
}

func TestManager_QueueRemoteJob_RejectsLocalKind(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	m := newTestManager(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{})

	_, err := m.QueueRemoteJob(context.Background(), "scope-1", "user-1", policycheck.RemoteJobRequest{
		Kind:     model.JobKindPolicyCheck,
		Endpoint: "https://remote.test",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be delegated")
}

func TestManager_QueueRemoteJob_EnqueueFailureLeavesNoRecord(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	rc := &fakeRemote{enqueueErr: exception.NewTransportError("fake_remote", "connection refused", nil)}
	m := newTestManagerWithDeps(t, repo, newFakeTraceSource(), newFakeCheckClient(), &captureArchiver{}, rc, cache.NewNoOpCache())

	_, err := m.QueueRemoteJob(context.Background(), "scope-1", "user-1", policycheck.RemoteJobRequest{
		Kind:     model.JobKindPolicySynthesis,
		Endpoint: "https://remote.test",
	})
	require.Error(t, err)

	jobs, listErr := m.ListJobs(context.Background(), "scope-1", "user-1", false)
	require.NoError(t, listErr)
	assert.Empty(t, jobs)
}
