// Package remote implements the HTTP contract for the external job execution
// service: status, cancel, delete, enqueue, and list. A Client is bound to one
// endpoint and its credentials; the poller obtains per-job clients through the
// ClientFactory since every job record carries its own endpoint and secret.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

const moduleName = "remote_client"

// defaultTimeout bounds status/cancel/delete/enqueue calls. The per-item check
// requests of the batch engine carry their own timeout and do not go through
// this client.
const defaultTimeout = 30 * time.Second

// maxErrorBodyBytes limits how much of an error response body is kept for
// diagnostics.
const maxErrorBodyBytes = 4096

// Client is the interface for talking to a remote job execution service.
type Client interface {
	// GetJob requests the current status of the remote job.
	GetJob(ctx context.Context, remoteJobID string) (*JobStatus, error)
	// CancelJob requests cancellation of the remote job. Best-effort.
	CancelJob(ctx context.Context, remoteJobID string) error
	// DeleteJob removes the remote side's record of the job. Best-effort.
	DeleteJob(ctx context.Context, remoteJobID string) error
	// EnqueueJob submits a new job and returns the remote system's identifier for it.
	EnqueueJob(ctx context.Context, req EnqueueRequest) (string, error)
	// ListJobs returns the remote system's view of all jobs. Diagnostics only.
	ListJobs(ctx context.Context) ([]JobStatus, error)
}

// ClientFactory builds a Client bound to one endpoint and bearer token.
type ClientFactory func(endpoint, token string) Client

// JobStatus is the reconciled view of one remote job.
type JobStatus struct {
	RemoteJobID  string
	Status       model.JobStatus
	NumProcessed *int
	Total        *int
	ErrorMessage string
	// Raw holds the full status payload so kind-specific completion fields
	// reach the result handlers untouched.
	Raw json.RawMessage
}

// EnqueueRequest describes a job submission to the remote service.
type EnqueueRequest struct {
	Kind       string                 `json:"kind"`
	ScopeID    string                 `json:"scope_id"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// HTTPClient implements Client against the remote service's HTTP API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a Client for the given endpoint and bearer token.
func NewHTTPClient(endpoint, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: strings.TrimRight(endpoint, "/"),
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// NewHTTPClientFactory returns a ClientFactory producing HTTPClients with the
// default timeout.
func NewHTTPClientFactory() ClientFactory {
	return func(endpoint, token string) Client {
		return NewHTTPClient(endpoint, token, defaultTimeout)
	}
}

func (c *HTTPClient) GetJob(ctx context.Context, remoteJobID string) (*JobStatus, error) {
	u := fmt.Sprintf("%s/job/%s", c.baseURL, url.PathEscape(remoteJobID))

	body, err := c.do(ctx, http.MethodGet, u, nil, remoteJobID)
	if err != nil {
		return nil, err
	}

	var resp jobStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to decode status payload for remote job %s", remoteJobID), err, false)
	}
	return toJobStatus(remoteJobID, &resp, body), nil
}

func (c *HTTPClient) CancelJob(ctx context.Context, remoteJobID string) error {
	u := fmt.Sprintf("%s/job/%s/cancel", c.baseURL, url.PathEscape(remoteJobID))
	_, err := c.do(ctx, http.MethodPut, u, nil, remoteJobID)
	return err
}

func (c *HTTPClient) DeleteJob(ctx context.Context, remoteJobID string) error {
	u := fmt.Sprintf("%s/job/%s", c.baseURL, url.PathEscape(remoteJobID))
	_, err := c.do(ctx, http.MethodDelete, u, nil, remoteJobID)
	return err
}

func (c *HTTPClient) EnqueueJob(ctx context.Context, req EnqueueRequest) (string, error) {
	u := fmt.Sprintf("%s/job", c.baseURL)

	payload, err := json.Marshal(req)
	if err != nil {
		return "", exception.NewDispatchError(moduleName, "failed to encode enqueue request", err, false)
	}

	body, err := c.do(ctx, http.MethodPost, u, payload, "")
	if err != nil {
		return "", err
	}

	var resp enqueueResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", exception.NewDispatchError(moduleName, "failed to decode enqueue response", err, false)
	}
	if resp.JobID == "" {
		return "", exception.NewDispatchError(moduleName, "enqueue response carries no job identifier", nil, false)
	}
	return resp.JobID, nil
}

func (c *HTTPClient) ListJobs(ctx context.Context) ([]JobStatus, error) {
	u := fmt.Sprintf("%s/job", c.baseURL)

	body, err := c.do(ctx, http.MethodGet, u, nil, "")
	if err != nil {
		return nil, err
	}

	var resp listJobsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to decode job list", err, false)
	}

	statuses := make([]JobStatus, 0, len(resp.Jobs))
	for i := range resp.Jobs {
		statuses = append(statuses, *toJobStatus(resp.Jobs[i].JobID, &resp.Jobs[i], nil))
	}
	return statuses, nil
}

// do performs one authenticated request and returns the response body on 2xx.
// A 404 maps to exception.ErrRemoteJobNotFound; connection-level failures map
// to transport errors.
func (c *HTTPClient) do(ctx context.Context, method, u string, payload []byte, remoteJobID string) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		reqBody = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to build %s request", method), err, false)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, exception.NewTransportError(moduleName, fmt.Sprintf("%s %s failed", method, u), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: remote job %s", exception.ErrRemoteJobNotFound, remoteJobID)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := readErrorBody(resp.Body)
		retryable := resp.StatusCode >= 500
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("%s %s returned status %d: %s", method, u, resp.StatusCode, detail), nil, retryable)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, exception.NewTransportError(moduleName, fmt.Sprintf("failed to read response of %s %s", method, u), err)
	}
	return body, nil
}

// readErrorBody drains a bounded prefix of an error response for diagnostics.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return "<unreadable body>"
	}
	return strings.TrimSpace(string(data))
}

// toJobStatus maps a wire status payload to the reconciled JobStatus view.
// Unknown status strings are carried through verbatim so the poller can log them.
func toJobStatus(remoteJobID string, resp *jobStatusResponse, raw json.RawMessage) *JobStatus {
	status, _ := model.ParseJobStatus(resp.Status)
	return &JobStatus{
		RemoteJobID:  remoteJobID,
		Status:       status,
		NumProcessed: resp.NumProcessed,
		Total:        resp.Total,
		ErrorMessage: resp.Error,
		Raw:          raw,
	}
}

// --- Remote API response types ---

type jobStatusResponse struct {
	JobID        string `json:"job_id"`
	Status       string `json:"status"`
	NumProcessed *int   `json:"num_processed,omitempty"`
	Total        *int   `json:"total,omitempty"`
	Error        string `json:"error,omitempty"`
}

type enqueueResponse struct {
	JobID string `json:"job_id"`
}

type listJobsResponse struct {
	Jobs []jobStatusResponse `json:"jobs"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
