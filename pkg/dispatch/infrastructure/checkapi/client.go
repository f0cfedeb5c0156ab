// Package checkapi implements the per-item policy check contract: one HTTP
// POST per trace, carrying the item's messages, the policy text, and the
// evaluation parameters. The response's `errors` list decides whether the
// policy triggered on the item.
package checkapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	config "github.com/tracelens/dispatch/pkg/dispatch/core/config"
	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

const moduleName = "check_client"

// maxErrorBodyBytes limits how much of an error response body is kept for
// diagnostics.
const maxErrorBodyBytes = 4096

// Credentials carries the authentication material for the check endpoint.
// Bearer token and session cookie are mutually exclusive.
type Credentials struct {
	BearerToken   string
	SessionCookie string
}

// CheckRequest describes one item evaluation against a check endpoint.
type CheckRequest struct {
	Endpoint    string
	Credentials Credentials
	Messages    []model.TraceMessage
	Policy      string
	Parameters  model.CheckParameters
}

// CheckOutcome is the classification of one evaluated item.
type CheckOutcome struct {
	// Triggered is true when the endpoint reported at least one policy error.
	Triggered bool
	// Findings holds the endpoint's raw error entries, stringified.
	Findings []string
}

// Client evaluates single items against a policy check endpoint.
type Client interface {
	// CheckItem posts one item to the check endpoint and classifies the response.
	//
	// Parameters:
	//
	//	ctx: The context for the request; the client adds the per-item timeout.
	//	req: The item payload, policy, parameters, and credentials.
	//
	// Returns:
	//
	//	The classification outcome, or an error on transport failure or a non-2xx response.
	CheckItem(ctx context.Context, req CheckRequest) (*CheckOutcome, error)
}

// HTTPClient implements Client over plain HTTP POSTs.
type HTTPClient struct {
	client      *http.Client
	itemTimeout time.Duration
}

// NewHTTPClient creates a check client whose requests each carry the given timeout.
func NewHTTPClient(itemTimeout time.Duration) *HTTPClient {
	return &HTTPClient{
		client:      &http.Client{},
		itemTimeout: itemTimeout,
	}
}

// NewClientProvider builds the check client from the check configuration.
func NewClientProvider(checkCfg *config.CheckConfig) Client {
	timeout := time.Duration(checkCfg.ItemTimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return NewHTTPClient(timeout)
}

func (c *HTTPClient) CheckItem(ctx context.Context, req CheckRequest) (*CheckOutcome, error) {
	if req.Credentials.BearerToken != "" && req.Credentials.SessionCookie != "" {
		return nil, exception.NewDispatchError(moduleName, "bearer token and session cookie are mutually exclusive", nil, false)
	}

	payload, err := json.Marshal(checkRequestBody{
		Messages:   req.Messages,
		Policy:     req.Policy,
		Parameters: req.Parameters,
	})
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to encode check request", err, false)
	}

	ctx, cancel := context.WithTimeout(ctx, c.itemTimeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("failed to build check request for %s", req.Endpoint), err, false)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if req.Credentials.BearerToken != "" {
		httpReq.Header.Set("Authorization", "Bearer "+req.Credentials.BearerToken)
	} else if req.Credentials.SessionCookie != "" {
		httpReq.Header.Set("Cookie", req.Credentials.SessionCookie)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, exception.NewTransportError(moduleName, fmt.Sprintf("check request to %s failed", req.Endpoint), err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := readErrorBody(resp.Body)
		retryable := resp.StatusCode >= 500
		return nil, exception.NewDispatchError(moduleName, fmt.Sprintf("check endpoint returned status %d: %s", resp.StatusCode, detail), nil, retryable)
	}

	var body checkResponseBody
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, exception.NewDispatchError(moduleName, "failed to decode check response", err, false)
	}

	findings := make([]string, 0, len(body.Errors))
	for _, raw := range body.Errors {
		findings = append(findings, stringifyFinding(raw))
	}
	return &CheckOutcome{
		Triggered: len(findings) > 0,
		Findings:  findings,
	}, nil
}

// readErrorBody drains a bounded prefix of an error response for diagnostics.
func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, maxErrorBodyBytes))
	if err != nil {
		return "<unreadable body>"
	}
	return strings.TrimSpace(string(data))
}

// stringifyFinding renders one `errors` entry as text. String entries are
// unquoted; anything else is carried as compact JSON.
func stringifyFinding(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// --- Check endpoint wire types ---

type checkRequestBody struct {
	Messages   []model.TraceMessage  `json:"messages"`
	Policy     string                `json:"policy"`
	Parameters model.CheckParameters `json:"parameters,omitempty"`
}

type checkResponseBody struct {
	Errors []json.RawMessage `json:"errors"`
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
