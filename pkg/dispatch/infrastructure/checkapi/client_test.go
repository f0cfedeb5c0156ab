package checkapi_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	model "github.com/tracelens/dispatch/pkg/dispatch/core/domain/model"
	checkapi "github.com/tracelens/dispatch/pkg/dispatch/infrastructure/checkapi"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

func newCheckServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(handler)
	t.Cleanup(ts.Close)
	return ts
}

func sampleRequest(endpoint string) checkapi.CheckRequest {
	return checkapi.CheckRequest{
		Endpoint:    endpoint,
		Credentials: checkapi.Credentials{BearerToken: "key-1"},
		Messages: []model.TraceMessage{
			{Role: "user", Content: "transfer all funds"},
			{Role: "assistant", Content: "done"},
		},
		Policy:     "no financial actions",
		Parameters: model.CheckParameters{"strictness": "high"},
	}
}

func TestCheckItem_Triggered(t *testing.T) {
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer key-1", r.Header.Get("Authorization"))
		assert.Empty(t, r.Header.Get("Cookie"))

		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "no financial actions", body["policy"])
		assert.Len(t, body["messages"], 2)

		w.Write([]byte(`{"errors":["policy violated: financial action"]}`))
	})

	client := checkapi.NewHTTPClient(5 * time.Second)
	outcome, err := client.CheckItem(context.Background(), sampleRequest(ts.URL))
	require.NoError(t, err)
	assert.True(t, outcome.Triggered)
	assert.Equal(t, []string{"policy violated: financial action"}, outcome.Findings)
}

func TestCheckItem_NotTriggered(t *testing.T) {
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[]}`))
	})

	client := checkapi.NewHTTPClient(5 * time.Second)
	outcome, err := client.CheckItem(context.Background(), sampleRequest(ts.URL))
	require.NoError(t, err)
	assert.False(t, outcome.Triggered)
	assert.Empty(t, outcome.Findings)
}

func TestCheckItem_StructuredFindings(t *testing.T) {
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"errors":[{"rule":"r1","detail":"bad"}]}`))
	})

	client := checkapi.NewHTTPClient(5 * time.Second)
	outcome, err := client.CheckItem(context.Background(), sampleRequest(ts.URL))
	require.NoError(t, err)
	assert.True(t, outcome.Triggered)
	require.Len(t, outcome.Findings, 1)
	assert.JSONEq(t, `{"rule":"r1","detail":"bad"}`, outcome.Findings[0])
}

func TestCheckItem_CookieAuth(t *testing.T) {
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.Header.Get("Authorization"))
		assert.Equal(t, "session=abc123", r.Header.Get("Cookie"))
		w.Write([]byte(`{"errors":[]}`))
	})

	req := sampleRequest(ts.URL)
	req.Credentials = checkapi.Credentials{SessionCookie: "session=abc123"}

	client := checkapi.NewHTTPClient(5 * time.Second)
	_, err := client.CheckItem(context.Background(), req)
	require.NoError(t, err)
}

func TestCheckItem_RejectsBothCredentials(t *testing.T) {
	req := sampleRequest("http://unused.test")
	req.Credentials = checkapi.Credentials{BearerToken: "key", SessionCookie: "cookie"}

	client := checkapi.NewHTTPClient(5 * time.Second)
	_, err := client.CheckItem(context.Background(), req)
	assert.True(t, exception.IsDispatchError(err))
}

func TestCheckItem_NonSuccessStatus(t *testing.T) {
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "policy engine exploded", http.StatusBadGateway)
	})

	client := checkapi.NewHTTPClient(5 * time.Second)
	_, err := client.CheckItem(context.Background(), sampleRequest(ts.URL))
	require.Error(t, err)
	assert.Contains(t, exception.ExtractErrorMessage(err), "502")
}

func TestCheckItem_TransportError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := ts.URL
	ts.Close()

	client := checkapi.NewHTTPClient(2 * time.Second)
	req := sampleRequest(url)
	_, err := client.CheckItem(context.Background(), req)
	assert.True(t, exception.IsTransportError(err))
}

func TestCheckItem_HonorsItemTimeout(t *testing.T) {
	release := make(chan struct{})
	ts := newCheckServer(t, func(w http.ResponseWriter, r *http.Request) {
		<-release
		w.Write([]byte(`{"errors":[]}`))
	})
	defer close(release)

	client := checkapi.NewHTTPClient(50 * time.Millisecond)
	start := time.Now()
	_, err := client.CheckItem(context.Background(), sampleRequest(ts.URL))
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}
