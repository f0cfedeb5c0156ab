package policycheck_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracelens/dispatch/pkg/dispatch/engine/policycheck"
	"github.com/tracelens/dispatch/pkg/dispatch/infrastructure/repository/inmemory"
	"github.com/tracelens/dispatch/pkg/dispatch/support/util/exception"
)

func TestStreamCheck_EmitsInCompletionOrder(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(3)
	client := newFakeCheckClient()
	client.blocks["item-1"] = make(chan struct{})
	client.blocks["item-2"] = make(chan struct{})
	client.blocks["item-3"] = make(chan struct{})
	client.triggered["item-3"] = true

	m := newTestManager(t, repo, traces, client, &captureArchiver{})

	stream, err := m.StreamCheck(context.Background(), "scope-1", defaultRequest(), 3)
	require.NoError(t, err)

	// Releasing the gates one by one fixes the completion order regardless of
	// the order the requests were issued in.
	close(client.blocks["item-3"])
	first := <-stream
	assert.Equal(t, "item-3", first.ItemID)
	assert.True(t, first.Triggered)
	assert.Equal(t, []string{"policy violated"}, first.Findings)

	close(client.blocks["item-1"])
	second := <-stream
	assert.Equal(t, "item-1", second.ItemID)
	assert.False(t, second.Triggered)

	close(client.blocks["item-2"])
	third := <-stream
	assert.Equal(t, "item-2", third.ItemID)

	_, open := <-stream
	assert.False(t, open, "the stream closes once every item has finished")
}

func TestStreamCheck_BoundsConcurrency(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(10)
	client := newFakeCheckClient()
	client.release = make(chan struct{})

	m := newTestManager(t, repo, traces, client, &captureArchiver{})

	stream, err := m.StreamCheck(context.Background(), "scope-1", defaultRequest(), 3)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.currentInFlight() == 3 },
		2*time.Second, 5*time.Millisecond)

	close(client.release)
	results := make([]policycheck.StreamResult, 0, 10)
	for res := range stream {
		results = append(results, res)
	}

	assert.Len(t, results, 10)
	assert.Equal(t, 3, client.peakInFlight(), "the semaphore caps concurrent requests")

	ids := make([]string, 0, len(results))
	for _, res := range results {
		ids = append(ids, res.ItemID)
	}
	want := make([]string, 0, 10)
	for _, item := range makeItems(10) {
		want = append(want, item.ID)
	}
	assert.ElementsMatch(t, want, ids)
}

func TestStreamCheck_DefaultConcurrencyFromConfig(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(8)
	client := newFakeCheckClient()
	client.release = make(chan struct{})

	m := newTestManager(t, repo, traces, client, &captureArchiver{})

	stream, err := m.StreamCheck(context.Background(), "scope-1", defaultRequest(), 0)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.currentInFlight() == 5 },
		2*time.Second, 5*time.Millisecond)

	close(client.release)
	count := 0
	for range stream {
		count++
	}
	assert.Equal(t, 8, count)
	assert.Equal(t, 5, client.peakInFlight())
}

func TestStreamCheck_ItemErrorsAreEmittedNotFatal(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(3)
	client := newFakeCheckClient()
	client.errs["item-2"] = exception.NewTransportError("fake_check", "connection reset", nil)

	m := newTestManager(t, repo, traces, client, &captureArchiver{})

	stream, err := m.StreamCheck(context.Background(), "scope-1", defaultRequest(), 3)
	require.NoError(t, err)

	byID := make(map[string]policycheck.StreamResult, 3)
	for res := range stream {
		byID[res.ItemID] = res
	}

	require.Len(t, byID, 3, "a failing item does not stop the stream")
	require.Error(t, byID["item-2"].Err)
	assert.Contains(t, byID["item-2"].Err.Error(), "connection reset")
	assert.NoError(t, byID["item-1"].Err)
	assert.NoError(t, byID["item-3"].Err)
}

func TestStreamCheck_ConsumerDisconnectStopsIssuance(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["scope-1"] = makeItems(10)
	client := newFakeCheckClient()
	client.release = make(chan struct{})

	m := newTestManager(t, repo, traces, client, &captureArchiver{})

	ctx, cancel := context.WithCancel(context.Background())
	stream, err := m.StreamCheck(ctx, "scope-1", defaultRequest(), 2)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return client.currentInFlight() == 2 },
		2*time.Second, 5*time.Millisecond)

	cancel()
	close(client.release)

	emitted := 0
	for range stream {
		emitted++
	}

	assert.Zero(t, emitted, "outcomes completing after the disconnect are discarded")
	assert.LessOrEqual(t, client.callCount(), 3, "no new items are issued once the consumer is gone")
}

func TestStreamCheck_EmptyScope(t *testing.T) {
	repo := inmemory.NewInMemoryJobRepository()
	traces := newFakeTraceSource()
	traces.items["empty-scope"] = nil

	m := newTestManager(t, repo, traces, newFakeCheckClient(), &captureArchiver{})

	stream, err := m.StreamCheck(context.Background(), "empty-scope", defaultRequest(), 2)
	assert.Nil(t, stream)
	assert.True(t, exception.IsEmptyScope(err))

	stream, err = m.StreamCheck(context.Background(), "no-such-scope", defaultRequest(), 2)
	assert.Nil(t, stream)
	assert.True(t, exception.IsEmptyScope(err))
}
