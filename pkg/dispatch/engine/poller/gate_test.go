package poller_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/tracelens/dispatch/pkg/dispatch/engine/poller"
)

func TestPollGate_DebouncesWithinInterval(t *testing.T) {
	gate := poller.NewPollGate(50 * time.Millisecond)

	assert.True(t, gate.TryPass())
	assert.False(t, gate.TryPass())

	time.Sleep(60 * time.Millisecond)
	assert.True(t, gate.TryPass())
}

func TestPollGate_Reset(t *testing.T) {
	gate := poller.NewPollGate(time.Hour)

	assert.True(t, gate.TryPass())
	assert.False(t, gate.TryPass())

	gate.Reset()
	assert.True(t, gate.TryPass())
}

func TestPollGate_NonPositiveIntervalDefaultsToOneSecond(t *testing.T) {
	gate := poller.NewPollGate(0)

	assert.True(t, gate.TryPass())
	assert.False(t, gate.TryPass())
}
