package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestManagerStartStop(t *testing.T) {
	m := NewManager(New(&fakeStore{}, &fakeCharger{}, nil, Config{}), 10*time.Millisecond, 10*time.Millisecond)

	assert.False(t, m.IsRunning())

	m.Start()
	assert.True(t, m.IsRunning())
	// Starting twice is a no-op, not a second set of workers.
	m.Start()

	time.Sleep(30 * time.Millisecond)

	m.Stop()
	assert.False(t, m.IsRunning())
	// Stopping twice is safe too.
	m.Stop()
}

func TestManagerRestart(t *testing.T) {
	m := NewManager(New(&fakeStore{}, &fakeCharger{}, nil, Config{}), 10*time.Millisecond, 10*time.Millisecond)

	m.Start()
	m.Stop()
	m.Start()
	assert.True(t, m.IsRunning())
	m.Stop()
}

func TestManagerDefaultsIntervals(t *testing.T) {
	m := NewManager(New(&fakeStore{}, &fakeCharger{}, nil, Config{}), 0, 0)
	assert.Equal(t, 15*time.Minute, m.chargeInterval)
	assert.Equal(t, time.Hour, m.sweepInterval)
	assert.Equal(t, DefaultNotifyPendingAfter, m.pendingAfter)
}
