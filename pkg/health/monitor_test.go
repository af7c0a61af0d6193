package health

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnhealthyAfterThresholdFailures(t *testing.T) {
	m := New(5*time.Millisecond, 3)

	var failing atomic.Bool
	failing.Store(true)
	m.Register("ollama", func(ctx context.Context) error {
		if failing.Load() {
			return errors.New("connection refused")
		}
		return nil
	}, 100*time.Millisecond)

	var mu sync.Mutex
	var transitions []bool
	m.AddListener(func(service string, healthy bool, latency time.Duration) {
		mu.Lock()
		transitions = append(transitions, healthy)
		mu.Unlock()
	})

	m.Start(context.Background())
	defer m.Stop()

	// Three consecutive failures flip the service to unhealthy.
	require.Eventually(t, func() bool { return !m.IsHealthy("ollama") },
		time.Second, 5*time.Millisecond)

	st := m.Statuses()["ollama"]
	assert.GreaterOrEqual(t, st.ConsecutiveFailures, 3)
	assert.NotEmpty(t, st.LastError)

	// The first successful probe flips it back.
	failing.Store(false)
	require.Eventually(t, func() bool { return m.IsHealthy("ollama") },
		time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(transitions), 2)
	assert.False(t, transitions[0])
	assert.True(t, transitions[len(transitions)-1])
}

func TestSlowProbeCountsAsFailure(t *testing.T) {
	m := New(5*time.Millisecond, 1)
	m.Register("slow", func(ctx context.Context) error {
		time.Sleep(20 * time.Millisecond)
		return nil
	}, 10*time.Millisecond)

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return !m.IsHealthy("slow") },
		time.Second, 5*time.Millisecond)
	assert.Contains(t, m.Statuses()["slow"].LastError, "latency")
}

func TestProbeTimeoutCountsAsFailure(t *testing.T) {
	m := New(5*time.Millisecond, 1)
	m.Register("stuck", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	}, 5*time.Millisecond)

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return !m.IsHealthy("stuck") },
		time.Second, 5*time.Millisecond)
}

func TestPanickingProbeIsolated(t *testing.T) {
	m := New(5*time.Millisecond, 1)
	m.Register("bad", func(ctx context.Context) error {
		panic("probe exploded")
	}, 50*time.Millisecond)
	m.Register("good", func(ctx context.Context) error {
		return nil
	}, 50*time.Millisecond)

	m.Start(context.Background())
	defer m.Stop()

	require.Eventually(t, func() bool { return !m.IsHealthy("bad") },
		time.Second, 5*time.Millisecond)
	assert.True(t, m.IsHealthy("good"))
}

func TestStopDoesNotLeakLoop(t *testing.T) {
	m := New(time.Millisecond, 3)
	var probes atomic.Int32
	m.Register("svc", func(ctx context.Context) error {
		probes.Add(1)
		return nil
	}, 50*time.Millisecond)

	m.Start(context.Background())
	require.Eventually(t, func() bool { return probes.Load() > 0 }, time.Second, time.Millisecond)

	m.Stop()
	after := probes.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, after, probes.Load())

	// Stop is idempotent and Start can run again.
	m.Stop()
	m.Start(context.Background())
	m.Stop()
}

func TestUnknownServiceReportsUnhealthy(t *testing.T) {
	m := New(time.Second, 3)
	assert.False(t, m.IsHealthy("never-registered"))
}
