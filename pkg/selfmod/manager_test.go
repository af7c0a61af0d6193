package selfmod

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/config"
)

func newTestManager(t *testing.T) (*Manager, *config.Runtime) {
	t.Helper()
	cfg := &config.Config{
		Dream:      config.DefaultDreamConfig(),
		Reflection: config.DefaultReflectionConfig(),
		Narrative:  config.DefaultNarrativeConfig(),
		Curiosity:  config.DefaultCuriosityConfig(),
		Attention:  config.DefaultAttentionConfig(),
	}
	rt := config.NewRuntime(cfg)
	m := New(filepath.Join(t.TempDir(), "modifications.json"), rt)
	require.NoError(t, m.Load())
	return m, rt
}

func TestProposeValidation(t *testing.T) {
	m, _ := newTestManager(t)

	_, err := m.Propose("ollama.base_url", 1, "not whitelisted")
	assert.ErrorIs(t, err, config.ErrUnknownKey)

	_, err = m.Propose(config.KeyDreamIntervalHours, 500, "out of bounds")
	assert.ErrorIs(t, err, config.ErrValueOutOfBounds)

	_, err = m.Propose(config.KeyDreamIntervalHours, 6, "same value")
	assert.ErrorContains(t, err, "no-op")

	p, err := m.Propose(config.KeyDreamIntervalHours, 12, "dream less often")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, 6.0, p.OldValue)
	assert.Equal(t, 12.0, p.NewValue)

	// One open proposal per key.
	_, err = m.Propose(config.KeyDreamIntervalHours, 24, "again")
	assert.ErrorContains(t, err, "open proposal")
}

func TestApproveAppliesAndVerifies(t *testing.T) {
	m, rt := newTestManager(t)
	p, err := m.Propose(config.KeyAttentionTopK, 20, "widen context")
	require.NoError(t, err)

	require.NoError(t, m.Approve(p.ID, 0.1, true))
	got, err := rt.Get(config.KeyAttentionTopK)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)
	assert.True(t, m.Monitoring())

	// Ten clean cycles verify the change.
	for i := 0; i < monitorTicks; i++ {
		m.ObserveCycle(false, true)
	}
	assert.False(t, m.Monitoring())

	final, ok := m.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusVerified, final.Status)
	assert.Contains(t, final.Verification, "verified")
}

func TestDegradedWindowRollsBack(t *testing.T) {
	m, rt := newTestManager(t)
	p, err := m.Propose(config.KeyAttentionMinScore, 0.8, "focus harder")
	require.NoError(t, err)
	require.NoError(t, m.Approve(p.ID, 0.0, true))

	// Half the window errors: 0.5 > baseline 0.0 + slack 0.2.
	for i := 0; i < monitorTicks; i++ {
		m.ObserveCycle(i%2 == 0, true)
	}

	final, _ := m.Get(p.ID)
	assert.Equal(t, StatusRolledBack, final.Status)
	assert.Contains(t, final.Verification, "rolled back")

	got, err := rt.Get(config.KeyAttentionMinScore)
	require.NoError(t, err)
	assert.Equal(t, 0.3, got)
}

func TestUnhealthyWindowRollsBack(t *testing.T) {
	m, rt := newTestManager(t)
	p, err := m.Propose(config.KeyNarrativeEveryNTicks, 40, "write less")
	require.NoError(t, err)
	require.NoError(t, m.Approve(p.ID, 0.0, true))

	m.ObserveCycle(false, false) // one unhealthy cycle taints the window
	for i := 1; i < monitorTicks; i++ {
		m.ObserveCycle(false, true)
	}

	final, _ := m.Get(p.ID)
	assert.Equal(t, StatusRolledBack, final.Status)

	got, err := rt.Get(config.KeyNarrativeEveryNTicks)
	require.NoError(t, err)
	assert.Equal(t, 20.0, got)
}

func TestRejectAndDoubleDecide(t *testing.T) {
	m, _ := newTestManager(t)
	p, err := m.Propose(config.KeyCuriosityAskEveryNTicks, 14, "ask less")
	require.NoError(t, err)

	require.NoError(t, m.Reject(p.ID))
	final, _ := m.Get(p.ID)
	assert.Equal(t, StatusRejected, final.Status)

	assert.ErrorIs(t, m.Reject(p.ID), ErrAlreadyDecided)
	assert.ErrorIs(t, m.Approve(p.ID, 0, true), ErrAlreadyDecided)
	assert.ErrorIs(t, m.Approve("no-such-id", 0, true), ErrNotFound)
}

func TestSingleMonitoringWindow(t *testing.T) {
	m, _ := newTestManager(t)
	p1, err := m.Propose(config.KeyAttentionTopK, 20, "a")
	require.NoError(t, err)
	p2, err := m.Propose(config.KeyDreamIntervalHours, 12, "b")
	require.NoError(t, err)

	require.NoError(t, m.Approve(p1.ID, 0, true))
	assert.ErrorIs(t, m.Approve(p2.ID, 0, true), ErrWindowOpen)
}

func TestProposalsSurviveReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "modifications.json")
	cfg := &config.Config{
		Dream:      config.DefaultDreamConfig(),
		Reflection: config.DefaultReflectionConfig(),
		Narrative:  config.DefaultNarrativeConfig(),
		Curiosity:  config.DefaultCuriosityConfig(),
		Attention:  config.DefaultAttentionConfig(),
	}
	rt := config.NewRuntime(cfg)

	m := New(path, rt)
	require.NoError(t, m.Load())
	p, err := m.Propose(config.KeyAttentionTopK, 20, "persisted")
	require.NoError(t, err)

	reloaded := New(path, rt)
	require.NoError(t, reloaded.Load())
	got, ok := reloaded.Get(p.ID)
	require.True(t, ok)
	assert.Equal(t, StatusPending, got.Status)
	assert.Equal(t, "persisted", got.Reason)
}
