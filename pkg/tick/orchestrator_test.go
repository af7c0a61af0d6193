package tick

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/fallback"
	"github.com/anima-runtime/anima/pkg/metrics"
	"github.com/anima-runtime/anima/pkg/mind"
	"github.com/anima-runtime/anima/pkg/selfmod"
	"github.com/anima-runtime/anima/pkg/shell"
	"github.com/anima-runtime/anima/pkg/social"
	"github.com/anima-runtime/anima/pkg/vector"
	"github.com/anima-runtime/anima/pkg/world"
)

const testEmbeddingDim = 8

// fakeGateway answers every chat with a valid goal JSON object, which also
// serves as monologue text. Setting degraded makes every call return empty.
type fakeGateway struct {
	degraded atomic.Bool
	calls    atomic.Int64
}

func (g *fakeGateway) Chat(ctx context.Context, pri budget.Priority, system, user string) string {
	g.calls.Add(1)
	if g.degraded.Load() {
		return ""
	}
	return `{"text":"Look around the workspace","reasoning":"quiet period","action_type":"observe","risk_level":"low"}`
}

func (g *fakeGateway) Embed(ctx context.Context, pri budget.Priority, text string) []float32 {
	g.calls.Add(1)
	if g.degraded.Load() {
		return nil
	}
	emb := make([]float32, testEmbeddingDim)
	emb[0] = 1
	return emb
}

func (g *fakeGateway) ResetTickCounter() {}

func (g *fakeGateway) CallsThisTick() int64 { return g.calls.Load() }

type healthyAlways struct{}

func (healthyAlways) IsHealthy(string) bool { return true }

type orchFixture struct {
	orch     *Orchestrator
	deps     Deps
	gw       *fakeGateway
	dataDir  string
	episodes *episodic.Store
	vectors  *vector.Store
}

func newOrchFixture(t *testing.T) *orchFixture {
	t.Helper()
	dataDir := t.TempDir()

	cfg, err := config.Initialize(context.Background(), t.TempDir())
	require.NoError(t, err)
	cfg.Memory.EmbeddingDim = testEmbeddingDim
	cfg.Shell.AllowedDir = filepath.Join(dataDir, cfg.Paths.SandboxDir)
	require.NoError(t, os.MkdirAll(cfg.Shell.AllowedDir, 0o755))

	memDir := filepath.Join(dataDir, cfg.Memory.Dir)
	episodes, err := episodic.Open(filepath.Join(memDir, "episodic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = episodes.Close() })

	vectors, err := vector.Open(filepath.Join(memDir, "vector.db"), testEmbeddingDim)
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	b := bus.New()
	gw := &fakeGateway{}
	m := metrics.New()

	rt := config.NewRuntime(cfg)

	mnd, err := mind.New(memDir, cfg, rt, b, gw)
	require.NoError(t, err)

	ex, err := shell.New(cfg.Shell, episodes, m)
	require.NoError(t, err)

	sm := selfmod.New(filepath.Join(memDir, "modifications.json"), rt)
	require.NoError(t, sm.Load())

	soc := social.New(filepath.Join(dataDir, cfg.Paths.Outbox), cfg.Social, gw, episodes)
	soc.Register(b)

	deps := Deps{
		Cfg:      cfg,
		Runtime:  rt,
		Bus:      b,
		Gateway:  gw,
		Fallback: fallback.New(),
		Budget:   budget.New(cfg.Budget),
		Episodes: episodes,
		Vectors:  vectors,
		Mind:     mnd,
		World:    world.NewModel(b),
		Shell:    ex,
		SelfMod:  sm,
		Social:   soc,
		Health:   healthyAlways{},
		Metrics:  m,
		DataDir:  dataDir,
	}
	orch, err := New(deps)
	require.NoError(t, err)
	return &orchFixture{orch: orch, deps: deps, gw: gw, dataDir: dataDir, episodes: episodes, vectors: vectors}
}

func TestNormalCycle(t *testing.T) {
	f := newOrchFixture(t)

	res := f.orch.RunCycle(context.Background())

	assert.Equal(t, "success", res.Status)
	assert.Equal(t, int64(1), res.Tick)
	assert.Equal(t, 3, res.CriticalCompleted)
	assert.Zero(t, res.FallbacksUsed)

	// The goal was completed and the action recorded.
	assert.Equal(t, 1, f.deps.Mind.Strategy.Snapshot().GoalsCompleted)
	post := f.episodes.GetByType("post_action", 5, "")
	require.Len(t, post, 1)
	assert.Equal(t, "success", post[0].Outcome)
	require.Len(t, f.episodes.GetByType("monologue", 5, ""), 1)

	// Monologue was embedded into vector memory.
	assert.Equal(t, 1, f.vectors.Count())

	// Logs were written.
	for _, name := range []string{"monologue.log", "decisions.log"} {
		data, err := os.ReadFile(filepath.Join(f.dataDir, f.deps.Cfg.Paths.LogsDir, name))
		require.NoError(t, err, name)
		assert.Contains(t, string(data), "tick 1")
	}
}

func TestDegradedGatewayServesFallbacks(t *testing.T) {
	f := newOrchFixture(t)
	f.deps.Fallback.Set(keyMonologue, "cached-text", time.Hour)
	f.gw.degraded.Store(true)

	res := f.orch.RunCycle(context.Background())

	// The cycle still succeeds: monologue from the cache, goal from the
	// strategy component's built-in fallback, observe needs no model.
	assert.Equal(t, "success", res.Status)
	assert.GreaterOrEqual(t, res.FallbacksUsed, 1)

	data, err := os.ReadFile(filepath.Join(f.dataDir, f.deps.Cfg.Paths.LogsDir, "monologue.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "cached-text")

	// The fallback goal observes, which needs no model, so it completes.
	goal := f.deps.Mind.Strategy.ActiveGoal()
	require.NotNil(t, goal)
	assert.Equal(t, mind.ActionObserve, goal.ActionType)
	assert.Equal(t, mind.RiskLow, goal.RiskLevel)
	assert.Equal(t, mind.GoalCompleted, goal.Status)
	assert.Equal(t, 1, f.deps.Mind.Strategy.Snapshot().GoalsCompleted)
}

func TestTickCounterSurvivesRestart(t *testing.T) {
	f := newOrchFixture(t)
	f.orch.RunCycle(context.Background())
	f.orch.RunCycle(context.Background())
	require.Equal(t, int64(2), f.orch.Tick())

	again, err := New(f.deps)
	require.NoError(t, err)
	assert.Equal(t, int64(2), again.Tick())
}

func TestOptionalCadenceFollowsRuntimeChange(t *testing.T) {
	f := newOrchFixture(t)

	var refl Step
	for _, s := range f.orch.steps {
		if s.Name() == "reflection" {
			refl = s
		}
	}
	require.NotNil(t, refl)

	// Default cadence is every 10 ticks, so tick 2 is not due.
	assert.False(t, refl.Due(2))

	// An approved modification tightens the cadence; the gate honors it
	// on the very next tick without rebuilding the step list.
	_, err := f.deps.Runtime.Set(config.KeyReflectionEveryNTicks, 2)
	require.NoError(t, err)
	assert.True(t, refl.Due(2))
	assert.False(t, refl.Due(3))
}

func TestCriticalStepFailsWithoutAnyFallback(t *testing.T) {
	f := newOrchFixture(t)

	out := f.orch.critical(context.Background(), "no-such-key", func(ctx context.Context) (string, error) {
		return "", fmt.Errorf("llm degraded")
	})

	failed, ok := out.(Failed)
	require.True(t, ok)
	assert.Contains(t, failed.Reason, "degraded")
}

func TestCriticalStepRecoversFromPanic(t *testing.T) {
	f := newOrchFixture(t)
	f.deps.Fallback.Set("panicky", "stale-value", time.Hour)

	out := f.orch.critical(context.Background(), "panicky", func(ctx context.Context) (string, error) {
		panic("boom")
	})

	fb, ok := out.(FallbackUsed)
	require.True(t, ok)
	assert.Equal(t, "stale-value", fb.Value)
	assert.Contains(t, fb.Reason, "panicked")
}

func TestFreshValueRefreshesFallbackCache(t *testing.T) {
	f := newOrchFixture(t)

	out := f.orch.critical(context.Background(), keyMonologue, func(ctx context.Context) (string, error) {
		return "fresh thought", nil
	})
	require.IsType(t, Success{}, out)

	cached, ok := f.deps.Fallback.Get(keyMonologue, nil, false)
	require.True(t, ok)
	assert.Equal(t, "fresh thought", cached)
}

func TestMilestoneAchievedOnFirstTick(t *testing.T) {
	f := newOrchFixture(t)
	f.orch.RunCycle(context.Background())

	for _, ms := range f.deps.Mind.Milestones.Snapshot() {
		if ms.Name == "first_tick" {
			assert.NotEmpty(t, ms.AchievedAt)
			return
		}
	}
	t.Fatal("first_tick milestone missing")
}

func TestGoalInterruptedOnStop(t *testing.T) {
	f := newOrchFixture(t)
	f.orch.Start(context.Background())
	// Give the first cycle time to select a goal.
	require.Eventually(t, func() bool {
		return f.deps.Mind.Strategy.ActiveGoal() != nil || f.deps.Mind.Strategy.Snapshot().GoalsCompleted > 0
	}, 5*time.Second, 10*time.Millisecond)
	f.orch.Stop()

	// Stop either found a completed goal (nothing to interrupt) or marked
	// the active one interrupted; it never leaves one active.
	if g := f.deps.Mind.Strategy.ActiveGoal(); g != nil {
		assert.NotEqual(t, mind.GoalActive, g.Status)
	}
}
