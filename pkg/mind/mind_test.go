package mind

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
)

func TestValuesUpdateByOutcome(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var published []bus.Event
	b.Subscribe(bus.TopicValueChanged, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		published = append(published, ev)
		mu.Unlock()
	})

	v := NewValues(filepath.Join(t.TempDir(), "values.json"), b)
	require.NoError(t, v.Load())
	before := v.Snapshot()

	v.UpdateByOutcome(ActionAnalyze, true)
	after := v.Snapshot()
	assert.Equal(t, before["curiosity"]+0.01, after["curiosity"])
	assert.Equal(t, before["growth"]+0.01, after["growth"])
	assert.Equal(t, before["stability"], after["stability"])

	v.UpdateByOutcome(ActionAnalyze, false)
	assert.Equal(t, before["curiosity"]+0.005, v.Snapshot()["curiosity"])

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, published, 2)
	assert.Equal(t, "outcome", published[0].Payload["mode"])
	assert.Equal(t, ActionAnalyze, published[0].Payload["context"])
}

func TestValuesClampAtBounds(t *testing.T) {
	v := NewValues(filepath.Join(t.TempDir(), "values.json"), nil)
	require.NoError(t, v.Load())
	for i := 0; i < 100; i++ {
		v.UpdateByOutcome(ActionAnalyze, true)
	}
	assert.Equal(t, 1.0, v.Snapshot()["curiosity"])
}

func TestEmotionsOutcomeAndDecay(t *testing.T) {
	e := NewEmotions(filepath.Join(t.TempDir(), "emotions.json"))
	require.NoError(t, e.Load())

	e.ApplyOutcome(true)
	snap := e.Snapshot()
	assert.Equal(t, 0.05, snap.Valence)
	assert.Equal(t, 0.3, snap.Intensities["joy"])

	e.ApplyOutcome(false)
	snap = e.Snapshot()
	assert.InDelta(t, -0.02, snap.Valence, 1e-9)
	assert.Equal(t, 0.1, snap.Intensities["frustration"])

	for i := 0; i < 50; i++ {
		e.Decay()
	}
	snap = e.Snapshot()
	assert.InDelta(t, 0, snap.Valence, 0.01)
	assert.Equal(t, "neutral", snap.Mood)
}

func TestMoodLabels(t *testing.T) {
	assert.Equal(t, "excited", moodLabel(0.5, 0.8))
	assert.Equal(t, "content", moodLabel(0.5, 0.2))
	assert.Equal(t, "agitated", moodLabel(-0.5, 0.8))
	assert.Equal(t, "gloomy", moodLabel(-0.5, 0.2))
	assert.Equal(t, "neutral", moodLabel(0.0, 0.5))
}

func episodeAt(eventType, outcome string, age time.Duration) episodic.Episode {
	ts := time.Now().Add(-age)
	return episodic.Episode{
		Timestamp:   float64(ts.UnixNano()) / float64(time.Second),
		EventType:   eventType,
		Description: "d",
		Outcome:     outcome,
	}
}

// testRuntime wraps just the runtime-mutable sections the mind components
// read through the runtime view.
func testRuntime(attn *config.AttentionConfig, cur *config.CuriosityConfig) *config.Runtime {
	return config.NewRuntime(&config.Config{Attention: attn, Curiosity: cur})
}

func TestAttentionSelectOrdersAndBounds(t *testing.T) {
	a := NewAttention(testRuntime(&config.AttentionConfig{MinScore: 0.3, TopK: 2}, nil))

	episodes := []episodic.Episode{
		episodeAt("post_action", episodic.OutcomeSuccess, time.Minute),
		episodeAt("user.message", episodic.OutcomeUnknown, time.Minute),
		episodeAt("error", episodic.OutcomeFailure, time.Minute),
		episodeAt("post_action", episodic.OutcomeSuccess, 30*24*time.Hour), // scores ~0
	}

	selected := a.Select(episodes)
	require.Len(t, selected, 2)
	assert.Equal(t, "error", selected[0].Episode.EventType)
	assert.Equal(t, "user.message", selected[1].Episode.EventType)
}

func TestAttentionMinScoreFiltersEverything(t *testing.T) {
	a := NewAttention(testRuntime(&config.AttentionConfig{MinScore: 0.99, TopK: 10}, nil))
	episodes := []episodic.Episode{episodeAt("post_action", episodic.OutcomeSuccess, time.Hour)}
	assert.Empty(t, a.Select(episodes))
}

func TestAttentionFollowsRuntimeChange(t *testing.T) {
	rt := testRuntime(&config.AttentionConfig{MinScore: 0.01, TopK: 3}, nil)
	a := NewAttention(rt)

	episodes := []episodic.Episode{
		episodeAt("error", episodic.OutcomeFailure, time.Minute),
		episodeAt("user.message", episodic.OutcomeUnknown, time.Minute),
		episodeAt("post_action", episodic.OutcomeSuccess, time.Minute),
	}
	require.Len(t, a.Select(episodes), 3)

	// An approved modification shrinks top_k; the next selection honors it.
	_, err := rt.Set(config.KeyAttentionTopK, 1)
	require.NoError(t, err)
	selected := a.Select(episodes)
	require.Len(t, selected, 1)
	assert.Equal(t, "error", selected[0].Episode.EventType)

	_, err = rt.Set(config.KeyAttentionMinScore, 0.99)
	require.NoError(t, err)
	assert.Empty(t, a.Select(episodes))
}

func TestCuriosityCapDropsOldestOpen(t *testing.T) {
	c := NewCuriosity(filepath.Join(t.TempDir(), "curiosity.json"),
		testRuntime(nil, &config.CuriosityConfig{AskEveryNTicks: 1, MaxOpenQuestions: 2}),
		&fakeChatter{reply: ""})
	require.NoError(t, c.Load())

	first := c.Ask(context.Background(), 1, "s")
	c.Ask(context.Background(), 2, "s")
	c.Ask(context.Background(), 3, "s")

	snap := c.Snapshot()
	assert.Equal(t, 2, snap.Open)
	for _, q := range snap.Questions {
		assert.NotEqual(t, first.ID, q.ID)
	}
	// The degraded backend produced the template question.
	assert.Contains(t, snap.Questions[0].Text, "What changed around me")
}

func TestCuriosityAnswerOldest(t *testing.T) {
	c := NewCuriosity(filepath.Join(t.TempDir(), "curiosity.json"),
		testRuntime(nil, &config.CuriosityConfig{AskEveryNTicks: 1, MaxOpenQuestions: 5}),
		&fakeChatter{reply: "an answer"})
	require.NoError(t, c.Load())

	assert.False(t, c.AnswerOldest(context.Background(), 1, "s"))

	c.Ask(context.Background(), 1, "s")
	assert.True(t, c.AnswerOldest(context.Background(), 2, "s"))

	snap := c.Snapshot()
	assert.Equal(t, 0, snap.Open)
	assert.Equal(t, 1, snap.Answered)
	assert.Equal(t, "an answer", snap.Questions[0].Answer)
}

func TestSelfModelPrincipleDedupe(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	added := 0
	b.Subscribe(bus.TopicPrincipleAdded, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		added++
		mu.Unlock()
	})

	m := NewSelfModel(filepath.Join(t.TempDir(), "self_model.json"), b)
	require.NoError(t, m.Load())

	assert.True(t, m.AddPrinciple("verify before acting", "reflection"))
	assert.False(t, m.AddPrinciple("verify before acting", "reflection"))
	assert.False(t, m.AddPrinciple("", "reflection"))

	snap := m.Snapshot()
	assert.Len(t, snap.Principles, 1)
	assert.Equal(t, 2, snap.Version)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, added)
}

func TestSelfModelSkillLevels(t *testing.T) {
	m := NewSelfModel(filepath.Join(t.TempDir(), "self_model.json"), nil)
	require.NoError(t, m.Load())

	m.RecordSkill(ActionShell, true)
	m.RecordSkill(ActionShell, true)
	m.RecordSkill(ActionShell, false)

	stat := m.Snapshot().Skills[ActionShell]
	assert.Equal(t, 3, stat.Attempts)
	assert.Equal(t, 2, stat.Successes)
	assert.Equal(t, 0.667, stat.Level)
}

func TestSelfModelDriftDetection(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	drifts := 0
	b.Subscribe(bus.TopicDriftDetected, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		drifts++
		mu.Unlock()
	})

	m := NewSelfModel(filepath.Join(t.TempDir(), "self_model.json"), b)
	require.NoError(t, m.Load())

	// First call records the baseline.
	assert.False(t, m.DetectDrift())

	for i := 0; i < driftThreshold; i++ {
		m.AddPrinciple(string(rune('a'+i))+" principle", "test")
	}
	assert.True(t, m.DetectDrift())

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, drifts)
}

func TestTimePerceptionPatterns(t *testing.T) {
	tp := NewTimePerception(10 * time.Second)
	assert.Equal(t, "warming up", tp.Snapshot().Pattern)

	base := time.Now()
	for i := 0; i < 5; i++ {
		tp.RecordTick(base.Add(time.Duration(i) * 10 * time.Second))
	}
	snap := tp.Snapshot()
	assert.Equal(t, "steady", snap.Pattern)
	assert.InDelta(t, 1.0, snap.DriftRatio, 0.01)

	slow := NewTimePerception(10 * time.Second)
	for i := 0; i < 5; i++ {
		slow.RecordTick(base.Add(time.Duration(i) * 20 * time.Second))
	}
	assert.Equal(t, "slowing", slow.Snapshot().Pattern)
}

func TestMetaCognitionAnalyze(t *testing.T) {
	m := NewMetaCognition()
	assert.Contains(t, m.Context(), "no decisions")

	data := `{"action": "observe"}`
	episodes := []episodic.Episode{
		{EventType: "post_action", Outcome: episodic.OutcomeSuccess, Data: &data},
		{EventType: "post_action", Outcome: episodic.OutcomeSuccess, Data: &data},
		{EventType: "post_action", Outcome: episodic.OutcomeFailure},
	}

	snap := m.Analyze(episodes)
	assert.Equal(t, 3, snap.DecisionsAnalyzed)
	assert.InDelta(t, 0.667, snap.SuccessRate, 0.01)
	assert.Equal(t, "observe", snap.DominantAction)
	assert.Equal(t, snap, m.Snapshot())
}

func TestNarrativeWritesDiaryAndLog(t *testing.T) {
	dir := t.TempDir()
	b := bus.New()
	var mu sync.Mutex
	written := 0
	b.Subscribe(bus.TopicNarrativeWritten, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		written++
		mu.Unlock()
	})

	n := NewNarrative(filepath.Join(dir, "diary.md"), filepath.Join(dir, "narrative_log.json"), b, &fakeChatter{reply: "Today I watched the files settle."})
	require.NoError(t, n.Load())
	require.NoError(t, n.WriteEntry(context.Background(), 42, "content", "situation"))

	diary, err := os.ReadFile(filepath.Join(dir, "diary.md"))
	require.NoError(t, err)
	assert.Contains(t, string(diary), "(tick 42)")
	assert.Contains(t, string(diary), "Today I watched the files settle.")

	entries := n.Entries(10)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(42), entries[0].Tick)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, written)
}

func TestNarrativeDegradedTemplate(t *testing.T) {
	dir := t.TempDir()
	n := NewNarrative(filepath.Join(dir, "diary.md"), filepath.Join(dir, "narrative_log.json"), nil, &fakeChatter{reply: ""})
	require.NoError(t, n.Load())
	require.NoError(t, n.WriteEntry(context.Background(), 7, "gloomy", "s"))
	assert.Contains(t, n.Entries(1)[0].Text, "gloomy mood")
}

func TestMilestonesAchievedOnce(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var names []string
	b.Subscribe(bus.TopicMilestoneAchieved, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		names = append(names, ev.Payload["name"].(string))
		mu.Unlock()
	})

	path := filepath.Join(t.TempDir(), "milestones.json")
	m := NewMilestones(path, b)
	require.NoError(t, m.Load())

	achieved := m.Check(map[string]int64{"ticks": 1})
	require.Len(t, achieved, 1)
	assert.Equal(t, "first_tick", achieved[0].Name)

	// Already-achieved milestones do not fire again, even after reload.
	assert.Empty(t, m.Check(map[string]int64{"ticks": 5}))

	reloaded := NewMilestones(path, b)
	require.NoError(t, reloaded.Load())
	assert.Empty(t, reloaded.Check(map[string]int64{"ticks": 5}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"first_tick"}, names)
}

func TestMindNewLoadsEveryComponent(t *testing.T) {
	cfg := &config.Config{
		Ticks:     config.DefaultTicksConfig(),
		Attention: config.DefaultAttentionConfig(),
		Curiosity: config.DefaultCuriosityConfig(),
	}
	m, err := New(t.TempDir(), cfg, config.NewRuntime(cfg), bus.New(), &fakeChatter{})
	require.NoError(t, err)
	assert.NotNil(t, m.Values)
	assert.NotNil(t, m.Strategy)
	assert.NotNil(t, m.Milestones)
}
