package mind

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/budget"
)

// fakeChatter returns a canned reply for every call.
type fakeChatter struct {
	reply string
	calls int
}

func (f *fakeChatter) Chat(ctx context.Context, priority budget.Priority, system, user string) string {
	f.calls++
	return f.reply
}

func newTestStrategy(t *testing.T, llm Chatter) *Strategy {
	t.Helper()
	dir := t.TempDir()
	s := NewStrategy(filepath.Join(dir, "strategy.json"), filepath.Join(dir, "goal_state.json"), nil, llm)
	require.NoError(t, s.Load())
	return s
}

func TestSelectGoalParsesEmbeddedJSON(t *testing.T) {
	llm := &fakeChatter{reply: `Here is my choice:
{"text": "Read the new files", "reasoning": "fresh activity", "action_type": "analyze", "risk_level": "medium"}
Good luck.`}
	s := newTestStrategy(t, llm)

	goal := s.SelectGoal(context.Background(), "monologue", "situation", 7)
	assert.Equal(t, "Read the new files", goal.Text)
	assert.Equal(t, ActionAnalyze, goal.ActionType)
	assert.Equal(t, RiskMedium, goal.RiskLevel)
	assert.Equal(t, int64(7), goal.StartTick)
	assert.Equal(t, GoalActive, goal.Status)
}

func TestSelectGoalInvalidFallsBackToObserve(t *testing.T) {
	cases := []string{
		"",
		"no json here at all",
		`{"text": "x", "action_type": "destroy", "risk_level": "low"}`,
		`{"text": "", "action_type": "observe", "risk_level": "low"}`,
		`{"text": "x", "action_type": "observe", "risk_level": "extreme"}`,
		`{"broken": `,
	}
	for _, reply := range cases {
		s := newTestStrategy(t, &fakeChatter{reply: reply})
		goal := s.SelectGoal(context.Background(), "m", "s", 1)
		assert.Equal(t, ActionObserve, goal.ActionType, reply)
		assert.Equal(t, RiskLow, goal.RiskLevel, reply)
	}
}

func TestShellCommandDroppedForNonShellGoal(t *testing.T) {
	s := newTestStrategy(t, &fakeChatter{
		reply: `{"text": "x", "action_type": "observe", "risk_level": "low", "shell_command": "ls"}`,
	})
	goal := s.SelectGoal(context.Background(), "m", "s", 1)
	assert.Empty(t, goal.ShellCommand)
}

func TestCompleteGoalCountsOnlyExplicitCompletion(t *testing.T) {
	s := newTestStrategy(t, &fakeChatter{reply: ""})

	s.SelectGoal(context.Background(), "m", "s", 1)
	s.CompleteGoal()
	assert.Equal(t, 1, s.Snapshot().GoalsCompleted)

	// Completing again without a new active goal does not double count.
	s.CompleteGoal()
	assert.Equal(t, 1, s.Snapshot().GoalsCompleted)

	// An interrupted goal never counts.
	s.SelectGoal(context.Background(), "m", "s", 2)
	s.InterruptGoal()
	assert.Equal(t, 1, s.Snapshot().GoalsCompleted)
	assert.Equal(t, GoalInterrupted, s.ActiveGoal().Status)
}

func TestGoalSurvivesReload(t *testing.T) {
	dir := t.TempDir()
	statePath := filepath.Join(dir, "strategy.json")
	goalPath := filepath.Join(dir, "goal_state.json")

	s := NewStrategy(statePath, goalPath, nil, &fakeChatter{
		reply: `{"text": "persisted goal", "action_type": "write", "risk_level": "low"}`,
	})
	require.NoError(t, s.Load())
	s.SelectGoal(context.Background(), "m", "s", 3)
	s.InterruptGoal()

	reloaded := NewStrategy(statePath, goalPath, nil, &fakeChatter{})
	require.NoError(t, reloaded.Load())
	g := reloaded.ActiveGoal()
	require.NotNil(t, g)
	assert.Equal(t, "persisted goal", g.Text)
	assert.Equal(t, GoalInterrupted, g.Status)
}

func TestNeedsRefresh(t *testing.T) {
	s := newTestStrategy(t, &fakeChatter{reply: ""})
	assert.True(t, s.NeedsRefresh(time.Hour))

	s.Refresh(context.Background(), "situation")
	assert.False(t, s.NeedsRefresh(time.Hour))

	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	assert.True(t, s.NeedsRefresh(time.Hour))
}

func TestRefreshAppliesVector(t *testing.T) {
	s := newTestStrategy(t, &fakeChatter{
		reply: `{"exploration": 0.9, "maintenance": 0.1, "unknown_axis": 0.5}`,
	})
	s.Refresh(context.Background(), "situation")

	vec := s.Snapshot().Vector
	assert.Equal(t, 0.9, vec["exploration"])
	assert.Equal(t, 0.1, vec["maintenance"])
	assert.NotContains(t, vec, "unknown_axis")
}

func TestExtractFirstJSONObject(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a": 1}`, `{"a": 1}`},
		{`prefix {"a": {"b": 2}} suffix`, `{"a": {"b": 2}}`},
		{`{"s": "with } brace"} trailing`, `{"s": "with } brace"}`},
		{`{"s": "escaped \" and }"} rest`, `{"s": "escaped \" and }"}`},
		{`no object`, ""},
		{`{"unterminated": `, ""},
		{`first {"a": 1} second {"b": 2}`, `{"a": 1}`},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, extractFirstJSONObject(tc.in), tc.in)
	}
}
