package mind

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Action types a goal may carry.
const (
	ActionObserve = "observe"
	ActionAnalyze = "analyze"
	ActionWrite   = "write"
	ActionReflect = "reflect"
	ActionShell   = "shell"
)

// Risk levels a goal may carry.
const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

// Goal statuses.
const (
	GoalActive      = "active"
	GoalCompleted   = "completed"
	GoalInterrupted = "interrupted"
)

// Goal is the active intention selected each Heavy Tick.
type Goal struct {
	Text         string `json:"text"`
	Reasoning    string `json:"reasoning,omitempty"`
	ActionType   string `json:"action_type"`
	RiskLevel    string `json:"risk_level"`
	ShellCommand string `json:"shell_command,omitempty"`
	StartTick    int64  `json:"start_tick"`
	Status       string `json:"status"`
}

// StrategySnapshot is the immutable read model.
type StrategySnapshot struct {
	Vector         map[string]float64 `json:"vector"`
	GoalsCompleted int                `json:"goals_completed"`
	LastRefresh    string             `json:"last_refresh,omitempty"`
	ActiveGoal     *Goal              `json:"active_goal,omitempty"`
}

type strategyState struct {
	Vector         map[string]float64 `json:"vector"`
	GoalsCompleted int                `json:"goals_completed"`
	LastRefresh    string             `json:"last_refresh,omitempty"`
}

// Strategy owns the strategy vector and goal selection. An invalid or
// missing LLM response always degrades to a safe observe/low goal.
type Strategy struct {
	path     string
	goalPath string
	bus      *bus.Bus
	llm      Chatter
	logger   *slog.Logger
	now      func() time.Time

	mu    sync.RWMutex
	state strategyState
	goal  *Goal
}

func NewStrategy(path, goalPath string, b *bus.Bus, llm Chatter) *Strategy {
	return &Strategy{
		path:     path,
		goalPath: goalPath,
		bus:      b,
		llm:      llm,
		logger:   slog.Default().With("component", "strategy"),
		now:      time.Now,
		state: strategyState{
			Vector: map[string]float64{
				"exploration":   0.6,
				"consolidation": 0.4,
				"expression":    0.5,
				"maintenance":   0.3,
			},
		},
	}
}

func (s *Strategy) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := statefile.LoadJSON(s.path, &s.state); err != nil {
		return err
	}
	var g Goal
	if err := statefile.LoadJSON(s.goalPath, &g); err != nil {
		return err
	}
	if g.Text != "" {
		s.goal = &g
	}
	return nil
}

const goalSystemPrompt = `You select the next goal for an autonomous digital being.
Answer with a single JSON object:
{"text": "...", "reasoning": "...", "action_type": "observe|analyze|write|reflect|shell", "risk_level": "low|medium|high", "shell_command": ""}`

// SelectGoal asks the LLM for a structured goal and persists it as the
// active goal. Any parse or schema failure substitutes the safe default.
// A still-active previous goal is surfaced to the model, which decides
// whether to resume it.
func (s *Strategy) SelectGoal(ctx context.Context, monologue, situation string, tick int64) Goal {
	var prior string
	s.mu.RLock()
	if s.goal != nil && s.goal.Status == GoalActive {
		prior = s.goal.Text
	} else if s.goal != nil && s.goal.Status == GoalInterrupted {
		prior = s.goal.Text + " (interrupted last run; resume only if still worthwhile)"
	}
	s.mu.RUnlock()

	prompt := fmt.Sprintf("Inner monologue:\n%s\n\nSituation:\n%s\n", monologue, situation)
	if prior != "" {
		prompt += fmt.Sprintf("\nPrevious goal: %s\n", prior)
	}

	goal := s.parseGoal(s.llm.Chat(ctx, budget.Important, goalSystemPrompt, prompt))
	goal.StartTick = tick
	goal.Status = GoalActive

	s.mu.Lock()
	s.goal = &goal
	s.persistGoalLocked()
	s.mu.Unlock()
	return goal
}

func (s *Strategy) parseGoal(raw string) Goal {
	fallback := Goal{
		Text:       "Observe the current surroundings and note anything new",
		Reasoning:  "degraded goal selection",
		ActionType: ActionObserve,
		RiskLevel:  RiskLow,
	}

	obj := extractFirstJSONObject(raw)
	if obj == "" {
		if raw != "" {
			s.logger.Warn("Goal response carried no JSON object, using default")
		}
		return fallback
	}

	var g Goal
	if err := json.Unmarshal([]byte(obj), &g); err != nil {
		s.logger.Warn("Goal response failed to parse, using default", "error", err)
		return fallback
	}
	if g.Text == "" || !validAction(g.ActionType) || !validRisk(g.RiskLevel) {
		s.logger.Warn("Goal response failed schema check, using default",
			"action_type", g.ActionType, "risk_level", g.RiskLevel)
		return fallback
	}
	if g.ActionType != ActionShell {
		g.ShellCommand = ""
	}
	return g
}

// CompleteGoal marks the active goal completed. Only explicit completion
// counts toward goals_completed; resumed goals are not double-counted.
func (s *Strategy) CompleteGoal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goal == nil || s.goal.Status != GoalActive {
		return
	}
	s.goal.Status = GoalCompleted
	s.state.GoalsCompleted++
	s.persistGoalLocked()
	s.persistStateLocked()
}

// InterruptGoal marks the active goal interrupted and re-persists it. The
// shutdown handler is the only caller.
func (s *Strategy) InterruptGoal() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.goal == nil || s.goal.Status != GoalActive {
		return
	}
	s.goal.Status = GoalInterrupted
	s.persistGoalLocked()
}

// ActiveGoal returns a copy of the current goal, or nil.
func (s *Strategy) ActiveGoal() *Goal {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.goal == nil {
		return nil
	}
	g := *s.goal
	return &g
}

// NeedsRefresh reports whether the strategy vector is older than interval.
func (s *Strategy) NeedsRefresh(interval time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state.LastRefresh == "" {
		return true
	}
	last, err := time.Parse(statefile.TimeLayout, s.state.LastRefresh)
	if err != nil {
		return true
	}
	return s.now().Sub(last) >= interval
}

const refreshSystemPrompt = `You rebalance the strategy vector of an autonomous digital being.
Answer with a single JSON object mapping each axis to a number in [0,1]:
{"exploration": 0.5, "consolidation": 0.5, "expression": 0.5, "maintenance": 0.5}`

// Refresh rebalances the strategy vector via the LLM; a degraded backend
// leaves the vector unchanged but still stamps the refresh.
func (s *Strategy) Refresh(ctx context.Context, situation string) {
	raw := s.llm.Chat(ctx, budget.Optional, refreshSystemPrompt, situation)

	s.mu.Lock()
	if obj := extractFirstJSONObject(raw); obj != "" {
		var vector map[string]float64
		if err := json.Unmarshal([]byte(obj), &vector); err == nil {
			for axis := range s.state.Vector {
				if x, ok := vector[axis]; ok {
					s.state.Vector[axis] = statefile.Clamp3(x)
				}
			}
		}
	}
	s.state.LastRefresh = statefile.Stamp(s.now())
	snapshot := s.copyVectorLocked()
	s.persistStateLocked()
	s.mu.Unlock()

	if s.bus != nil {
		s.bus.Publish(ctx, bus.TopicStrategyChanged, map[string]any{"vector": snapshot})
	}
}

// Snapshot returns the current strategy read model.
func (s *Strategy) Snapshot() StrategySnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := StrategySnapshot{
		Vector:         s.copyVectorLocked(),
		GoalsCompleted: s.state.GoalsCompleted,
		LastRefresh:    s.state.LastRefresh,
	}
	if s.goal != nil {
		g := *s.goal
		snap.ActiveGoal = &g
	}
	return snap
}

// Context renders the vector as a prompt fragment.
func (s *Strategy) Context() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var sb strings.Builder
	for _, axis := range []string{"exploration", "consolidation", "expression", "maintenance"} {
		fmt.Fprintf(&sb, "%s=%.2f ", axis, s.state.Vector[axis])
	}
	return strings.TrimSpace(sb.String())
}

func (s *Strategy) copyVectorLocked() map[string]float64 {
	out := make(map[string]float64, len(s.state.Vector))
	for k, x := range s.state.Vector {
		out[k] = x
	}
	return out
}

func (s *Strategy) persistGoalLocked() {
	if err := statefile.WriteJSON(s.goalPath, s.goal); err != nil {
		s.logger.Error("Failed to persist goal", "error", err)
	}
}

func (s *Strategy) persistStateLocked() {
	if err := statefile.WriteJSON(s.path, s.state); err != nil {
		s.logger.Error("Failed to persist strategy", "error", err)
	}
}

func validAction(a string) bool {
	switch a {
	case ActionObserve, ActionAnalyze, ActionWrite, ActionReflect, ActionShell:
		return true
	}
	return false
}

func validRisk(r string) bool {
	switch r {
	case RiskLow, RiskMedium, RiskHigh:
		return true
	}
	return false
}

// extractFirstJSONObject returns the first balanced top-level JSON object
// in s, brace-matching outside string literals, or "".
func extractFirstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == '{':
			depth++
		case c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return ""
}
