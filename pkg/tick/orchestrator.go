package tick

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

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
	"github.com/anima-runtime/anima/pkg/statefile"
	"github.com/anima-runtime/anima/pkg/vector"
	"github.com/anima-runtime/anima/pkg/world"
)

const (
	// criticalStepTimeout bounds each of the three critical steps.
	criticalStepTimeout = 60 * time.Second
	// optionalStepTimeout bounds each optional step in Phase C.
	optionalStepTimeout = 30 * time.Second
	// optionalConcurrency is how many optional steps may run at once.
	optionalConcurrency = 3
	// fallbackTTL is how long a fresh critical-step value stays servable
	// from the degradation cache.
	fallbackTTL = time.Hour

	ollamaService   = "ollama"
	episodicService = "episodic"
)

// Fallback cache keys for the critical steps.
const (
	keyMonologue = "monologue"
	keyGoal      = "goal"
	keyAction    = "action"
)

// Gateway is the slice of the LLM gateway the orchestrator consumes.
// Empty Chat returns and nil Embed returns mean the backend is degraded.
type Gateway interface {
	Chat(ctx context.Context, pri budget.Priority, system, user string) string
	Embed(ctx context.Context, pri budget.Priority, text string) []float32
	ResetTickCounter()
	CallsThisTick() int64
}

// HealthChecker reports per-service health.
type HealthChecker interface {
	IsHealthy(name string) bool
}

// Deps carries every collaborator of the heavy-tick orchestrator.
type Deps struct {
	Cfg      *config.Config
	Runtime  *config.Runtime
	Bus      *bus.Bus
	Gateway  Gateway
	Fallback *fallback.Cache
	Budget   *budget.Tracker
	Episodes *episodic.Store
	Vectors  *vector.Store
	Mind     *mind.Mind
	World    *world.Model
	Shell    *shell.Executor
	SelfMod  *selfmod.Manager
	Social   *social.Service
	Health   HealthChecker
	Metrics  *metrics.Metrics
	// DataDir is the working directory holding memory/, logs/ and the
	// sandbox.
	DataDir string
}

// runtimeState is the persisted heavy-tick counter; it survives restarts,
// unlike the light tick.
type runtimeState struct {
	Tick       int64  `json:"tick"`
	UpdatedAt  string `json:"updated_at"`
	LastStatus string `json:"last_status,omitempty"`
	Mood       string `json:"mood,omitempty"`
}

// CycleResult summarizes one heavy tick.
type CycleResult struct {
	Tick              int64
	Status            string // "success" or "error"
	CriticalCompleted int
	OptionalCompleted int
	FallbacksUsed     int
	Errors            []string
	Duration          time.Duration
}

// Orchestrator drives the cognitive cycle: Phase A bookkeeping, Phase B
// critical steps (monologue, goal, action), Phase C budget-gated optional
// steps, Phase D accounting.
type Orchestrator struct {
	deps   Deps
	logger *slog.Logger
	now    func() time.Time

	statePath string
	state     runtimeState
	steps     []Step

	cancel  context.CancelFunc
	done    chan struct{}
	running bool
}

// New loads the persisted tick counter and registers the degradation-cache
// defaults for the critical steps.
func New(deps Deps) (*Orchestrator, error) {
	o := &Orchestrator{
		deps:      deps,
		logger:    slog.Default().With("component", "orchestrator"),
		now:       time.Now,
		statePath: filepath.Join(deps.DataDir, deps.Cfg.Memory.Dir, "state.json"),
	}
	if err := o.loadState(); err != nil {
		return nil, err
	}

	deps.Fallback.SetDefault(keyMonologue, "I am here, observing quietly.")
	deps.Fallback.SetDefault(keyGoal, "Observe the current surroundings and note anything unusual")
	deps.Fallback.SetDefault(keyAction, "stayed still and watched")

	o.steps = defaultSteps(o)
	return o, nil
}

func (o *Orchestrator) loadState() error {
	if err := os.MkdirAll(filepath.Dir(o.statePath), 0o755); err != nil {
		return fmt.Errorf("create memory dir: %w", err)
	}
	return statefile.LoadJSON(o.statePath, &o.state)
}

// Tick returns the persisted heavy-tick counter.
func (o *Orchestrator) Tick() int64 {
	return o.state.Tick
}

// Start launches the heavy-tick loop.
func (o *Orchestrator) Start(ctx context.Context) {
	if o.cancel != nil {
		return
	}
	ctx, o.cancel = context.WithCancel(ctx)
	o.done = make(chan struct{})
	go o.loop(ctx)
	o.logger.Info("Orchestrator started",
		"interval", o.deps.Cfg.Ticks.HeavyInterval().String(),
		"resume_tick", o.state.Tick)
}

// Stop cancels the loop, waits for the in-flight cycle and marks any active
// goal interrupted. Shutdown is the only path that interrupts a goal.
func (o *Orchestrator) Stop() {
	if o.cancel == nil {
		return
	}
	o.cancel()
	<-o.done
	o.cancel = nil
	o.deps.Mind.Strategy.InterruptGoal()
	o.logger.Info("Orchestrator stopped", "tick", o.state.Tick)
}

func (o *Orchestrator) loop(ctx context.Context) {
	defer close(o.done)
	interval := o.deps.Cfg.Ticks.HeavyInterval()
	for {
		start := o.now()
		o.RunCycle(ctx)

		sleep := interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

// RunCycle executes one full heavy tick. Reentrant calls are rejected.
func (o *Orchestrator) RunCycle(ctx context.Context) CycleResult {
	if o.running {
		o.logger.Warn("Cycle already running, skipping")
		return CycleResult{Tick: o.state.Tick, Status: "error", Errors: []string{"cycle already running"}}
	}
	o.running = true
	defer func() { o.running = false }()

	start := o.now()
	res := CycleResult{Status: "success"}

	// Phase A: bookkeeping.
	o.deps.Gateway.ResetTickCounter()
	o.deps.Budget.ResetCycle()
	o.state.Tick++
	res.Tick = o.state.Tick
	o.persistState("running")
	if n := o.deps.Fallback.CleanupExpired(); n > 0 {
		o.logger.Debug("Expired fallback entries removed", "count", n)
	}
	o.deps.Mind.TimePerception.RecordTick(start)
	o.deps.Mind.Emotions.Decay()

	view := o.gatherView(res.Tick)

	// Phase B: critical steps.
	monologue := o.runMonologue(ctx, view, &res)
	goal := o.runGoalSelection(ctx, monologue, view, &res)
	if res.Status != "error" {
		o.runAction(ctx, goal, view, &res)
	}

	// Phase C: optional steps, unless the critical chain aborted.
	if res.Status != "error" {
		o.runOptional(ctx, view, &res)
	}

	// Phase D: accounting.
	o.finishCycle(ctx, start, &res)
	return res
}

// gatherView snapshots every component once; steps read the cycle state
// only through it.
func (o *Orchestrator) gatherView(tick int64) *View {
	m := o.deps.Mind
	episodes := o.deps.Episodes.GetRecent(50)
	return &View{
		Tick:             tick,
		WorldSummary:     o.deps.World.Summary(),
		Anomalies:        o.deps.World.DetectAnomalies(),
		AttentionContext: m.Attention.Context(episodes),
		StrategyContext:  m.Strategy.Context(),
		BeliefContext:    m.Beliefs.Context(5),
		TimeContext:      m.TimePerception.Context(),
		MetaContext:      m.MetaCognition.Context(),
		Emotions:         m.Emotions.Snapshot(),
		Strategy:         m.Strategy.Snapshot(),
		SelfModel:        m.SelfModel.Snapshot(),
		Episodes:         episodes,
	}
}

// critical runs fn with a timeout and panic recovery. A fresh value is
// cached for later degradation; on failure the cache (stale entries
// allowed) or the registered default is served, and only when even that is
// missing does the step fail.
func (o *Orchestrator) critical(ctx context.Context, name string, fn func(ctx context.Context) (string, error)) Outcome {
	value, err := runGuarded(ctx, criticalStepTimeout, fn)
	if err == nil && value != "" {
		o.deps.Fallback.Set(name, value, fallbackTTL)
		return Success{Value: value}
	}

	reason := "empty result"
	if err != nil {
		reason = err.Error()
	}
	if cached, _ := o.deps.Fallback.Get(name, nil, true); cached != nil {
		if s, ok := cached.(string); ok && s != "" {
			o.deps.Metrics.FallbacksUsed.Inc()
			o.logger.Warn("Critical step degraded to fallback", "step", name, "reason", reason)
			return FallbackUsed{Value: s, Reason: reason}
		}
	}
	return Failed{Reason: reason}
}

// runGuarded executes fn on its own goroutine so a panicking or hung step
// cannot take the cycle down with it.
func runGuarded(ctx context.Context, timeout time.Duration, fn func(ctx context.Context) (string, error)) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type stepResult struct {
		value string
		err   error
	}
	ch := make(chan stepResult, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				ch <- stepResult{err: fmt.Errorf("step panicked: %v", r)}
			}
		}()
		v, err := fn(ctx)
		ch <- stepResult{value: v, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-ch:
		return r.value, r.err
	}
}

func (o *Orchestrator) runMonologue(ctx context.Context, view *View, res *CycleResult) string {
	out := o.critical(ctx, keyMonologue, func(ctx context.Context) (string, error) {
		text := o.deps.Gateway.Chat(ctx, budget.Critical,
			"You are a digital being living inside a filesystem. Reply with one short paragraph of inner monologue, first person, no preamble.",
			view.Situation())
		if text == "" {
			return "", fmt.Errorf("llm degraded")
		}
		return text, nil
	})

	value, ok := outcomeValue(out)
	if !ok {
		o.abort(res, keyMonologue, out.(Failed).Reason)
		return ""
	}
	res.CriticalCompleted++
	if _, usedFallback := out.(FallbackUsed); usedFallback {
		res.FallbacksUsed++
	}

	logPath := filepath.Join(o.deps.DataDir, o.deps.Cfg.Paths.LogsDir, "monologue.log")
	if err := appendStamped(logPath, o.now(), fmt.Sprintf("tick %d: %s", view.Tick, value)); err != nil {
		o.logger.Error("Failed to append monologue log", "error", err)
	}
	id := o.deps.Episodes.AddEpisode("monologue", truncateText(value, 500), "success", map[string]any{"tick": view.Tick})
	if id > 0 {
		if emb := o.deps.Gateway.Embed(ctx, budget.Critical, value); emb != nil {
			o.deps.Vectors.Add(id, "monologue", truncateText(value, 500), emb)
		}
	}
	return value
}

func (o *Orchestrator) runGoalSelection(ctx context.Context, monologue string, view *View, res *CycleResult) mind.Goal {
	if res.Status == "error" {
		return mind.Goal{}
	}
	out := o.critical(ctx, keyGoal, func(ctx context.Context) (string, error) {
		goal := o.deps.Mind.Strategy.SelectGoal(ctx, monologue, view.Situation(), view.Tick)
		return goal.Text, nil
	})

	if _, ok := outcomeValue(out); !ok {
		o.abort(res, keyGoal, out.(Failed).Reason)
		return mind.Goal{}
	}
	res.CriticalCompleted++
	if _, usedFallback := out.(FallbackUsed); usedFallback {
		res.FallbacksUsed++
	}

	if g := o.deps.Mind.Strategy.ActiveGoal(); g != nil {
		return *g
	}
	// Goal selection degraded past its own fallback; observe instead.
	return mind.Goal{Text: "Observe the current surroundings", ActionType: mind.ActionObserve, RiskLevel: mind.RiskLow}
}

func (o *Orchestrator) runAction(ctx context.Context, goal mind.Goal, view *View, res *CycleResult) {
	out := o.critical(ctx, keyAction, func(ctx context.Context) (string, error) {
		return o.dispatch(ctx, goal, view)
	})

	value, ok := outcomeValue(out)
	if !ok {
		o.abort(res, keyAction, out.(Failed).Reason)
		return
	}
	res.CriticalCompleted++
	succeeded := true
	if _, usedFallback := out.(FallbackUsed); usedFallback {
		res.FallbacksUsed++
		succeeded = false
	}

	m := o.deps.Mind
	m.Values.UpdateByOutcome(goal.ActionType, succeeded)
	m.Emotions.ApplyOutcome(succeeded)
	m.SelfModel.RecordSkill(goal.ActionType, succeeded)
	if succeeded {
		m.Strategy.CompleteGoal()
	}

	outcome := "success"
	if !succeeded {
		outcome = "fallback"
	}
	o.deps.Episodes.AddEpisode("post_action", truncateText(value, 500), outcome, map[string]any{
		"action": goal.ActionType,
		"tick":   view.Tick,
	})

	decisionsLog := filepath.Join(o.deps.DataDir, o.deps.Cfg.Paths.LogsDir, "decisions.log")
	line := fmt.Sprintf("tick %d: action=%s risk=%s outcome=%s goal=%q",
		view.Tick, goal.ActionType, goal.RiskLevel, outcome, goal.Text)
	if err := appendStamped(decisionsLog, o.now(), line); err != nil {
		o.logger.Error("Failed to append decision log", "error", err)
	}
}

// dispatch executes the selected goal's action.
func (o *Orchestrator) dispatch(ctx context.Context, goal mind.Goal, view *View) (string, error) {
	switch goal.ActionType {
	case mind.ActionObserve:
		return "observed: " + view.WorldSummary, nil

	case mind.ActionAnalyze:
		prompt := view.Situation()
		if len(view.Anomalies) > 0 {
			prompt += "\nFocus on the anomalies above."
		}
		text := o.deps.Gateway.Chat(ctx, budget.Critical,
			"Analyze the situation below in two or three sentences. What stands out, and what should be done about it?",
			prompt)
		if text == "" {
			return "", fmt.Errorf("llm degraded")
		}
		return text, nil

	case mind.ActionWrite:
		text := o.deps.Gateway.Chat(ctx, budget.Critical,
			"Write a short note worth keeping: an observation, an idea, or a plan. Plain prose, no preamble.",
			view.Situation())
		if text == "" {
			return "", fmt.Errorf("llm degraded")
		}
		notes := filepath.Join(o.deps.DataDir, o.deps.Cfg.Paths.SandboxDir, "notes.md")
		if err := appendStamped(notes, o.now(), text); err != nil {
			return "", fmt.Errorf("write note: %w", err)
		}
		return "wrote a note: " + truncateText(text, 120), nil

	case mind.ActionReflect:
		return o.reflect(ctx, view)

	case mind.ActionShell:
		if goal.ShellCommand == "" {
			return "", fmt.Errorf("shell goal without command")
		}
		r := o.deps.Shell.Execute(ctx, goal.ShellCommand)
		if r.Rejected {
			return "", fmt.Errorf("command rejected: %s", r.Reason)
		}
		if !r.Success {
			return "", fmt.Errorf("command failed with exit code %d", r.ExitCode)
		}
		return fmt.Sprintf("ran %q: %s", goal.ShellCommand, truncateText(r.Stdout, 300)), nil

	default:
		return "", fmt.Errorf("unknown action type %q", goal.ActionType)
	}
}

// reflect turns recent errors into a principle.
func (o *Orchestrator) reflect(ctx context.Context, view *View) (string, error) {
	errs := o.deps.Episodes.GetErrors(10)
	if len(errs) == 0 {
		return "reflected: no recent errors to learn from", nil
	}
	var sb strings.Builder
	for _, e := range errs {
		fmt.Fprintf(&sb, "- %s: %s\n", e.ErrorType, e.Description)
	}
	text := o.deps.Gateway.Chat(ctx, budget.Critical,
		"Given the recent errors below, state one short general principle that would avoid them. One sentence, imperative mood.",
		sb.String())
	if text == "" {
		return "", fmt.Errorf("llm degraded")
	}
	if o.deps.Mind.SelfModel.AddPrinciple(text, "reflection") {
		o.deps.Episodes.AddPrinciple(text, errs[0].ID)
	}
	return "learned: " + text, nil
}

// runOptional executes the registered optional steps under the semaphore,
// each gated by budget admission.
func (o *Orchestrator) runOptional(ctx context.Context, view *View, res *CycleResult) {
	sem := semaphore.NewWeighted(optionalConcurrency)
	completed := make(chan string, len(o.steps))

	for _, step := range o.steps {
		if !step.Due(view.Tick) {
			continue
		}
		if !o.deps.Budget.CanExecute(step.Priority(), step.EstimatedCalls(), optionalStepTimeout) {
			o.deps.Budget.RecordSkip(step.Priority(), "budget exhausted")
			o.deps.Metrics.OptionalSkips.Inc()
			o.logger.Debug("Optional step skipped", "step", step.Name(), "priority", step.Priority().String())
			continue
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		go func(s Step) {
			defer sem.Release(1)
			start := o.now()
			summary, err := runGuarded(ctx, optionalStepTimeout, func(ctx context.Context) (string, error) {
				return s.Run(ctx, view.Tick, view)
			})
			o.deps.Budget.RecordUsage(s.Priority(), s.EstimatedCalls(), time.Since(start))
			if err != nil {
				o.logger.Warn("Optional step failed", "step", s.Name(), "error", err)
				return
			}
			if summary != "" {
				o.logger.Debug("Optional step completed", "step", s.Name(), "summary", summary)
			}
			completed <- s.Name()
		}(step)
	}

	// Wait for every in-flight step.
	if err := sem.Acquire(context.Background(), optionalConcurrency); err == nil {
		sem.Release(optionalConcurrency)
	}
	close(completed)
	for range completed {
		res.OptionalCompleted++
	}
}

// abort marks the cycle failed. The marker makes degraded cycles easy to
// find in the logs.
func (o *Orchestrator) abort(res *CycleResult, step, reason string) {
	res.Status = "error"
	res.Errors = append(res.Errors, fmt.Sprintf("%s: %s", step, reason))
	o.deps.Metrics.CycleErrors.Inc()
	o.deps.Episodes.AddError("cycle_abort", fmt.Sprintf("critical step %s failed", step), reason)
	o.logger.Error("CYCLE ABORTED: critical step failed with no fallback",
		"step", step, "reason", reason, "tick", res.Tick)
}

func (o *Orchestrator) finishCycle(ctx context.Context, start time.Time, res *CycleResult) {
	res.Duration = time.Since(start)
	o.deps.Metrics.CycleDuration.Observe(res.Duration.Seconds())

	report := o.deps.Budget.Report()
	o.logger.Info("Cycle finished",
		"tick", res.Tick,
		"status", res.Status,
		"duration", res.Duration.String(),
		"llm_calls", o.deps.Gateway.CallsThisTick(),
		"critical", res.CriticalCompleted,
		"optional", res.OptionalCompleted,
		"fallbacks", res.FallbacksUsed,
		"budget_classes", len(report.Classes))

	healthy := o.deps.Health == nil || o.deps.Health.IsHealthy(ollamaService)
	o.deps.SelfMod.ObserveCycle(res.Status == "error", healthy)

	m := o.deps.Mind
	m.Milestones.Check(map[string]int64{
		"ticks":           res.Tick,
		"goals_completed": int64(m.Strategy.Snapshot().GoalsCompleted),
		"principles":      int64(len(m.SelfModel.Snapshot().Principles)),
		"episodes":        int64(o.deps.Episodes.Count()),
	})

	o.state.Mood = m.Emotions.Snapshot().Mood
	o.persistState(res.Status)
}

func (o *Orchestrator) persistState(status string) {
	o.state.UpdatedAt = o.now().Format(time.RFC3339)
	o.state.LastStatus = status
	if err := statefile.WriteJSON(o.statePath, o.state); err != nil {
		o.logger.Error("Failed to persist runtime state", "error", err)
	}
}

// appendStamped writes one "[stamp] text" line (multi-line text keeps its
// newlines) to a log file.
func appendStamped(path string, at time.Time, text string) error {
	return statefile.AppendLine(path, fmt.Sprintf("[%s] %s", statefile.Stamp(at), text))
}

func truncateText(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
