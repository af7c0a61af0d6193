package tick

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/mind"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Step is one optional Phase C unit of work: budget-gated, cadence-gated,
// run under the semaphore with its own timeout.
type Step interface {
	Name() string
	Priority() budget.Priority
	EstimatedCalls() int
	Due(tick int64) bool
	Run(ctx context.Context, tick int64, view *View) (string, error)
}

type optionalStep struct {
	name  string
	pri   budget.Priority
	calls int
	due   func(tick int64) bool
	run   func(ctx context.Context, tick int64, view *View) (string, error)
}

func (s *optionalStep) Name() string              { return s.name }
func (s *optionalStep) Priority() budget.Priority { return s.pri }
func (s *optionalStep) EstimatedCalls() int       { return s.calls }
func (s *optionalStep) Due(tick int64) bool       { return s.due == nil || s.due(tick) }
func (s *optionalStep) Run(ctx context.Context, tick int64, view *View) (string, error) {
	return s.run(ctx, tick, view)
}

// every builds a cadence gate that re-reads its divisor on each tick, so a
// runtime-mutable cadence key takes effect the cycle after it changes.
func every(n func() int) func(int64) bool {
	return func(tick int64) bool {
		v := n()
		if v <= 0 {
			return false
		}
		return tick%int64(v) == 0
	}
}

// fixed wraps a compile-time cadence for the gates no modification can touch.
func fixed(n int) func() int {
	return func() int { return n }
}

// defaultSteps wires the Phase C step set over the orchestrator's
// collaborators.
func defaultSteps(o *Orchestrator) []Step {
	cfg := o.deps.Cfg
	rt := o.deps.Runtime
	m := o.deps.Mind

	heavySec := cfg.Ticks.HeavyTickSec
	dreamTicks := func() int {
		if heavySec <= 0 {
			return 0
		}
		return int(rt.DreamIntervalHours() * 3600 / float64(heavySec))
	}

	return []Step{
		&optionalStep{
			name:  "curiosity",
			pri:   budget.Optional,
			calls: 1,
			due:   every(rt.CuriosityAskEveryNTicks),
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				// Alternate between asking and answering so open
				// questions do not pile up.
				n := int64(rt.CuriosityAskEveryNTicks())
				if n > 0 && m.Curiosity.OpenCount() > 0 && (tick/n)%2 == 1 {
					if m.Curiosity.AnswerOldest(ctx, tick, view.Situation()) {
						return "answered oldest question", nil
					}
					return "", fmt.Errorf("llm degraded")
				}
				q := m.Curiosity.Ask(ctx, tick, view.Situation())
				return "asked: " + q.Text, nil
			},
		},
		&optionalStep{
			name: "beliefs",
			pri:  budget.Optional,
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				formed := 0
				for _, a := range view.Anomalies {
					if id := m.Beliefs.Form("the environment "+a, "observation", 0.55); id != "" {
						formed++
					}
				}
				if formed == 0 {
					return "", nil
				}
				return fmt.Sprintf("formed %d beliefs", formed), nil
			},
		},
		&optionalStep{
			name:  "contradictions",
			pri:   budget.Optional,
			calls: 1,
			due:   every(fixed(5)),
			run:   o.resolveContradictions,
		},
		&optionalStep{
			name: "social",
			pri:  budget.Important,
			// One call per pending message; estimate conservatively.
			calls: 2,
			due:   func(int64) bool { return o.deps.Social.PendingCount() > 0 },
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				replied, err := o.deps.Social.ProcessPending(ctx)
				if err != nil {
					return "", err
				}
				return fmt.Sprintf("replied to %d messages", replied), nil
			},
		},
		&optionalStep{
			name: "metacognition",
			pri:  budget.Optional,
			due:  every(fixed(5)),
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				snap := m.MetaCognition.Analyze(o.deps.Episodes.GetByType("post_action", 20, ""))
				return snap.Assessment, nil
			},
		},
		&optionalStep{
			name: "timeperception",
			pri:  budget.Optional,
			due:  every(fixed(10)),
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				snap := m.TimePerception.Snapshot()
				if snap.Pattern != "slowing" && snap.Pattern != "accelerating" {
					return "", nil
				}
				// One note per day is enough; the cadence rarely shifts.
				if o.deps.Episodes.CountRecentSimilar("time_pattern", 24) > 0 {
					return "", nil
				}
				o.deps.Episodes.AddEpisode("time_pattern",
					fmt.Sprintf("cadence %s: avg interval %.1fs over %d ticks",
						snap.Pattern, snap.AvgIntervalSec, snap.TicksObserved),
					"unknown", map[string]any{"drift_ratio": snap.DriftRatio})
				return "cadence " + snap.Pattern, nil
			},
		},
		&optionalStep{
			name: "drift",
			pri:  budget.Optional,
			due:  every(fixed(20)),
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				if m.SelfModel.DetectDrift() {
					return "identity drift detected", nil
				}
				return "", nil
			},
		},
		&optionalStep{
			name:  "selfmod",
			pri:   budget.Optional,
			calls: 1,
			due:   every(fixed(50)),
			run:   o.suggestModification,
		},
		&optionalStep{
			name:  "reflection",
			pri:   budget.Optional,
			calls: 1,
			due:   every(rt.ReflectionEveryNTicks),
			run:   o.reflectPeriodically,
		},
		&optionalStep{
			name:  "narrative",
			pri:   budget.Optional,
			calls: 1,
			due:   every(rt.NarrativeEveryNTicks),
			run: func(ctx context.Context, tick int64, view *View) (string, error) {
				if err := m.Narrative.WriteEntry(ctx, tick, view.Emotions.Mood, view.Situation()); err != nil {
					return "", err
				}
				return "diary entry written", nil
			},
		},
		&optionalStep{
			name:  "dream",
			pri:   budget.Optional,
			calls: 1,
			due:   every(dreamTicks),
			run:   o.dream,
		},
		&optionalStep{
			name:  "maintenance",
			pri:   budget.Optional,
			calls: 1,
			due:   every(fixed(10)),
			run:   o.maintain,
		},
	}
}

// resolveContradictions asks the model to adjudicate the first unresolved
// belief contradiction.
func (o *Orchestrator) resolveContradictions(ctx context.Context, tick int64, view *View) (string, error) {
	m := o.deps.Mind
	contradictions := m.Beliefs.DetectContradictions()
	var open *mind.Contradiction
	for i := range contradictions {
		if !contradictions[i].Resolved {
			open = &contradictions[i]
			break
		}
	}
	if open == nil {
		return "", nil
	}

	prompt := fmt.Sprintf("Belief A: %q\nBelief B: %q\nThese contradict. Reply with JSON only: "+
		`{"verdict":"weaken|synthesize|create","synthesis":"<combined belief when synthesizing, else empty>"}`,
		open.FirstText, open.SecondText)
	raw := o.deps.Gateway.Chat(ctx, budget.Optional,
		"You adjudicate contradicting beliefs.", prompt)
	if raw == "" {
		return "", fmt.Errorf("llm degraded")
	}

	var verdict struct {
		Verdict   string `json:"verdict"`
		Synthesis string `json:"synthesis"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &verdict); err != nil {
		return "", fmt.Errorf("unparseable verdict: %w", err)
	}
	m.Beliefs.Resolve(open.FirstID, open.SecondID, verdict.Verdict, verdict.Synthesis)
	return "resolved contradiction: " + verdict.Verdict, nil
}

// suggestModification periodically lets the model propose a runtime
// parameter change; proposals wait for approval over the HTTP surface.
func (o *Orchestrator) suggestModification(ctx context.Context, tick int64, view *View) (string, error) {
	rt := o.deps.Runtime
	if o.deps.SelfMod.Monitoring() {
		return "", nil
	}

	var sb strings.Builder
	sb.WriteString("Current tunable parameters:\n")
	for key, val := range rt.Snapshot() {
		bounds, err := rt.BoundsFor(key)
		if err != nil {
			continue
		}
		fmt.Fprintf(&sb, "- %s = %g (allowed %g..%g)\n", key, val, bounds.Min, bounds.Max)
	}
	sb.WriteString("\nPropose at most one change that would improve how the being runs. Reply with JSON only: " +
		`{"key":"<parameter>","value":<number>,"reason":"<one sentence>"} or {"key":""} for no change.`)

	raw := o.deps.Gateway.Chat(ctx, budget.Optional,
		"You tune a long-running autonomous process conservatively.", sb.String())
	if raw == "" {
		return "", fmt.Errorf("llm degraded")
	}

	var prop struct {
		Key    string  `json:"key"`
		Value  float64 `json:"value"`
		Reason string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &prop); err != nil || prop.Key == "" {
		return "no change proposed", nil
	}
	p, err := o.deps.SelfMod.Propose(prop.Key, prop.Value, prop.Reason)
	if err != nil {
		return "", err
	}
	return "proposed " + p.Key, nil
}

// reflectionEntry is one record in reflection_log.json.
type reflectionEntry struct {
	Tick           int64  `json:"tick"`
	At             string `json:"at"`
	Text           string `json:"text"`
	Contradictions int    `json:"contradictions"`
}

func (o *Orchestrator) reflectPeriodically(ctx context.Context, tick int64, view *View) (string, error) {
	text := o.deps.Gateway.Chat(ctx, budget.Optional,
		"Reflect on the recent period in two sentences: what went well, what should change.",
		view.Situation())
	if text == "" {
		return "", fmt.Errorf("llm degraded")
	}

	contradictions := 0
	for _, c := range o.deps.Mind.Beliefs.Contradictions() {
		if !c.Resolved {
			contradictions++
		}
	}

	path := filepath.Join(o.deps.DataDir, o.deps.Cfg.Memory.Dir, "reflection_log.json")
	var log []reflectionEntry
	if err := statefile.LoadJSON(path, &log); err != nil {
		return "", err
	}
	log = append(log, reflectionEntry{
		Tick:           tick,
		At:             statefile.Stamp(o.now()),
		Text:           text,
		Contradictions: contradictions,
	})
	if err := statefile.WriteJSON(path, log); err != nil {
		return "", err
	}

	o.deps.Bus.Publish(ctx, bus.TopicReflectionCompleted, map[string]any{
		"tick":           tick,
		"contradictions": contradictions,
	})
	return "reflection recorded", nil
}

// dream consolidates recent episodes into one summary episode.
func (o *Orchestrator) dream(ctx context.Context, tick int64, view *View) (string, error) {
	recent := o.deps.Episodes.GetRecent(30)
	if len(recent) == 0 {
		return "", nil
	}
	var sb strings.Builder
	for _, ep := range recent {
		fmt.Fprintf(&sb, "- [%s] %s\n", ep.EventType, ep.Description)
	}
	text := o.deps.Gateway.Chat(ctx, budget.Optional,
		"Consolidate the episodes below into one short paragraph of what this period was about.",
		sb.String())
	if text == "" {
		return "", fmt.Errorf("llm degraded")
	}

	id := o.deps.Episodes.AddEpisode("dream", truncateText(text, 500), "success", map[string]any{"tick": tick})
	if id > 0 {
		if emb := o.deps.Gateway.Embed(ctx, budget.Optional, text); emb != nil {
			o.deps.Vectors.Add(id, "dream", truncateText(text, 500), emb)
		}
	}
	o.deps.Bus.Publish(ctx, bus.TopicDreamCompleted, map[string]any{
		"tick":    tick,
		"summary": truncateText(text, 200),
	})
	return "dream consolidated", nil
}

// maintain runs the slow housekeeping: strategy refresh, vector retention,
// episodic archival.
func (o *Orchestrator) maintain(ctx context.Context, tick int64, view *View) (string, error) {
	cfg := o.deps.Cfg
	var actions []string

	interval := time.Duration(cfg.Strategy.RefreshIntervalHours * float64(time.Hour))
	if o.deps.Mind.Strategy.NeedsRefresh(interval) {
		o.deps.Mind.Strategy.Refresh(ctx, view.Situation())
		actions = append(actions, "strategy refreshed")
	}

	if n := cfg.Memory.VectorCleanupEveryNTicks; n > 0 && tick%int64(n) == 0 {
		removed := o.deps.Vectors.CleanupOlderThan(cfg.Memory.VectorRetentionDays)
		actions = append(actions, fmt.Sprintf("%d vectors expired", removed))
	}

	if n := cfg.Memory.ArchiveEveryNTicks; n > 0 && tick%int64(n) == 0 {
		moved, err := o.deps.Episodes.ArchiveOld(cfg.Memory.EpisodicRetentionDays)
		if err != nil {
			return "", err
		}
		actions = append(actions, fmt.Sprintf("%d episodes archived", moved))
	}

	return strings.Join(actions, ", "), nil
}

// extractJSON pulls the first JSON object out of a chat reply that may
// carry prose around it.
func extractJSON(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
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
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}
	return s[start:]
}
