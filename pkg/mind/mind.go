// Package mind holds the cognitive state components: values, emotions,
// beliefs, strategy, self-model, attention, curiosity, time perception,
// meta-cognition, narrative and milestones. Each component owns one JSON
// file under the memory directory, written atomically and loaded with a
// defaulted merge, and exposes an immutable Snapshot read model. Content
// generation goes through the LLM gateway and degrades to deterministic
// templates when it returns empty.
package mind

import (
	"context"
	"path/filepath"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
)

// Chatter is the slice of the LLM gateway the mind consumes. An empty
// return means the backend is degraded and callers fall back to templates.
type Chatter interface {
	Chat(ctx context.Context, priority budget.Priority, system, user string) string
}

// Mind bundles every cognitive component over one memory directory.
type Mind struct {
	Values         *Values
	Emotions       *Emotions
	Beliefs        *Beliefs
	Strategy       *Strategy
	SelfModel      *SelfModel
	Attention      *Attention
	Curiosity      *Curiosity
	TimePerception *TimePerception
	MetaCognition  *MetaCognition
	Narrative      *Narrative
	Milestones     *Milestones
}

// New constructs every component and loads persisted state from dir. The
// runtime view carries the mutable keys (attention shaping, curiosity cap)
// so approved modifications reach the components without a restart.
func New(dir string, cfg *config.Config, rt *config.Runtime, b *bus.Bus, llm Chatter) (*Mind, error) {
	m := &Mind{
		Values:         NewValues(filepath.Join(dir, "values.json"), b),
		Emotions:       NewEmotions(filepath.Join(dir, "emotions.json")),
		Beliefs:        NewBeliefs(filepath.Join(dir, "beliefs.json")),
		Strategy:       NewStrategy(filepath.Join(dir, "strategy.json"), filepath.Join(dir, "goal_state.json"), b, llm),
		SelfModel:      NewSelfModel(filepath.Join(dir, "self_model.json"), b),
		Attention:      NewAttention(rt),
		Curiosity:      NewCuriosity(filepath.Join(dir, "curiosity.json"), rt, llm),
		TimePerception: NewTimePerception(cfg.Ticks.HeavyInterval()),
		MetaCognition:  NewMetaCognition(),
		Narrative:      NewNarrative(filepath.Join(dir, "diary.md"), filepath.Join(dir, "narrative_log.json"), b, llm),
		Milestones:     NewMilestones(filepath.Join(dir, "milestones.json"), b),
	}

	for _, load := range []func() error{
		m.Values.Load,
		m.Emotions.Load,
		m.Beliefs.Load,
		m.Strategy.Load,
		m.SelfModel.Load,
		m.Curiosity.Load,
		m.Narrative.Load,
		m.Milestones.Load,
	} {
		if err := load(); err != nil {
			return nil, err
		}
	}
	return m, nil
}
