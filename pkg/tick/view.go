package tick

import (
	"fmt"
	"strings"

	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/mind"
)

// View is the read-only context gathered once at the start of Phase B and
// handed to every downstream step. Components cross-read each other only
// through these immutable snapshots.
type View struct {
	Tick             int64
	WorldSummary     string
	Anomalies        []string
	AttentionContext string
	StrategyContext  string
	BeliefContext    string
	TimeContext      string
	MetaContext      string
	Emotions         mind.EmotionSnapshot
	Strategy         mind.StrategySnapshot
	SelfModel        mind.SelfModelSnapshot
	Episodes         []episodic.Episode
}

// Situation renders the view as the shared prompt fragment.
func (v *View) Situation() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Tick %d. Mood: %s (valence %.2f).\n", v.Tick, v.Emotions.Mood, v.Emotions.Valence)
	fmt.Fprintf(&sb, "World: %s\n", v.WorldSummary)
	if len(v.Anomalies) > 0 {
		fmt.Fprintf(&sb, "Anomalies: %s\n", strings.Join(v.Anomalies, "; "))
	}
	fmt.Fprintf(&sb, "Strategy: %s\n", v.StrategyContext)
	fmt.Fprintf(&sb, "%s\n%s\n", v.TimeContext, v.MetaContext)
	if v.BeliefContext != "" {
		fmt.Fprintf(&sb, "Beliefs:\n%s", v.BeliefContext)
	}
	if v.AttentionContext != "" {
		fmt.Fprintf(&sb, "Recent experience:\n%s", v.AttentionContext)
	}
	return sb.String()
}
