package mind

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
)

// attentionTypeWeights biases episode selection toward signal-heavy types.
var attentionTypeWeights = map[string]float64{
	"user.message":   1.0,
	"user.urgent":    1.0,
	"error":          0.9,
	"shell.rejected": 0.8,
	"shell.error":    0.8,
	"shell.executed": 0.7,
	"decision":       0.7,
	"post_action":    0.6,
}

const defaultTypeWeight = 0.5

// ScoredEpisode pairs an episode with its attention score.
type ScoredEpisode struct {
	Episode episodic.Episode `json:"episode"`
	Score   float64          `json:"score"`
}

// Attention scores episodes by recency, type and outcome, then selects the
// top slice for prompt context. min_score and top_k are runtime-mutable, so
// every selection reads them through the runtime view.
type Attention struct {
	rt  *config.Runtime
	now func() time.Time
}

func NewAttention(rt *config.Runtime) *Attention {
	return &Attention{rt: rt, now: time.Now}
}

// Score computes recency × type weight × outcome weight. Recency halves
// roughly every day.
func (a *Attention) Score(ep episodic.Episode) float64 {
	age := a.now().Sub(ep.Time())
	if age < 0 {
		age = 0
	}
	recency := math.Exp(-age.Hours() / 24)

	typeWeight := defaultTypeWeight
	if w, ok := attentionTypeWeights[ep.EventType]; ok {
		typeWeight = w
	}

	outcomeWeight := 0.6
	switch ep.Outcome {
	case episodic.OutcomeFailure:
		outcomeWeight = 1.0
	case episodic.OutcomeSuccess:
		outcomeWeight = 0.8
	}

	return recency * typeWeight * outcomeWeight
}

// Select filters episodes below min_score and returns at most top_k,
// highest score first.
func (a *Attention) Select(episodes []episodic.Episode) []ScoredEpisode {
	minScore := a.rt.AttentionMinScore()
	topK := a.rt.AttentionTopK()

	scored := make([]ScoredEpisode, 0, len(episodes))
	for _, ep := range episodes {
		if s := a.Score(ep); s >= minScore {
			scored = append(scored, ScoredEpisode{Episode: ep, Score: s})
		}
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })
	if len(scored) > topK {
		scored = scored[:topK]
	}
	return scored
}

// Context renders the selected episodes as a prompt fragment.
func (a *Attention) Context(episodes []episodic.Episode) string {
	var sb strings.Builder
	for _, se := range a.Select(episodes) {
		sb.WriteString("- [")
		sb.WriteString(se.Episode.EventType)
		sb.WriteString("] ")
		sb.WriteString(se.Episode.Description)
		sb.WriteString("\n")
	}
	return sb.String()
}
