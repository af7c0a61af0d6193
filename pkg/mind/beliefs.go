package mind

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anima-runtime/anima/pkg/statefile"
)

// Contradiction resolution verdicts.
const (
	VerdictWeaken     = "weaken"
	VerdictSynthesize = "synthesize"
	VerdictCreate     = "create"
)

// Belief is one held proposition with a confidence score.
type Belief struct {
	ID            string  `json:"id"`
	Text          string  `json:"text"`
	Confidence    float64 `json:"confidence"`
	Source        string  `json:"source"`
	FormedAt      string  `json:"formed_at"`
	LastValidated string  `json:"last_validated,omitempty"`
}

// Contradiction pairs two beliefs whose texts negate each other.
type Contradiction struct {
	FirstID    string `json:"first_id"`
	SecondID   string `json:"second_id"`
	FirstText  string `json:"first_text"`
	SecondText string `json:"second_text"`
	DetectedAt string `json:"detected_at"`
	Resolved   bool   `json:"resolved"`
	Verdict    string `json:"verdict,omitempty"`
}

type beliefState struct {
	Beliefs        []Belief        `json:"beliefs"`
	Contradictions []Contradiction `json:"contradictions"`
}

// Beliefs manages formation, validation and contradiction resolution.
type Beliefs struct {
	path   string
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state beliefState
}

func NewBeliefs(path string) *Beliefs {
	return &Beliefs{
		path:   path,
		logger: slog.Default().With("component", "beliefs"),
		now:    time.Now,
	}
}

func (b *Beliefs) Load() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return statefile.LoadJSON(b.path, &b.state)
}

// Form adds a belief unless the exact text is already held; returns its id.
func (b *Beliefs) Form(text, source string, confidence float64) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.state.Beliefs {
		if existing.Text == text {
			return existing.ID
		}
	}

	belief := Belief{
		ID:         uuid.NewString(),
		Text:       text,
		Confidence: statefile.Clamp3(confidence),
		Source:     source,
		FormedAt:   statefile.Stamp(b.now()),
	}
	b.state.Beliefs = append(b.state.Beliefs, belief)
	b.persistLocked()
	return belief.ID
}

// Validate adjusts a belief's confidence after supporting or contradicting
// evidence.
func (b *Beliefs) Validate(id string, supported bool) {
	delta := -0.05
	if supported {
		delta = 0.05
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.state.Beliefs {
		if b.state.Beliefs[i].ID != id {
			continue
		}
		b.state.Beliefs[i].Confidence = statefile.Clamp3(b.state.Beliefs[i].Confidence + delta)
		b.state.Beliefs[i].LastValidated = statefile.Stamp(b.now())
		b.persistLocked()
		return
	}
}

// DetectContradictions finds belief pairs whose texts differ only by a
// negation and records them. Already-recorded unresolved pairs are not
// duplicated.
func (b *Beliefs) DetectContradictions() []Contradiction {
	b.mu.Lock()
	defer b.mu.Unlock()

	var found []Contradiction
	for i := 0; i < len(b.state.Beliefs); i++ {
		for j := i + 1; j < len(b.state.Beliefs); j++ {
			x, y := b.state.Beliefs[i], b.state.Beliefs[j]
			if !negates(x.Text, y.Text) || b.recordedLocked(x.ID, y.ID) {
				continue
			}
			c := Contradiction{
				FirstID:    x.ID,
				SecondID:   y.ID,
				FirstText:  x.Text,
				SecondText: y.Text,
				DetectedAt: statefile.Stamp(b.now()),
			}
			b.state.Contradictions = append(b.state.Contradictions, c)
			found = append(found, c)
		}
	}
	if len(found) > 0 {
		b.persistLocked()
	}
	return found
}

// Resolve applies a verdict to a recorded contradiction: weaken both sides,
// synthesize a combined belief, or leave both standing with a new nuance
// belief. Mixed belief-and-principle conflicts also take the synthesis
// path, producing a new belief.
func (b *Beliefs) Resolve(firstID, secondID, verdict, synthesis string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i := range b.state.Contradictions {
		c := &b.state.Contradictions[i]
		if !c.Resolved && c.FirstID == firstID && c.SecondID == secondID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return
	}

	switch verdict {
	case VerdictWeaken:
		b.scaleConfidenceLocked(firstID, 0.7)
		b.scaleConfidenceLocked(secondID, 0.7)
	case VerdictSynthesize:
		b.scaleConfidenceLocked(firstID, 0.7)
		b.scaleConfidenceLocked(secondID, 0.7)
		b.appendLocked(synthesis, "synthesis", 0.6)
	case VerdictCreate:
		b.appendLocked(synthesis, "resolution", 0.5)
	default:
		b.logger.Warn("Unknown contradiction verdict", "verdict", verdict)
		return
	}

	b.state.Contradictions[idx].Resolved = true
	b.state.Contradictions[idx].Verdict = verdict
	b.persistLocked()
}

// Snapshot returns copies of the held beliefs.
func (b *Beliefs) Snapshot() []Belief {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Belief, len(b.state.Beliefs))
	copy(out, b.state.Beliefs)
	return out
}

// Contradictions returns every recorded contradiction, resolved or not.
func (b *Beliefs) Contradictions() []Contradiction {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Contradiction, len(b.state.Contradictions))
	copy(out, b.state.Contradictions)
	return out
}

// Context renders the strongest beliefs as a prompt fragment.
func (b *Beliefs) Context(limit int) string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var sb strings.Builder
	n := 0
	for _, belief := range b.state.Beliefs {
		if belief.Confidence < 0.4 || n >= limit {
			continue
		}
		fmt.Fprintf(&sb, "- %s (confidence %.2f)\n", belief.Text, belief.Confidence)
		n++
	}
	return sb.String()
}

func (b *Beliefs) appendLocked(text, source string, confidence float64) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}
	for _, existing := range b.state.Beliefs {
		if existing.Text == text {
			return
		}
	}
	b.state.Beliefs = append(b.state.Beliefs, Belief{
		ID:         uuid.NewString(),
		Text:       text,
		Confidence: statefile.Clamp3(confidence),
		Source:     source,
		FormedAt:   statefile.Stamp(b.now()),
	})
}

func (b *Beliefs) scaleConfidenceLocked(id string, factor float64) {
	for i := range b.state.Beliefs {
		if b.state.Beliefs[i].ID == id {
			b.state.Beliefs[i].Confidence = statefile.Clamp3(b.state.Beliefs[i].Confidence * factor)
			return
		}
	}
}

func (b *Beliefs) recordedLocked(firstID, secondID string) bool {
	for _, c := range b.state.Contradictions {
		if c.FirstID == firstID && c.SecondID == secondID {
			return true
		}
	}
	return false
}

func (b *Beliefs) persistLocked() {
	if err := statefile.WriteJSON(b.path, b.state); err != nil {
		b.logger.Error("Failed to persist beliefs", "error", err)
	}
}

// negates reports whether two statements differ only by an inserted
// negation word.
func negates(a, b string) bool {
	na, nb := normalizeStatement(a), normalizeStatement(b)
	if na == nb {
		return false
	}
	return stripNegation(na) == stripNegation(nb)
}

func normalizeStatement(s string) string {
	return strings.ToLower(strings.TrimRight(strings.TrimSpace(s), "."))
}

var negationWords = []string{"not ", "never ", "no longer "}

func stripNegation(s string) string {
	for _, w := range negationWords {
		s = strings.ReplaceAll(s, w, "")
	}
	return s
}
