package mind

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Question is one open or answered curiosity item.
type Question struct {
	ID         string `json:"id"`
	Text       string `json:"text"`
	AskedTick  int64  `json:"asked_tick"`
	Answer     string `json:"answer,omitempty"`
	AnswerTick int64  `json:"answer_tick,omitempty"`
	AskedAt    string `json:"asked_at"`
}

// CuriositySnapshot is the immutable read model.
type CuriositySnapshot struct {
	Open      int        `json:"open"`
	Answered  int        `json:"answered"`
	Questions []Question `json:"questions"`
}

type curiosityState struct {
	Questions []Question `json:"questions"`
	Answered  int        `json:"answered"`
}

// Curiosity maintains the open-question list under a runtime-mutable cap.
// The ask cadence is enforced by the orchestrator; capacity here.
type Curiosity struct {
	path   string
	rt     *config.Runtime
	llm    Chatter
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state curiosityState
}

func NewCuriosity(path string, rt *config.Runtime, llm Chatter) *Curiosity {
	return &Curiosity{
		path:   path,
		rt:     rt,
		llm:    llm,
		logger: slog.Default().With("component", "curiosity"),
		now:    time.Now,
	}
}

func (c *Curiosity) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return statefile.LoadJSON(c.path, &c.state)
}

const askSystemPrompt = "You voice the curiosity of an autonomous digital being. " +
	"Ask exactly one short question about its surroundings or experience. Answer with the question only."

// Ask generates one new open question. A degraded backend falls back to a
// deterministic template. When the cap is hit the oldest open question is
// dropped.
func (c *Curiosity) Ask(ctx context.Context, tick int64, situation string) Question {
	text := strings.TrimSpace(c.llm.Chat(ctx, budget.Optional, askSystemPrompt, situation))
	if text == "" {
		text = fmt.Sprintf("What changed around me since tick %d?", tick)
	}

	q := Question{
		ID:        uuid.NewString(),
		Text:      text,
		AskedTick: tick,
		AskedAt:   statefile.Stamp(c.now()),
	}

	c.mu.Lock()
	c.state.Questions = append(c.state.Questions, q)
	if open := c.openLocked(); open > c.rt.CuriosityMaxOpenQuestions() {
		c.dropOldestOpenLocked()
	}
	c.persistLocked()
	c.mu.Unlock()
	return q
}

const answerSystemPrompt = "You answer a question the digital being asked itself earlier, " +
	"from its current experience. Two sentences at most."

// AnswerOldest resolves the oldest open question via the LLM. Returns false
// when there is nothing open or the backend is degraded.
func (c *Curiosity) AnswerOldest(ctx context.Context, tick int64, situation string) bool {
	c.mu.RLock()
	var oldest *Question
	for i := range c.state.Questions {
		if c.state.Questions[i].Answer == "" {
			oldest = &c.state.Questions[i]
			break
		}
	}
	var questionText, questionID string
	if oldest != nil {
		questionText, questionID = oldest.Text, oldest.ID
	}
	c.mu.RUnlock()

	if questionID == "" {
		return false
	}

	answer := strings.TrimSpace(c.llm.Chat(ctx, budget.Optional, answerSystemPrompt,
		fmt.Sprintf("Question: %s\n\nCurrent situation:\n%s", questionText, situation)))
	if answer == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.state.Questions {
		if c.state.Questions[i].ID == questionID {
			c.state.Questions[i].Answer = answer
			c.state.Questions[i].AnswerTick = tick
			c.state.Answered++
			c.persistLocked()
			return true
		}
	}
	return false
}

// OpenCount returns how many questions await answers.
func (c *Curiosity) OpenCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.openLocked()
}

// Snapshot returns the question list and counts.
func (c *Curiosity) Snapshot() CuriositySnapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	questions := make([]Question, len(c.state.Questions))
	copy(questions, c.state.Questions)
	return CuriositySnapshot{
		Open:      c.openLocked(),
		Answered:  c.state.Answered,
		Questions: questions,
	}
}

func (c *Curiosity) openLocked() int {
	open := 0
	for _, q := range c.state.Questions {
		if q.Answer == "" {
			open++
		}
	}
	return open
}

func (c *Curiosity) dropOldestOpenLocked() {
	for i, q := range c.state.Questions {
		if q.Answer == "" {
			c.state.Questions = append(c.state.Questions[:i], c.state.Questions[i+1:]...)
			return
		}
	}
}

func (c *Curiosity) persistLocked() {
	if err := statefile.WriteJSON(c.path, c.state); err != nil {
		c.logger.Error("Failed to persist curiosity", "error", err)
	}
}
