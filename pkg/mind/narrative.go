package mind

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// NarrativeEntry is one diary record in narrative_log.json.
type NarrativeEntry struct {
	Tick      int64  `json:"tick"`
	Mood      string `json:"mood"`
	Text      string `json:"text"`
	WrittenAt string `json:"written_at"`
}

type narrativeState struct {
	Entries []NarrativeEntry `json:"entries"`
}

// Narrative appends diary entries to diary.md and mirrors them into a JSON
// log for the introspection surface.
type Narrative struct {
	diaryPath string
	logPath   string
	bus       *bus.Bus
	llm       Chatter
	logger    *slog.Logger
	now       func() time.Time

	mu    sync.RWMutex
	state narrativeState
}

func NewNarrative(diaryPath, logPath string, b *bus.Bus, llm Chatter) *Narrative {
	return &Narrative{
		diaryPath: diaryPath,
		logPath:   logPath,
		bus:       b,
		llm:       llm,
		logger:    slog.Default().With("component", "narrative"),
		now:       time.Now,
	}
}

func (n *Narrative) Load() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	return statefile.LoadJSON(n.logPath, &n.state)
}

const diarySystemPrompt = "You write the private diary of an autonomous digital being. " +
	"One short paragraph, first person, present tense. No headings."

// WriteEntry composes one diary paragraph and appends it to diary.md under
// a timestamped heading, mirrors it into the JSON log, and publishes
// narrative.entry_written.
func (n *Narrative) WriteEntry(ctx context.Context, tick int64, mood, situation string) error {
	text := strings.TrimSpace(n.llm.Chat(ctx, budget.Optional, diarySystemPrompt,
		fmt.Sprintf("Mood: %s\nTick: %d\n\n%s", mood, tick, situation)))
	if text == "" {
		text = fmt.Sprintf("Tick %d passed in a %s mood. The backend was quiet, so I only note that I am still here.", tick, mood)
	}

	now := n.now()
	heading := fmt.Sprintf("## %s (tick %d)", now.Format("2006-01-02 15:04"), tick)
	if err := statefile.AppendLine(n.diaryPath, heading+"\n\n"+text+"\n"); err != nil {
		return err
	}

	n.mu.Lock()
	n.state.Entries = append(n.state.Entries, NarrativeEntry{
		Tick:      tick,
		Mood:      mood,
		Text:      text,
		WrittenAt: statefile.Stamp(now),
	})
	if err := statefile.WriteJSON(n.logPath, n.state); err != nil {
		n.logger.Error("Failed to persist narrative log", "error", err)
	}
	n.mu.Unlock()

	if n.bus != nil {
		n.bus.Publish(ctx, bus.TopicNarrativeWritten, map[string]any{"tick": tick})
	}
	return nil
}

// Entries returns up to limit entries, newest first.
func (n *Narrative) Entries(limit int) []NarrativeEntry {
	n.mu.RLock()
	defer n.mu.RUnlock()
	total := len(n.state.Entries)
	if limit > total {
		limit = total
	}
	out := make([]NarrativeEntry, 0, limit)
	for i := total - 1; i >= total-limit; i-- {
		out = append(out, n.state.Entries[i])
	}
	return out
}

// Diary returns the raw diary markdown, capped at maxBytes from the tail.
func (n *Narrative) Diary(maxBytes int) string {
	data, err := os.ReadFile(n.diaryPath)
	if err != nil {
		return ""
	}
	if maxBytes > 0 && len(data) > maxBytes {
		data = data[len(data)-maxBytes:]
	}
	return string(data)
}
