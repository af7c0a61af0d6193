// Package social turns inbox messages into outbox replies. Bus
// subscriptions enqueue incoming messages; the social optional step drains
// the queue through the LLM gateway and appends timestamped entries to the
// outbox file.
package social

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
	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// outboxSignature is the author line of every outbox entry.
const outboxSignature = "Digital Being"

// headerLayout matches the timestamp inside an outbox header.
const headerLayout = "2006-01-02 15:04"

// Responder is the slice of the LLM gateway the service consumes.
type Responder interface {
	Chat(ctx context.Context, priority budget.Priority, system, user string) string
}

// Message is one queued inbound message.
type Message struct {
	Text       string    `json:"text"`
	Urgent     bool      `json:"urgent"`
	Tick       int64     `json:"tick"`
	ReceivedAt time.Time `json:"received_at"`
}

// OutboxEntry is one parsed reply from the outbox file.
type OutboxEntry struct {
	Stamp string `json:"stamp"`
	Text  string `json:"text"`
}

// Service queues inbound messages and writes replies.
type Service struct {
	outboxPath string
	maxPending int
	llm        Responder
	episodes   *episodic.Store
	logger     *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	pending   []Message
	responded int
}

// New creates the service. episodes may be nil in tests.
func New(outboxPath string, cfg *config.SocialConfig, llm Responder, episodes *episodic.Store) *Service {
	return &Service{
		outboxPath: outboxPath,
		maxPending: cfg.MaxPending,
		llm:        llm,
		episodes:   episodes,
		logger:     slog.Default().With("component", "social"),
		now:        time.Now,
	}
}

// Register subscribes the service to the user message topics.
func (s *Service) Register(b *bus.Bus) {
	b.Subscribe(bus.TopicUserMessage, func(ctx context.Context, ev bus.Event) {
		s.enqueue(ev, false)
	})
	b.Subscribe(bus.TopicUserUrgent, func(ctx context.Context, ev bus.Event) {
		s.enqueue(ev, true)
	})
}

func (s *Service) enqueue(ev bus.Event, urgent bool) {
	text, _ := ev.Payload["text"].(string)
	if strings.TrimSpace(text) == "" {
		return
	}
	tick, _ := ev.Payload["tick"].(int64)

	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) >= s.maxPending {
		// Drop the oldest non-urgent message to make room.
		dropped := false
		for i, msg := range s.pending {
			if !msg.Urgent {
				s.pending = append(s.pending[:i], s.pending[i+1:]...)
				dropped = true
				break
			}
		}
		if !dropped {
			s.logger.Warn("Pending queue full of urgent messages, dropping incoming",
				"text_len", len(text))
			return
		}
		s.logger.Warn("Pending queue full, dropped oldest message")
	}

	s.pending = append(s.pending, Message{
		Text:       text,
		Urgent:     urgent,
		Tick:       tick,
		ReceivedAt: s.now(),
	})
}

// PendingCount returns the queue depth.
func (s *Service) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// Responded returns how many replies have been written.
func (s *Service) Responded() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.responded
}

const replySystemPrompt = "You are an autonomous digital being replying to its human correspondent. " +
	"Reply warmly and briefly, in at most three sentences."

// ProcessPending drains the queue, urgent messages first, writing one outbox
// entry per reply. A degraded backend stops the drain and leaves the rest
// queued for the next cycle. Returns how many replies were written.
func (s *Service) ProcessPending(ctx context.Context) (int, error) {
	replied := 0
	for {
		msg, ok := s.dequeue()
		if !ok {
			return replied, nil
		}

		reply := strings.TrimSpace(s.llm.Chat(ctx, budget.Important, replySystemPrompt, msg.Text))
		if reply == "" {
			// Put it back for the next cycle rather than dropping it.
			s.requeue(msg)
			if replied == 0 {
				return 0, fmt.Errorf("backend degraded, %d message(s) left queued", s.PendingCount())
			}
			return replied, nil
		}

		if err := s.appendOutbox(reply); err != nil {
			s.requeue(msg)
			return replied, err
		}

		s.mu.Lock()
		s.responded++
		s.mu.Unlock()
		replied++

		if s.episodes != nil {
			s.episodes.AddEpisode("social.reply",
				fmt.Sprintf("replied to %q", truncate(msg.Text, 120)),
				episodic.OutcomeSuccess,
				map[string]any{"urgent": msg.Urgent, "tick": msg.Tick})
		}
	}
}

// dequeue pops the first urgent message, or the oldest one.
func (s *Service) dequeue() (Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.pending) == 0 {
		return Message{}, false
	}
	idx := 0
	for i, msg := range s.pending {
		if msg.Urgent {
			idx = i
			break
		}
	}
	msg := s.pending[idx]
	s.pending = append(s.pending[:idx], s.pending[idx+1:]...)
	return msg, true
}

func (s *Service) requeue(msg Message) {
	s.mu.Lock()
	s.pending = append([]Message{msg}, s.pending...)
	s.mu.Unlock()
}

func (s *Service) appendOutbox(text string) error {
	header := fmt.Sprintf("--- [%s] %s ---", s.now().Format(headerLayout), outboxSignature)
	return statefile.AppendLine(s.outboxPath, header+"\n"+text+"\n")
}

// ParseOutbox reads the outbox file back into entries, oldest first.
func ParseOutbox(path string) ([]OutboxEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var entries []OutboxEntry
	var current *OutboxEntry
	for _, line := range strings.Split(string(data), "\n") {
		if stamp, ok := parseHeader(line); ok {
			if current != nil {
				current.Text = strings.TrimSpace(current.Text)
				entries = append(entries, *current)
			}
			current = &OutboxEntry{Stamp: stamp}
			continue
		}
		if current != nil {
			current.Text += line + "\n"
		}
	}
	if current != nil {
		current.Text = strings.TrimSpace(current.Text)
		entries = append(entries, *current)
	}
	return entries, nil
}

func parseHeader(line string) (string, bool) {
	line = strings.TrimSpace(line)
	prefix, suffix := "--- [", "] "+outboxSignature+" ---"
	if !strings.HasPrefix(line, prefix) || !strings.HasSuffix(line, suffix) {
		return "", false
	}
	stamp := line[len(prefix) : len(line)-len(suffix)]
	if _, err := time.Parse(headerLayout, stamp); err != nil {
		return "", false
	}
	return stamp, true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
