package social

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/budget"
	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/config"
)

// scriptedResponder replies with a fixed prefix, or nothing when degraded.
type scriptedResponder struct {
	degraded bool
	prompts  []string
}

func (r *scriptedResponder) Chat(ctx context.Context, priority budget.Priority, system, user string) string {
	r.prompts = append(r.prompts, user)
	if r.degraded {
		return ""
	}
	return "reply to: " + user
}

func newTestService(t *testing.T, llm Responder) (*Service, string) {
	t.Helper()
	outbox := filepath.Join(t.TempDir(), "outbox.txt")
	return New(outbox, &config.SocialConfig{MaxPending: 3}, llm, nil), outbox
}

func TestEnqueueViaBusAndProcess(t *testing.T) {
	llm := &scriptedResponder{}
	s, outbox := newTestService(t, llm)

	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "hello there", "tick": int64(3)})
	require.Equal(t, 1, s.PendingCount())

	replied, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, replied)
	assert.Equal(t, 0, s.PendingCount())
	assert.Equal(t, 1, s.Responded())

	data, err := os.ReadFile(outbox)
	require.NoError(t, err)
	assert.Contains(t, string(data), "] Digital Being ---")
	assert.Contains(t, string(data), "reply to: hello there")
}

func TestUrgentProcessedFirst(t *testing.T) {
	llm := &scriptedResponder{}
	s, _ := newTestService(t, llm)

	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "ordinary"})
	b.Publish(context.Background(), bus.TopicUserUrgent, map[string]any{"text": "drop everything"})

	_, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	require.Len(t, llm.prompts, 2)
	assert.Equal(t, "drop everything", llm.prompts[0])
	assert.Equal(t, "ordinary", llm.prompts[1])
}

func TestDegradedBackendLeavesQueue(t *testing.T) {
	llm := &scriptedResponder{degraded: true}
	s, outbox := newTestService(t, llm)

	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "patient message"})

	replied, err := s.ProcessPending(context.Background())
	assert.Error(t, err)
	assert.Zero(t, replied)
	assert.Equal(t, 1, s.PendingCount())
	_, statErr := os.Stat(outbox)
	assert.True(t, os.IsNotExist(statErr))

	// Recovery drains the queued message.
	llm.degraded = false
	replied, err = s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, replied)
}

func TestQueueCapDropsOldestNonUrgent(t *testing.T) {
	llm := &scriptedResponder{}
	s, _ := newTestService(t, llm)

	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserUrgent, map[string]any{"text": "keep me"})
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "old"})
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "newer"})
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "newest"})

	assert.Equal(t, 3, s.PendingCount())

	_, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	assert.NotContains(t, llm.prompts, "old")
	assert.Contains(t, llm.prompts, "keep me")
}

func TestBlankMessagesIgnored(t *testing.T) {
	s, _ := newTestService(t, &scriptedResponder{})
	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "   "})
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{})
	assert.Zero(t, s.PendingCount())
}

func TestParseOutboxRoundTrip(t *testing.T) {
	llm := &scriptedResponder{}
	s, outbox := newTestService(t, llm)

	b := bus.New()
	s.Register(b)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "first"})
	_, err := s.ProcessPending(context.Background())
	require.NoError(t, err)
	b.Publish(context.Background(), bus.TopicUserMessage, map[string]any{"text": "second"})
	_, err = s.ProcessPending(context.Background())
	require.NoError(t, err)

	entries, err := ParseOutbox(outbox)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "reply to: first", entries[0].Text)
	assert.Equal(t, "reply to: second", entries[1].Text)
	assert.NotEmpty(t, entries[0].Stamp)
}

func TestParseOutboxMissingFile(t *testing.T) {
	entries, err := ParseOutbox(filepath.Join(t.TempDir(), "nope.txt"))
	require.NoError(t, err)
	assert.Empty(t, entries)
}
