package world

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/bus"
)

func TestModelSummaryAndFileCount(t *testing.T) {
	m := NewModel(nil)
	m.SetFileCount(3)
	assert.Equal(t, "3 files, quiet", m.Summary())

	m.RecordChange(KindCreated, "a.txt")
	m.RecordChange(KindChanged, "a.txt")
	m.RecordChange(KindDeleted, "b.txt")

	assert.Equal(t, 3, m.FileCount())
	assert.Contains(t, m.Summary(), "1 created")
	assert.Contains(t, m.Summary(), "1 changed")
	assert.Contains(t, m.Summary(), "1 deleted")
}

func TestModelWindowBounded(t *testing.T) {
	m := NewModel(nil)
	for i := 0; i < maxChanges+50; i++ {
		m.RecordChange(KindChanged, "x.txt")
	}
	assert.Len(t, m.RecentChanges(maxChanges+100), maxChanges)
}

func TestDetectAnomalies(t *testing.T) {
	m := NewModel(nil)
	assert.Empty(t, m.DetectAnomalies())

	for i := 0; i < 5; i++ {
		m.RecordChange(KindDeleted, "doomed.txt")
	}
	for i := 0; i < 3; i++ {
		m.RecordChange(KindChanged, "busy.txt")
	}
	anomalies := m.DetectAnomalies()
	require.Len(t, anomalies, 2)
	assert.Contains(t, anomalies[0], "burst of 5 deletions")
	assert.Contains(t, anomalies[1], "busy.txt")

	// Old changes age out of the anomaly window.
	m.now = func() time.Time { return time.Now().Add(time.Hour) }
	assert.Empty(t, m.DetectAnomalies())
}

func TestModelPublishesWorldUpdated(t *testing.T) {
	b := bus.New()
	var mu sync.Mutex
	var summaries []string
	b.Subscribe(bus.TopicWorldUpdated, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		summaries = append(summaries, ev.Payload["summary"].(string))
		mu.Unlock()
	})

	m := NewModel(b)
	m.RecordChange(KindCreated, "new.txt")

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, summaries)
	assert.Contains(t, summaries[0], "created")
}

func TestWatcherPublishesLifecycleEvents(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seed.txt"), []byte("x"), 0o644))

	b := bus.New()
	var mu sync.Mutex
	events := map[string][]string{}
	record := func(topic string) {
		b.Subscribe(topic, func(ctx context.Context, ev bus.Event) {
			mu.Lock()
			path, _ := ev.Payload["path"].(string)
			events[topic] = append(events[topic], path)
			mu.Unlock()
		})
	}
	record(bus.TopicFileCreated)
	record(bus.TopicFileChanged)
	record(bus.TopicFileDeleted)

	var readyCount any
	b.Subscribe(bus.TopicWorldReady, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		readyCount = ev.Payload["file_count"]
		mu.Unlock()
	})

	model := NewModel(b)
	w := NewWatcher(dir, b, model, "logs")
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	mu.Lock()
	assert.Equal(t, 1, readyCount)
	mu.Unlock()

	target := filepath.Join(dir, "note.txt")
	require.NoError(t, os.WriteFile(target, []byte("hello"), 0o644))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events[bus.TopicFileCreated]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, os.Remove(target))
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events[bus.TopicFileDeleted]) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Contains(t, events[bus.TopicFileCreated], target)
	assert.Contains(t, events[bus.TopicFileDeleted], target)
	mu.Unlock()
}

func TestWatcherIgnoresExcludedDirs(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "logs"), 0o755))

	b := bus.New()
	var mu sync.Mutex
	created := 0
	b.Subscribe(bus.TopicFileCreated, func(ctx context.Context, ev bus.Event) {
		mu.Lock()
		created++
		mu.Unlock()
	})

	model := NewModel(b)
	w := NewWatcher(dir, b, model, "logs")
	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "logs", "a.log"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "seen.txt"), []byte("x"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return created == 1
	}, 2*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Equal(t, 1, created)
	mu.Unlock()
}
