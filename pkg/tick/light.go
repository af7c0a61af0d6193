package tick

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// urgentPrefix marks inbox content that must be delivered as user.urgent.
const urgentPrefix = "!URGENT "

// snapshotPrefix names the rotated light-tick state snapshots.
const snapshotPrefix = "state_"

// LightTicker is the fast heartbeat loop: inbox ingestion, state snapshot
// rotation and an action-log line every interval. Its tick counter is
// process-local and never persisted.
type LightTicker struct {
	interval     time.Duration
	inboxPath    string
	statePath    string
	snapshotsDir string
	keep         int
	actionsLog   string
	bus          *bus.Bus
	logger       *slog.Logger

	tick   atomic.Int64
	cancel context.CancelFunc
	done   chan struct{}
}

// NewLightTicker wires the heartbeat over the given file layout.
func NewLightTicker(interval time.Duration, inboxPath, statePath, snapshotsDir, actionsLog string, keep int, b *bus.Bus) *LightTicker {
	return &LightTicker{
		interval:     interval,
		inboxPath:    inboxPath,
		statePath:    statePath,
		snapshotsDir: snapshotsDir,
		keep:         keep,
		actionsLog:   actionsLog,
		bus:          b,
		logger:       slog.Default().With("component", "light_tick"),
	}
}

// Start launches the loop. Calling Start on a running ticker is a no-op.
func (lt *LightTicker) Start(ctx context.Context) {
	if lt.cancel != nil {
		return
	}
	ctx, lt.cancel = context.WithCancel(ctx)
	lt.done = make(chan struct{})
	go lt.loop(ctx)
	lt.logger.Info("Light ticker started", "interval", lt.interval.String())
}

// Stop cancels the loop and waits for the current iteration to finish.
func (lt *LightTicker) Stop() {
	if lt.cancel == nil {
		return
	}
	lt.cancel()
	<-lt.done
	lt.cancel = nil
}

// Tick returns the process-local light tick counter.
func (lt *LightTicker) Tick() int64 {
	return lt.tick.Load()
}

func (lt *LightTicker) loop(ctx context.Context) {
	defer close(lt.done)
	for {
		start := time.Now()
		lt.iterate(ctx)

		sleep := lt.interval - time.Since(start)
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleep):
		}
	}
}

func (lt *LightTicker) iterate(ctx context.Context) {
	n := lt.tick.Add(1)

	lt.ingestInbox(ctx, n)
	lt.rotateSnapshot()

	line := fmt.Sprintf("[%s] light tick %d", statefile.Stamp(time.Now()), n)
	if err := statefile.AppendLine(lt.actionsLog, line); err != nil {
		lt.logger.Error("Failed to append action log", "error", err)
	}
}

// ingestInbox reads and truncates the inbox before publishing, so a crash
// between the two can only lose the message, never deliver it twice.
func (lt *LightTicker) ingestInbox(ctx context.Context, tick int64) {
	data, err := os.ReadFile(lt.inboxPath)
	if err != nil || len(data) == 0 {
		return
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		return
	}

	if err := os.Truncate(lt.inboxPath, 0); err != nil {
		lt.logger.Error("Failed to truncate inbox, leaving message in place", "error", err)
		return
	}

	topic := bus.TopicUserMessage
	if strings.HasPrefix(text, urgentPrefix) {
		topic = bus.TopicUserUrgent
		text = strings.TrimSpace(strings.TrimPrefix(text, urgentPrefix))
	}
	lt.bus.Publish(ctx, topic, map[string]any{"text": text, "tick": tick})
	lt.logger.Info("Inbox message ingested", "topic", topic, "length", len(text))
}

// rotateSnapshot copies the state file to a timestamped snapshot and prunes
// all but the newest keep.
func (lt *LightTicker) rotateSnapshot() {
	data, err := os.ReadFile(lt.statePath)
	if err != nil {
		return // no state yet
	}

	name := fmt.Sprintf("%s%s.json", snapshotPrefix, time.Now().Format("20060102_150405"))
	if err := statefile.WriteBytes(filepath.Join(lt.snapshotsDir, name), data); err != nil {
		lt.logger.Error("Failed to write state snapshot", "error", err)
		return
	}

	entries, err := os.ReadDir(lt.snapshotsDir)
	if err != nil {
		return
	}
	var snapshots []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), snapshotPrefix) {
			snapshots = append(snapshots, e.Name())
		}
	}
	// Names embed the timestamp, so lexicographic order is age order.
	sort.Strings(snapshots)
	for len(snapshots) > lt.keep {
		if err := os.Remove(filepath.Join(lt.snapshotsDir, snapshots[0])); err != nil {
			lt.logger.Warn("Failed to prune snapshot", "name", snapshots[0], "error", err)
		}
		snapshots = snapshots[1:]
	}
}
