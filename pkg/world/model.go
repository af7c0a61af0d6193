// Package world maintains the being's picture of its observed directory: a
// filesystem watcher feeding a rolling change model that the analyze action
// reads for summaries and anomaly detection.
package world

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/bus"
)

// Change kinds recorded by the model.
const (
	KindCreated = "created"
	KindChanged = "changed"
	KindDeleted = "deleted"
)

// maxChanges bounds the rolling change window.
const maxChanges = 200

// Change is one observed filesystem event.
type Change struct {
	Path string    `json:"path"`
	Kind string    `json:"kind"`
	At   time.Time `json:"at"`
}

// Model accumulates recent filesystem changes and derives summaries and
// anomalies from them.
type Model struct {
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	mu          sync.RWMutex
	changes     []Change
	fileCount   int
	lastSummary string
}

// NewModel creates an empty world model. The bus may be nil in tests.
func NewModel(b *bus.Bus) *Model {
	return &Model{
		bus:    b,
		logger: slog.Default().With("component", "world"),
		now:    time.Now,
	}
}

// SetFileCount records the initial scan result.
func (m *Model) SetFileCount(n int) {
	m.mu.Lock()
	m.fileCount = n
	m.mu.Unlock()
}

// FileCount returns the tracked file count.
func (m *Model) FileCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fileCount
}

// RecordChange appends one change to the rolling window, adjusts the file
// count, and publishes world.updated when the summary shifts.
func (m *Model) RecordChange(kind, path string) {
	m.mu.Lock()
	m.changes = append(m.changes, Change{Path: path, Kind: kind, At: m.now()})
	if len(m.changes) > maxChanges {
		m.changes = m.changes[len(m.changes)-maxChanges:]
	}
	switch kind {
	case KindCreated:
		m.fileCount++
	case KindDeleted:
		if m.fileCount > 0 {
			m.fileCount--
		}
	}
	summary := m.summaryLocked()
	changed := summary != m.lastSummary
	if changed {
		m.lastSummary = summary
	}
	m.mu.Unlock()

	if changed && m.bus != nil {
		m.bus.Publish(context.Background(), bus.TopicWorldUpdated, map[string]any{"summary": summary})
	}
}

// Summary describes the current picture in one line.
func (m *Model) Summary() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.summaryLocked()
}

func (m *Model) summaryLocked() string {
	counts := map[string]int{}
	cutoff := m.now().Add(-10 * time.Minute)
	recent := 0
	for _, c := range m.changes {
		if c.At.Before(cutoff) {
			continue
		}
		counts[c.Kind]++
		recent++
	}
	if recent == 0 {
		return fmt.Sprintf("%d files, quiet", m.fileCount)
	}
	kinds := make([]string, 0, len(counts))
	for k := range counts {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)
	parts := make([]string, 0, len(kinds))
	for _, k := range kinds {
		parts = append(parts, fmt.Sprintf("%d %s", counts[k], k))
	}
	return fmt.Sprintf("%d files, last 10m: %s", m.fileCount, strings.Join(parts, ", "))
}

// RecentChanges returns up to limit changes, newest first.
func (m *Model) RecentChanges(limit int) []Change {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := len(m.changes)
	if limit > n {
		limit = n
	}
	out := make([]Change, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, m.changes[i])
	}
	return out
}

// DetectAnomalies flags suspicious recent activity: delete bursts, the same
// file rewritten repeatedly, and sudden growth.
func (m *Model) DetectAnomalies() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var anomalies []string
	now := m.now()

	deletes := 0
	creates := 0
	rewrites := map[string]int{}
	for _, c := range m.changes {
		age := now.Sub(c.At)
		switch {
		case c.Kind == KindDeleted && age <= time.Minute:
			deletes++
		case c.Kind == KindCreated && age <= 5*time.Minute:
			creates++
		case c.Kind == KindChanged && age <= time.Minute:
			rewrites[c.Path]++
		}
	}

	if deletes >= 5 {
		anomalies = append(anomalies, fmt.Sprintf("burst of %d deletions in the last minute", deletes))
	}
	if creates >= 10 {
		anomalies = append(anomalies, fmt.Sprintf("%d new files in the last 5 minutes", creates))
	}
	paths := make([]string, 0, len(rewrites))
	for p, n := range rewrites {
		if n >= 3 {
			paths = append(paths, p)
		}
	}
	sort.Strings(paths)
	for _, p := range paths {
		anomalies = append(anomalies, fmt.Sprintf("file %s rewritten %d times in the last minute", p, rewrites[p]))
	}
	return anomalies
}
