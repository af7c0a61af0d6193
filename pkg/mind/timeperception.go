package mind

import (
	"fmt"
	"sync"
	"time"
)

// intervalWindow bounds how many recent tick intervals feed the stats.
const intervalWindow = 100

// TimeSnapshot is the immutable read model.
type TimeSnapshot struct {
	TicksObserved  int     `json:"ticks_observed"`
	AvgIntervalSec float64 `json:"avg_interval_sec"`
	DriftRatio     float64 `json:"drift_ratio"`
	Pattern        string  `json:"pattern"`
}

// TimePerception tracks how the observed Heavy Tick cadence compares to the
// configured one.
type TimePerception struct {
	expected time.Duration

	mu        sync.RWMutex
	lastTick  time.Time
	intervals []time.Duration
	observed  int
}

func NewTimePerception(expected time.Duration) *TimePerception {
	return &TimePerception{expected: expected}
}

// RecordTick notes one Heavy Tick start.
func (t *TimePerception) RecordTick(at time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.observed++
	if !t.lastTick.IsZero() {
		t.intervals = append(t.intervals, at.Sub(t.lastTick))
		if len(t.intervals) > intervalWindow {
			t.intervals = t.intervals[len(t.intervals)-intervalWindow:]
		}
	}
	t.lastTick = at
}

// Snapshot derives interval stats and a drift ratio against the configured
// cadence. Ratio 1.0 means on schedule; above means slowing.
func (t *TimePerception) Snapshot() TimeSnapshot {
	t.mu.RLock()
	defer t.mu.RUnlock()

	snap := TimeSnapshot{TicksObserved: t.observed, Pattern: "warming up"}
	if len(t.intervals) == 0 {
		return snap
	}

	var total time.Duration
	for _, iv := range t.intervals {
		total += iv
	}
	avg := total / time.Duration(len(t.intervals))
	snap.AvgIntervalSec = avg.Seconds()
	if t.expected > 0 {
		snap.DriftRatio = avg.Seconds() / t.expected.Seconds()
	}

	switch {
	case snap.DriftRatio == 0:
		snap.Pattern = "unconfigured"
	case snap.DriftRatio > 1.2:
		snap.Pattern = "slowing"
	case snap.DriftRatio < 0.8:
		snap.Pattern = "accelerating"
	default:
		snap.Pattern = "steady"
	}
	return snap
}

// Context renders the perception as a prompt fragment.
func (t *TimePerception) Context() string {
	snap := t.Snapshot()
	if snap.AvgIntervalSec == 0 {
		return fmt.Sprintf("time: %d ticks observed, cadence not yet established", snap.TicksObserved)
	}
	return fmt.Sprintf("time: %d ticks observed, avg interval %.1fs, cadence %s",
		snap.TicksObserved, snap.AvgIntervalSec, snap.Pattern)
}
