package mind

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anima-runtime/anima/pkg/episodic"
)

// MetaSnapshot summarizes recent decision quality.
type MetaSnapshot struct {
	DecisionsAnalyzed int            `json:"decisions_analyzed"`
	SuccessRate       float64        `json:"success_rate"`
	ActionCounts      map[string]int `json:"action_counts"`
	DominantAction    string         `json:"dominant_action,omitempty"`
	Assessment        string         `json:"assessment"`
}

// MetaCognition derives decision-quality stats from post-action episodes.
// It holds only the last analysis; the episodes themselves are the durable
// record.
type MetaCognition struct {
	mu   sync.RWMutex
	last MetaSnapshot
}

func NewMetaCognition() *MetaCognition {
	return &MetaCognition{last: MetaSnapshot{Assessment: "no decisions analyzed yet"}}
}

// Analyze recomputes the stats over the given post-action episodes. The
// action type is read from the episode's JSON payload when present.
func (m *MetaCognition) Analyze(episodes []episodic.Episode) MetaSnapshot {
	snap := MetaSnapshot{ActionCounts: map[string]int{}}
	successes := 0
	for _, ep := range episodes {
		snap.DecisionsAnalyzed++
		if ep.Outcome == episodic.OutcomeSuccess {
			successes++
		}
		if action := payloadString(ep, "action"); action != "" {
			snap.ActionCounts[action]++
		}
	}

	if snap.DecisionsAnalyzed > 0 {
		snap.SuccessRate = float64(successes) / float64(snap.DecisionsAnalyzed)
	}
	best := 0
	for action, n := range snap.ActionCounts {
		if n > best || (n == best && action < snap.DominantAction) {
			best = n
			snap.DominantAction = action
		}
	}

	switch {
	case snap.DecisionsAnalyzed == 0:
		snap.Assessment = "no decisions analyzed yet"
	case snap.SuccessRate >= 0.8:
		snap.Assessment = "decisions are landing well"
	case snap.SuccessRate >= 0.5:
		snap.Assessment = "mixed results, worth varying approach"
	default:
		snap.Assessment = "most recent decisions failed, reconsider strategy"
	}

	m.mu.Lock()
	m.last = snap
	m.mu.Unlock()
	return snap
}

// Snapshot returns the last analysis.
func (m *MetaCognition) Snapshot() MetaSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.last
}

// Context renders the last analysis as a prompt fragment.
func (m *MetaCognition) Context() string {
	snap := m.Snapshot()
	if snap.DecisionsAnalyzed == 0 {
		return "meta: " + snap.Assessment
	}
	return fmt.Sprintf("meta: %d decisions, %.0f%% success, %s",
		snap.DecisionsAnalyzed, snap.SuccessRate*100, snap.Assessment)
}

func payloadString(ep episodic.Episode, key string) string {
	if ep.Data == nil {
		return ""
	}
	var payload map[string]any
	if err := json.Unmarshal([]byte(*ep.Data), &payload); err != nil {
		return ""
	}
	s, _ := payload[key].(string)
	return s
}
