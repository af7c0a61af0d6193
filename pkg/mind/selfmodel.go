package mind

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// driftWindow is how many version records are retained for drift checks;
// driftThreshold is the principle-count delta that counts as drift.
const (
	driftWindow    = 20
	driftThreshold = 5
)

// PrincipleEntry is one learned principle in the self-model.
type PrincipleEntry struct {
	Text    string `json:"text"`
	Source  string `json:"source,omitempty"`
	AddedAt string `json:"added_at"`
}

// SkillStat tracks competence in one action type.
type SkillStat struct {
	Attempts  int     `json:"attempts"`
	Successes int     `json:"successes"`
	Level     float64 `json:"level"`
}

type versionRecord struct {
	Version        int    `json:"version"`
	PrincipleCount int    `json:"principle_count"`
	At             string `json:"at"`
}

// SelfModelSnapshot is the immutable read model.
type SelfModelSnapshot struct {
	Version    int                  `json:"version"`
	Principles []PrincipleEntry     `json:"principles"`
	Skills     map[string]SkillStat `json:"skills"`
}

type selfModelState struct {
	Version    int                  `json:"version"`
	Principles []PrincipleEntry     `json:"principles"`
	Skills     map[string]SkillStat `json:"skills"`
	History    []versionRecord      `json:"history"`
}

// SelfModel holds principles, per-action skills and an identity version
// that increments on every structural change.
type SelfModel struct {
	path   string
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	mu    sync.RWMutex
	state selfModelState
}

func NewSelfModel(path string, b *bus.Bus) *SelfModel {
	return &SelfModel{
		path:   path,
		bus:    b,
		logger: slog.Default().With("component", "selfmodel"),
		now:    time.Now,
		state: selfModelState{
			Version: 1,
			Skills:  map[string]SkillStat{},
		},
	}
}

func (m *SelfModel) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := statefile.LoadJSON(m.path, &m.state); err != nil {
		return err
	}
	if m.state.Skills == nil {
		m.state.Skills = map[string]SkillStat{}
	}
	return nil
}

// AddPrinciple appends a principle unless the exact text is already held.
// Returns true when added; publishes self.principle_added.
func (m *SelfModel) AddPrinciple(text, source string) bool {
	text = strings.TrimSpace(text)
	if text == "" {
		return false
	}

	m.mu.Lock()
	for _, p := range m.state.Principles {
		if p.Text == text {
			m.mu.Unlock()
			return false
		}
	}
	m.state.Principles = append(m.state.Principles, PrincipleEntry{
		Text:    text,
		Source:  source,
		AddedAt: statefile.Stamp(m.now()),
	})
	m.state.Version++
	version := m.state.Version
	m.recordVersionLocked()
	m.persistLocked()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.Publish(context.Background(), bus.TopicPrincipleAdded,
			map[string]any{"text": text, "version": version})
	}
	return true
}

// RecordSkill updates the per-action competence level after an outcome.
func (m *SelfModel) RecordSkill(action string, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stat := m.state.Skills[action]
	stat.Attempts++
	if ok {
		stat.Successes++
	}
	stat.Level = statefile.Clamp3(float64(stat.Successes) / float64(stat.Attempts))
	m.state.Skills[action] = stat
	m.persistLocked()
}

// DetectDrift compares the current identity against the oldest retained
// version record and publishes self.drift_detected when the principle set
// grew past the threshold.
func (m *SelfModel) DetectDrift() bool {
	m.mu.Lock()
	if len(m.state.History) == 0 {
		m.recordVersionLocked()
		m.persistLocked()
		m.mu.Unlock()
		return false
	}
	oldest := m.state.History[0]
	delta := len(m.state.Principles) - oldest.PrincipleCount
	drifted := delta >= driftThreshold
	pastVersion := oldest.Version
	currentVersion := m.state.Version
	m.mu.Unlock()

	if drifted && m.bus != nil {
		m.bus.Publish(context.Background(), bus.TopicDriftDetected, map[string]any{
			"past_version":    pastVersion,
			"current_version": currentVersion,
			"delta":           delta,
		})
	}
	return drifted
}

// Snapshot returns copies of principles and skills.
func (m *SelfModel) Snapshot() SelfModelSnapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()

	principles := make([]PrincipleEntry, len(m.state.Principles))
	copy(principles, m.state.Principles)
	skills := make(map[string]SkillStat, len(m.state.Skills))
	for k, s := range m.state.Skills {
		skills[k] = s
	}
	return SelfModelSnapshot{
		Version:    m.state.Version,
		Principles: principles,
		Skills:     skills,
	}
}

func (m *SelfModel) recordVersionLocked() {
	m.state.History = append(m.state.History, versionRecord{
		Version:        m.state.Version,
		PrincipleCount: len(m.state.Principles),
		At:             statefile.Stamp(m.now()),
	})
	if len(m.state.History) > driftWindow {
		m.state.History = m.state.History[len(m.state.History)-driftWindow:]
	}
}

func (m *SelfModel) persistLocked() {
	if err := statefile.WriteJSON(m.path, m.state); err != nil {
		m.logger.Error("Failed to persist self model", "error", err)
	}
}
