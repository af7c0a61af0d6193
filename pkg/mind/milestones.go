package mind

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Milestone is a threshold over one named counter.
type Milestone struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Counter     string `json:"counter"`
	Threshold   int64  `json:"threshold"`
	AchievedAt  string `json:"achieved_at,omitempty"`
}

// defaultMilestones is the built-in set; achieved timestamps are merged in
// from the state file.
func defaultMilestones() []Milestone {
	return []Milestone{
		{Name: "first_tick", Description: "Completed the first cognitive cycle", Counter: "ticks", Threshold: 1},
		{Name: "hundred_ticks", Description: "Completed one hundred cognitive cycles", Counter: "ticks", Threshold: 100},
		{Name: "thousand_ticks", Description: "Completed one thousand cognitive cycles", Counter: "ticks", Threshold: 1000},
		{Name: "first_goal", Description: "Completed the first goal", Counter: "goals_completed", Threshold: 1},
		{Name: "ten_goals", Description: "Completed ten goals", Counter: "goals_completed", Threshold: 10},
		{Name: "first_principle", Description: "Learned the first principle", Counter: "principles", Threshold: 1},
		{Name: "ten_principles", Description: "Learned ten principles", Counter: "principles", Threshold: 10},
		{Name: "busy_memory", Description: "Recorded one thousand episodes", Counter: "episodes", Threshold: 1000},
	}
}

// Milestones tracks achievement thresholds over runtime counters and
// publishes milestone.achieved exactly once per milestone.
type Milestones struct {
	path   string
	bus    *bus.Bus
	logger *slog.Logger
	now    func() time.Time

	mu  sync.RWMutex
	set []Milestone
}

func NewMilestones(path string, b *bus.Bus) *Milestones {
	return &Milestones{
		path:   path,
		bus:    b,
		logger: slog.Default().With("component", "milestones"),
		now:    time.Now,
		set:    defaultMilestones(),
	}
}

// Load merges persisted achievement stamps over the built-in set by name.
func (m *Milestones) Load() error {
	var persisted []Milestone
	if err := statefile.LoadJSON(m.path, &persisted); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range persisted {
		for i := range m.set {
			if m.set[i].Name == p.Name {
				m.set[i].AchievedAt = p.AchievedAt
			}
		}
	}
	return nil
}

// Check evaluates every unachieved milestone against the counters and
// returns the newly achieved ones.
func (m *Milestones) Check(counters map[string]int64) []Milestone {
	var achieved []Milestone

	m.mu.Lock()
	for i := range m.set {
		ms := &m.set[i]
		if ms.AchievedAt != "" {
			continue
		}
		if counters[ms.Counter] >= ms.Threshold {
			ms.AchievedAt = statefile.Stamp(m.now())
			achieved = append(achieved, *ms)
		}
	}
	if len(achieved) > 0 {
		if err := statefile.WriteJSON(m.path, m.set); err != nil {
			m.logger.Error("Failed to persist milestones", "error", err)
		}
	}
	m.mu.Unlock()

	if m.bus != nil {
		for _, ms := range achieved {
			m.bus.Publish(context.Background(), bus.TopicMilestoneAchieved, map[string]any{
				"name":    ms.Name,
				"desc":    ms.Description,
				"context": ms.Counter,
			})
		}
	}
	return achieved
}

// Snapshot returns a copy of the milestone set.
func (m *Milestones) Snapshot() []Milestone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Milestone, len(m.set))
	copy(out, m.set)
	return out
}
