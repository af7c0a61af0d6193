package mind

import (
	"context"
	"log/slog"
	"sync"

	"github.com/anima-runtime/anima/pkg/bus"
	"github.com/anima-runtime/anima/pkg/statefile"
)

// Default value scores. The names are fixed; only the scores evolve.
func defaultValueScores() map[string]float64 {
	return map[string]float64{
		"curiosity":  0.7,
		"growth":     0.6,
		"connection": 0.5,
		"stability":  0.5,
		"creativity": 0.6,
	}
}

// actionValueMap names the values each action type exercises.
var actionValueMap = map[string][]string{
	"observe": {"curiosity", "stability"},
	"analyze": {"curiosity", "growth"},
	"write":   {"creativity", "connection"},
	"reflect": {"growth", "stability"},
	"shell":   {"curiosity", "creativity"},
}

const (
	valueSuccessDelta = 0.01
	valueFailureDelta = -0.005
)

// Values holds the named value scores, clamped to [0,1] and rounded to
// three decimals on every mutation.
type Values struct {
	path   string
	bus    *bus.Bus
	logger *slog.Logger

	mu     sync.RWMutex
	scores map[string]float64
}

func NewValues(path string, b *bus.Bus) *Values {
	return &Values{
		path:   path,
		bus:    b,
		logger: slog.Default().With("component", "values"),
		scores: defaultValueScores(),
	}
}

// Load merges the persisted file over the defaults.
func (v *Values) Load() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return statefile.LoadJSON(v.path, &v.scores)
}

// UpdateByOutcome nudges the values tied to the executed action type and
// publishes value.changed.
func (v *Values) UpdateByOutcome(action string, ok bool) {
	delta := valueFailureDelta
	if ok {
		delta = valueSuccessDelta
	}

	v.mu.Lock()
	for _, name := range actionValueMap[action] {
		if _, present := v.scores[name]; present {
			v.scores[name] = statefile.Clamp3(v.scores[name] + delta)
		}
	}
	snapshot := v.copyLocked()
	if err := statefile.WriteJSON(v.path, v.scores); err != nil {
		v.logger.Error("Failed to persist values", "error", err)
	}
	v.mu.Unlock()

	if v.bus != nil {
		v.bus.Publish(context.Background(), bus.TopicValueChanged, map[string]any{
			"scores":  snapshot,
			"mode":    "outcome",
			"context": action,
		})
	}
}

// Snapshot returns a copy of the current scores.
func (v *Values) Snapshot() map[string]float64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.copyLocked()
}

func (v *Values) copyLocked() map[string]float64 {
	out := make(map[string]float64, len(v.scores))
	for k, s := range v.scores {
		out[k] = s
	}
	return out
}
