package mind

import (
	"log/slog"
	"math"
	"sync"

	"github.com/anima-runtime/anima/pkg/statefile"
)

// emotionDecay is applied once per cycle; intensities drift toward zero and
// valence toward neutral.
const emotionDecay = 0.95

// EmotionSnapshot is the immutable read model.
type EmotionSnapshot struct {
	Valence     float64            `json:"valence"`
	Arousal     float64            `json:"arousal"`
	Mood        string             `json:"mood"`
	Intensities map[string]float64 `json:"intensities"`
}

type emotionState struct {
	Valence     float64            `json:"valence"`
	Arousal     float64            `json:"arousal"`
	Intensities map[string]float64 `json:"intensities"`
}

// Emotions tracks valence ([-1,1]), arousal ([0,1]) and named emotion
// intensities with per-cycle decay.
type Emotions struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state emotionState
}

func NewEmotions(path string) *Emotions {
	return &Emotions{
		path:   path,
		logger: slog.Default().With("component", "emotions"),
		state: emotionState{
			Arousal: 0.3,
			Intensities: map[string]float64{
				"joy":         0.2,
				"interest":    0.5,
				"frustration": 0.0,
				"calm":        0.5,
			},
		},
	}
}

func (e *Emotions) Load() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return statefile.LoadJSON(e.path, &e.state)
}

// ApplyOutcome shifts the emotional state after an action completes.
func (e *Emotions) ApplyOutcome(ok bool) {
	e.mu.Lock()
	if ok {
		e.state.Valence = clampSigned(e.state.Valence + 0.05)
		e.state.Intensities["joy"] = statefile.Clamp3(e.state.Intensities["joy"] + 0.1)
		e.state.Intensities["calm"] = statefile.Clamp3(e.state.Intensities["calm"] + 0.05)
	} else {
		e.state.Valence = clampSigned(e.state.Valence - 0.07)
		e.state.Intensities["frustration"] = statefile.Clamp3(e.state.Intensities["frustration"] + 0.1)
	}
	e.state.Arousal = statefile.Clamp3(e.state.Arousal + 0.05)
	e.persistLocked()
	e.mu.Unlock()
}

// Decay relaxes intensities and valence toward baseline. Called once per
// Heavy Tick.
func (e *Emotions) Decay() {
	e.mu.Lock()
	e.state.Valence = clampSigned(e.state.Valence * emotionDecay)
	e.state.Arousal = statefile.Clamp3(e.state.Arousal * emotionDecay)
	for name, x := range e.state.Intensities {
		e.state.Intensities[name] = statefile.Clamp3(x * emotionDecay)
	}
	e.persistLocked()
	e.mu.Unlock()
}

// Snapshot returns the current emotional state plus a derived mood label.
func (e *Emotions) Snapshot() EmotionSnapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	intensities := make(map[string]float64, len(e.state.Intensities))
	for k, x := range e.state.Intensities {
		intensities[k] = x
	}
	return EmotionSnapshot{
		Valence:     e.state.Valence,
		Arousal:     e.state.Arousal,
		Mood:        moodLabel(e.state.Valence, e.state.Arousal),
		Intensities: intensities,
	}
}

func (e *Emotions) persistLocked() {
	if err := statefile.WriteJSON(e.path, e.state); err != nil {
		e.logger.Error("Failed to persist emotions", "error", err)
	}
}

// moodLabel maps the valence/arousal plane to a coarse label.
func moodLabel(valence, arousal float64) string {
	switch {
	case valence >= 0.2 && arousal >= 0.5:
		return "excited"
	case valence >= 0.2:
		return "content"
	case valence <= -0.2 && arousal >= 0.5:
		return "agitated"
	case valence <= -0.2:
		return "gloomy"
	default:
		return "neutral"
	}
}

func clampSigned(x float64) float64 {
	if x < -1 {
		x = -1
	}
	if x > 1 {
		x = 1
	}
	return math.Round(x*1000) / 1000
}
