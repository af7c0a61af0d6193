package config

import (
	"fmt"
	"math"
	"sync"
)

// Whitelisted runtime-mutable configuration keys. These are the only keys
// the self-modification proposal pipeline may change while the being runs.
const (
	KeyDreamIntervalHours        = "dream.interval_hours"
	KeyReflectionEveryNTicks     = "reflection.every_n_ticks"
	KeyNarrativeEveryNTicks      = "narrative.every_n_ticks"
	KeyCuriosityAskEveryNTicks   = "curiosity.ask_every_n_ticks"
	KeyCuriosityMaxOpenQuestions = "curiosity.max_open_questions"
	KeyAttentionMinScore         = "attention.min_score"
	KeyAttentionTopK             = "attention.top_k"
)

// Bounds is the inclusive numeric range a runtime-mutable key must stay in.
type Bounds struct {
	Min float64
	Max float64
}

var runtimeBounds = map[string]Bounds{
	KeyDreamIntervalHours:        {Min: 1, Max: 48},
	KeyReflectionEveryNTicks:     {Min: 2, Max: 100},
	KeyNarrativeEveryNTicks:      {Min: 5, Max: 200},
	KeyCuriosityAskEveryNTicks:   {Min: 2, Max: 100},
	KeyCuriosityMaxOpenQuestions: {Min: 1, Max: 100},
	KeyAttentionMinScore:         {Min: 0, Max: 1},
	KeyAttentionTopK:             {Min: 1, Max: 50},
}

// ModifiedFunc is invoked after a successful runtime mutation, outside the
// runtime lock. The composition root wires it to a config.modified publish.
type ModifiedFunc func(key string, oldValue, newValue float64)

// Runtime is the mutable view over the whitelisted configuration keys.
// All other configuration is immutable after Initialize. Reads taken during
// a concurrent Set observe either the old or the new value, never a torn one.
type Runtime struct {
	mu         sync.RWMutex
	cfg        *Config
	onModified ModifiedFunc
}

// NewRuntime wraps cfg with the runtime-mutable view.
func NewRuntime(cfg *Config) *Runtime {
	return &Runtime{cfg: cfg}
}

// SetOnModified registers the change callback. Call once during wiring,
// before any Set.
func (r *Runtime) SetOnModified(fn ModifiedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onModified = fn
}

// Keys returns the whitelisted key names in no particular order.
func (r *Runtime) Keys() []string {
	keys := make([]string, 0, len(runtimeBounds))
	for k := range runtimeBounds {
		keys = append(keys, k)
	}
	return keys
}

// BoundsFor returns the allowed range for key.
func (r *Runtime) BoundsFor(key string) (Bounds, error) {
	b, ok := runtimeBounds[key]
	if !ok {
		return Bounds{}, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return b, nil
}

// Get returns the current value of a whitelisted key.
func (r *Runtime) Get(key string) (float64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.get(key)
}

func (r *Runtime) get(key string) (float64, error) {
	switch key {
	case KeyDreamIntervalHours:
		return r.cfg.Dream.IntervalHours, nil
	case KeyReflectionEveryNTicks:
		return float64(r.cfg.Reflection.EveryNTicks), nil
	case KeyNarrativeEveryNTicks:
		return float64(r.cfg.Narrative.EveryNTicks), nil
	case KeyCuriosityAskEveryNTicks:
		return float64(r.cfg.Curiosity.AskEveryNTicks), nil
	case KeyCuriosityMaxOpenQuestions:
		return float64(r.cfg.Curiosity.MaxOpenQuestions), nil
	case KeyAttentionMinScore:
		return r.cfg.Attention.MinScore, nil
	case KeyAttentionTopK:
		return float64(r.cfg.Attention.TopK), nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// Set changes a whitelisted key after bounds enforcement and returns the
// previous value. Integer-valued keys are rounded before assignment.
func (r *Runtime) Set(key string, value float64) (float64, error) {
	bounds, ok := runtimeBounds[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	if value < bounds.Min || value > bounds.Max {
		return 0, fmt.Errorf("%w: %s=%g not in [%g, %g]", ErrValueOutOfBounds, key, value, bounds.Min, bounds.Max)
	}

	r.mu.Lock()
	old, err := r.get(key)
	if err != nil {
		r.mu.Unlock()
		return 0, err
	}

	switch key {
	case KeyDreamIntervalHours:
		r.cfg.Dream.IntervalHours = value
	case KeyReflectionEveryNTicks:
		r.cfg.Reflection.EveryNTicks = int(math.Round(value))
	case KeyNarrativeEveryNTicks:
		r.cfg.Narrative.EveryNTicks = int(math.Round(value))
	case KeyCuriosityAskEveryNTicks:
		r.cfg.Curiosity.AskEveryNTicks = int(math.Round(value))
	case KeyCuriosityMaxOpenQuestions:
		r.cfg.Curiosity.MaxOpenQuestions = int(math.Round(value))
	case KeyAttentionMinScore:
		r.cfg.Attention.MinScore = value
	case KeyAttentionTopK:
		r.cfg.Attention.TopK = int(math.Round(value))
	}
	onModified := r.onModified
	r.mu.Unlock()

	if onModified != nil {
		onModified(key, old, value)
	}
	return old, nil
}

// Typed getters for the whitelisted keys. Cadence gates and attention
// filters read through these every tick, so an approved modification takes
// effect on the next cycle and a concurrent Set is never observed torn.

func (r *Runtime) DreamIntervalHours() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Dream.IntervalHours
}

func (r *Runtime) ReflectionEveryNTicks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Reflection.EveryNTicks
}

func (r *Runtime) NarrativeEveryNTicks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Narrative.EveryNTicks
}

func (r *Runtime) CuriosityAskEveryNTicks() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Curiosity.AskEveryNTicks
}

func (r *Runtime) CuriosityMaxOpenQuestions() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Curiosity.MaxOpenQuestions
}

func (r *Runtime) AttentionMinScore() float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Attention.MinScore
}

func (r *Runtime) AttentionTopK() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.cfg.Attention.TopK
}

// Snapshot returns the current value of every whitelisted key.
func (r *Runtime) Snapshot() map[string]float64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]float64, len(runtimeBounds))
	for k := range runtimeBounds {
		v, _ := r.get(k)
		out[k] = v
	}
	return out
}
