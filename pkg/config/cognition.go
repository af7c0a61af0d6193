package config

// The cadence and shaping knobs below are the only configuration the
// self-modification proposal path may mutate at runtime; see runtime.go for
// the whitelist and its enforced bounds.

// DreamConfig gates memory-consolidation dreams.
type DreamConfig struct {
	IntervalHours float64 `yaml:"interval_hours"`
}

// DefaultDreamConfig returns the built-in dream cadence.
func DefaultDreamConfig() *DreamConfig {
	return &DreamConfig{IntervalHours: 6}
}

// ReflectionConfig gates the periodic reflection step.
type ReflectionConfig struct {
	EveryNTicks int `yaml:"every_n_ticks"`
}

// DefaultReflectionConfig returns the built-in reflection cadence.
func DefaultReflectionConfig() *ReflectionConfig {
	return &ReflectionConfig{EveryNTicks: 10}
}

// NarrativeConfig gates diary writing.
type NarrativeConfig struct {
	EveryNTicks int `yaml:"every_n_ticks"`
}

// DefaultNarrativeConfig returns the built-in narrative cadence.
func DefaultNarrativeConfig() *NarrativeConfig {
	return &NarrativeConfig{EveryNTicks: 20}
}

// CuriosityConfig shapes question generation.
type CuriosityConfig struct {
	AskEveryNTicks   int `yaml:"ask_every_n_ticks"`
	MaxOpenQuestions int `yaml:"max_open_questions"`
}

// DefaultCuriosityConfig returns the built-in curiosity shaping.
func DefaultCuriosityConfig() *CuriosityConfig {
	return &CuriosityConfig{
		AskEveryNTicks:   7,
		MaxOpenQuestions: 20,
	}
}

// AttentionConfig shapes episode selection for prompt context.
type AttentionConfig struct {
	// MinScore filters out episodes scoring below this value.
	MinScore float64 `yaml:"min_score"`

	// TopK bounds how many episodes survive the filter.
	TopK int `yaml:"top_k"`
}

// DefaultAttentionConfig returns the built-in attention shaping.
func DefaultAttentionConfig() *AttentionConfig {
	return &AttentionConfig{
		MinScore: 0.3,
		TopK:     12,
	}
}

// StrategyConfig gates the periodic strategy refresh.
type StrategyConfig struct {
	RefreshIntervalHours float64 `yaml:"refresh_interval_hours"`
}

// DefaultStrategyConfig returns the built-in weekly refresh.
func DefaultStrategyConfig() *StrategyConfig {
	return &StrategyConfig{RefreshIntervalHours: 168}
}
