package config

// ResourcesConfig groups per-cycle resource accounting.
type ResourcesConfig struct {
	Budget *BudgetConfig `yaml:"budget"`
}

// BudgetConfig caps LLM calls and wall-clock seconds per priority class for
// one heavy-tick cycle. Critical work is never refused admission; the caps
// below bound the important and optional classes.
type BudgetConfig struct {
	// MaxLLMCalls is the hard cap on LLM calls for the important class.
	MaxLLMCalls int `yaml:"max_llm_calls"`

	// MaxWallSec is the wall-clock cap for the important class.
	MaxWallSec float64 `yaml:"max_wall_sec"`

	// OptionalMaxLLMCalls caps LLM calls for the optional class.
	OptionalMaxLLMCalls int `yaml:"optional_max_llm_calls"`

	// OptionalMaxWallSec caps wall-clock seconds for the optional class.
	OptionalMaxWallSec float64 `yaml:"optional_max_wall_sec"`
}

// DefaultResourcesConfig returns the built-in budget caps.
func DefaultResourcesConfig() *ResourcesConfig {
	return &ResourcesConfig{
		Budget: &BudgetConfig{
			MaxLLMCalls:         10,
			MaxWallSec:          90,
			OptionalMaxLLMCalls: 5,
			OptionalMaxWallSec:  45,
		},
	}
}
