package config

import "time"

// TicksConfig controls the two loop cadences.
type TicksConfig struct {
	// LightTickSec is the heartbeat interval: inbox ingestion, state
	// snapshot rotation, action log entry.
	LightTickSec int `yaml:"light_tick_sec"`

	// HeavyTickSec is the cognitive cycle interval.
	HeavyTickSec int `yaml:"heavy_tick_sec"`
}

// DefaultTicksConfig returns the built-in tick cadences.
func DefaultTicksConfig() *TicksConfig {
	return &TicksConfig{
		LightTickSec: 5,
		HeavyTickSec: 45,
	}
}

// LightInterval returns the light tick cadence as a duration.
func (c *TicksConfig) LightInterval() time.Duration {
	return time.Duration(c.LightTickSec) * time.Second
}

// HeavyInterval returns the heavy tick cadence as a duration.
func (c *TicksConfig) HeavyInterval() time.Duration {
	return time.Duration(c.HeavyTickSec) * time.Second
}
