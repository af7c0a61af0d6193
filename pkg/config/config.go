package config

// Config is the umbrella configuration object returned by Initialize()
// and handed to every component at wiring time. All sections are non-nil
// after a successful Initialize.
type Config struct {
	configDir string // Configuration directory path (for reference)

	Ticks     *TicksConfig
	Ollama    *OllamaConfig
	Cache     *CacheConfig
	RateLimit *RateLimitConfig
	Breaker   *BreakerConfig
	Retry     *RetryConfig
	Budget    *BudgetConfig
	Memory    *MemoryConfig

	Dream      *DreamConfig
	Reflection *ReflectionConfig
	Narrative  *NarrativeConfig
	Curiosity  *CuriosityConfig
	Attention  *AttentionConfig
	Strategy   *StrategyConfig

	Shell   *ShellConfig
	Server  *ServerConfig
	Paths   *PathsConfig
	Watcher *WatcherConfig
	Health  *HealthConfig
	Notify  *NotifyConfig
	Social  *SocialConfig
}

// Initialize is defined in loader.go

// ConfigDir returns the configuration directory path
func (c *Config) ConfigDir() string {
	return c.configDir
}
