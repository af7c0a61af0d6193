package config

import "time"

// PathsConfig holds the filesystem locations the being reads and writes.
// Relative paths are resolved against the working directory.
type PathsConfig struct {
	Inbox      string `yaml:"inbox"`
	Outbox     string `yaml:"outbox"`
	LogsDir    string `yaml:"logs_dir"`
	SandboxDir string `yaml:"sandbox_dir"`
}

// DefaultPathsConfig returns the built-in file layout.
func DefaultPathsConfig() *PathsConfig {
	return &PathsConfig{
		Inbox:      "inbox.txt",
		Outbox:     "outbox.txt",
		LogsDir:    "logs",
		SandboxDir: "sandbox",
	}
}

// WatcherConfig holds resolved filesystem watcher configuration.
type WatcherConfig struct {
	Enabled bool
	Dir     string // Watched directory (default: ".")
}

// WatcherYAMLConfig holds filesystem watcher settings from YAML.
type WatcherYAMLConfig struct {
	Enabled *bool  `yaml:"enabled,omitempty"`
	Dir     string `yaml:"dir,omitempty"`
}

// HealthConfig holds the Ollama health monitor settings.
type HealthConfig struct {
	// CheckIntervalSec is the probe cadence.
	CheckIntervalSec int `yaml:"check_interval_sec"`

	// FailureThreshold is how many consecutive probe failures flip the
	// service to unhealthy.
	FailureThreshold int `yaml:"failure_threshold"`
}

// CheckInterval returns the probe cadence as a duration.
func (c *HealthConfig) CheckInterval() time.Duration {
	return time.Duration(c.CheckIntervalSec) * time.Second
}

// DefaultHealthConfig returns the built-in probe cadence.
func DefaultHealthConfig() *HealthConfig {
	return &HealthConfig{
		CheckIntervalSec: 30,
		FailureThreshold: 3,
	}
}

// NotifyConfig holds resolved Slack notification configuration.
type NotifyConfig struct {
	Enabled  bool
	TokenEnv string // Env var name for Slack bot token (default: "SLACK_BOT_TOKEN")
	Channel  string // Slack channel ID (e.g., "C12345678")
}

// NotifyYAMLConfig holds Slack notification settings from YAML.
type NotifyYAMLConfig struct {
	Enabled  *bool  `yaml:"enabled,omitempty"`
	TokenEnv string `yaml:"token_env,omitempty"`
	Channel  string `yaml:"channel,omitempty"`
}

// SocialConfig shapes interaction tracking and outbox delivery.
type SocialConfig struct {
	// MaxPending caps queued outbound messages awaiting delivery.
	MaxPending int `yaml:"max_pending"`
}

// DefaultSocialConfig returns the built-in social settings.
func DefaultSocialConfig() *SocialConfig {
	return &SocialConfig{MaxPending: 50}
}
