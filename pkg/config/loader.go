package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// AnimaYAMLConfig represents the complete anima.yaml file structure.
// Every section is optional; omitted sections keep their built-in defaults.
type AnimaYAMLConfig struct {
	Ticks      *TicksConfig       `yaml:"ticks"`
	Ollama     *OllamaConfig      `yaml:"ollama"`
	Cache      *CacheConfig       `yaml:"cache"`
	RateLimit  *RateLimitConfig   `yaml:"rate_limit"`
	Breaker    *BreakerConfig     `yaml:"breaker"`
	Retry      *RetryConfig       `yaml:"retry"`
	Resources  *ResourcesConfig   `yaml:"resources"`
	Memory     *MemoryConfig      `yaml:"memory"`
	Dream      *DreamConfig       `yaml:"dream"`
	Reflection *ReflectionConfig  `yaml:"reflection"`
	Narrative  *NarrativeConfig   `yaml:"narrative"`
	Curiosity  *CuriosityConfig   `yaml:"curiosity"`
	Attention  *AttentionConfig   `yaml:"attention"`
	Strategy   *StrategyConfig    `yaml:"strategy"`
	Shell      *ShellConfig       `yaml:"shell"`
	Server     *ServerConfig      `yaml:"server"`
	Paths      *PathsConfig       `yaml:"paths"`
	Watcher    *WatcherYAMLConfig `yaml:"watcher"`
	Health     *HealthConfig      `yaml:"health"`
	Notify     *NotifyYAMLConfig  `yaml:"notify"`
	Social     *SocialConfig      `yaml:"social"`
}

// Initialize loads, validates, and returns ready-to-use configuration.
// This is the primary entry point for configuration loading.
//
// Steps performed:
//  1. Load anima.yaml from configDir (missing file = built-in defaults)
//  2. Expand environment variables
//  3. Parse YAML into section structs
//  4. Merge file-provided sections over built-in defaults
//  5. Validate the resolved configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}

	log.Info("Configuration initialized successfully",
		"light_tick_sec", cfg.Ticks.LightTickSec,
		"heavy_tick_sec", cfg.Ticks.HeavyTickSec,
		"ollama_base_url", cfg.Ollama.BaseURL,
		"memory_dir", cfg.Memory.Dir,
		"server_addr", cfg.Server.Addr)

	return cfg, nil
}

// load is the internal loader (not exported)
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	file, err := loader.loadAnimaYAML()
	if err != nil {
		return nil, NewLoadError("anima.yaml", err)
	}

	cfg := &Config{configDir: configDir}

	// Each section starts from its built-in defaults; non-zero values from
	// the file override them. Unset booleans are carried as pointers and
	// resolved separately below.
	cfg.Ticks = DefaultTicksConfig()
	if file.Ticks != nil {
		if err := mergo.Merge(cfg.Ticks, file.Ticks, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ticks config: %w", err)
		}
	}

	cfg.Ollama = DefaultOllamaConfig()
	if file.Ollama != nil {
		if err := mergo.Merge(cfg.Ollama, file.Ollama, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge ollama config: %w", err)
		}
	}

	cfg.Cache = DefaultCacheConfig()
	if file.Cache != nil {
		if err := mergo.Merge(cfg.Cache, file.Cache, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge cache config: %w", err)
		}
	}

	cfg.RateLimit = DefaultRateLimitConfig()
	if file.RateLimit != nil {
		if err := mergo.Merge(cfg.RateLimit, file.RateLimit, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge rate_limit config: %w", err)
		}
	}

	cfg.Breaker = DefaultBreakerConfig()
	if file.Breaker != nil {
		if err := mergo.Merge(cfg.Breaker, file.Breaker, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge breaker config: %w", err)
		}
	}

	cfg.Retry = DefaultRetryConfig()
	if file.Retry != nil {
		if err := mergo.Merge(cfg.Retry, file.Retry, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge retry config: %w", err)
		}
	}

	resources := DefaultResourcesConfig()
	if file.Resources != nil && file.Resources.Budget != nil {
		if err := mergo.Merge(resources.Budget, file.Resources.Budget, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge resources.budget config: %w", err)
		}
	}
	cfg.Budget = resources.Budget

	cfg.Memory = DefaultMemoryConfig()
	if file.Memory != nil {
		if err := mergo.Merge(cfg.Memory, file.Memory, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge memory config: %w", err)
		}
	}

	cfg.Dream = DefaultDreamConfig()
	if file.Dream != nil {
		if err := mergo.Merge(cfg.Dream, file.Dream, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge dream config: %w", err)
		}
	}

	cfg.Reflection = DefaultReflectionConfig()
	if file.Reflection != nil {
		if err := mergo.Merge(cfg.Reflection, file.Reflection, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge reflection config: %w", err)
		}
	}

	cfg.Narrative = DefaultNarrativeConfig()
	if file.Narrative != nil {
		if err := mergo.Merge(cfg.Narrative, file.Narrative, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge narrative config: %w", err)
		}
	}

	cfg.Curiosity = DefaultCuriosityConfig()
	if file.Curiosity != nil {
		if err := mergo.Merge(cfg.Curiosity, file.Curiosity, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge curiosity config: %w", err)
		}
	}

	cfg.Attention = DefaultAttentionConfig()
	if file.Attention != nil {
		if err := mergo.Merge(cfg.Attention, file.Attention, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge attention config: %w", err)
		}
	}

	cfg.Strategy = DefaultStrategyConfig()
	if file.Strategy != nil {
		if err := mergo.Merge(cfg.Strategy, file.Strategy, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge strategy config: %w", err)
		}
	}

	cfg.Shell = DefaultShellConfig()
	if file.Shell != nil {
		if err := mergo.Merge(cfg.Shell, file.Shell, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge shell config: %w", err)
		}
	}

	cfg.Server = DefaultServerConfig()
	if file.Server != nil {
		if err := mergo.Merge(cfg.Server, file.Server, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge server config: %w", err)
		}
	}

	cfg.Paths = DefaultPathsConfig()
	if file.Paths != nil {
		if err := mergo.Merge(cfg.Paths, file.Paths, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge paths config: %w", err)
		}
	}

	cfg.Health = DefaultHealthConfig()
	if file.Health != nil {
		if err := mergo.Merge(cfg.Health, file.Health, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge health config: %w", err)
		}
	}

	cfg.Social = DefaultSocialConfig()
	if file.Social != nil {
		if err := mergo.Merge(cfg.Social, file.Social, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge social config: %w", err)
		}
	}

	cfg.Watcher = resolveWatcherConfig(file.Watcher)
	cfg.Notify = resolveNotifyConfig(file.Notify)

	return cfg, nil
}

// validate performs comprehensive validation on loaded configuration
func validate(cfg *Config) error {
	validator := NewValidator(cfg)
	return validator.ValidateAll()
}

type configLoader struct {
	configDir string
}

func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return err
	}

	// Expand environment variables using {{.VAR}} template syntax.
	// ExpandEnv passes through original data on parse/execution errors,
	// letting the YAML parser report the clearer error.
	data = ExpandEnv(data)

	if err := yaml.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

// loadAnimaYAML reads anima.yaml. A missing file is not an error: the being
// runs on built-in defaults. A present but malformed file is fatal.
func (l *configLoader) loadAnimaYAML() (*AnimaYAMLConfig, error) {
	var config AnimaYAMLConfig

	if err := l.loadYAML("anima.yaml", &config); err != nil {
		if errors.Is(err, ErrConfigNotFound) {
			slog.Info("No anima.yaml found, using built-in defaults", "config_dir", l.configDir)
			return &AnimaYAMLConfig{}, nil
		}
		return nil, err
	}

	return &config, nil
}

// resolveWatcherConfig resolves watcher configuration from YAML, applying defaults.
func resolveWatcherConfig(w *WatcherYAMLConfig) *WatcherConfig {
	cfg := &WatcherConfig{
		Enabled: true,
		Dir:     ".",
	}

	if w == nil {
		return cfg
	}

	if w.Enabled != nil {
		cfg.Enabled = *w.Enabled
	}
	if w.Dir != "" {
		cfg.Dir = w.Dir
	}

	return cfg
}

// resolveNotifyConfig resolves Slack notification configuration from YAML, applying defaults.
func resolveNotifyConfig(n *NotifyYAMLConfig) *NotifyConfig {
	cfg := &NotifyConfig{
		Enabled:  false,
		TokenEnv: "SLACK_BOT_TOKEN",
	}

	if n == nil {
		return cfg
	}

	if n.Enabled != nil {
		cfg.Enabled = *n.Enabled
	}
	if n.TokenEnv != "" {
		cfg.TokenEnv = n.TokenEnv
	}
	if n.Channel != "" {
		cfg.Channel = n.Channel
	}

	return cfg
}
