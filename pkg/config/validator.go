package config

import (
	"fmt"
	"strings"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateTicks(); err != nil {
		return err
	}
	if err := v.validateOllama(); err != nil {
		return err
	}
	if err := v.validateGateway(); err != nil {
		return err
	}
	if err := v.validateBudget(); err != nil {
		return err
	}
	if err := v.validateMemory(); err != nil {
		return err
	}
	if err := v.validateCadences(); err != nil {
		return err
	}
	if err := v.validateShell(); err != nil {
		return err
	}
	if err := v.validateServer(); err != nil {
		return err
	}
	return nil
}

func (v *ConfigValidator) validateTicks() error {
	t := v.cfg.Ticks
	if t.LightTickSec < 1 {
		return NewValidationError("ticks", "light_tick_sec", fmt.Errorf("must be at least 1, got %d", t.LightTickSec))
	}
	if t.HeavyTickSec < 1 {
		return NewValidationError("ticks", "heavy_tick_sec", fmt.Errorf("must be at least 1, got %d", t.HeavyTickSec))
	}
	if t.HeavyTickSec < t.LightTickSec {
		return NewValidationError("ticks", "heavy_tick_sec",
			fmt.Errorf("must not be shorter than light_tick_sec (%d < %d)", t.HeavyTickSec, t.LightTickSec))
	}
	return nil
}

func (v *ConfigValidator) validateOllama() error {
	o := v.cfg.Ollama
	if o.BaseURL == "" {
		return NewValidationError("ollama", "base_url", fmt.Errorf("must not be empty"))
	}
	if !strings.HasPrefix(o.BaseURL, "http://") && !strings.HasPrefix(o.BaseURL, "https://") {
		return NewValidationError("ollama", "base_url", fmt.Errorf("must start with http:// or https://, got %q", o.BaseURL))
	}
	if o.StrategyModel == "" {
		return NewValidationError("ollama", "strategy_model", fmt.Errorf("must not be empty"))
	}
	if o.EmbedModel == "" {
		return NewValidationError("ollama", "embed_model", fmt.Errorf("must not be empty"))
	}
	if o.TimeoutSec < 1 {
		return NewValidationError("ollama", "timeout_sec", fmt.Errorf("must be at least 1, got %d", o.TimeoutSec))
	}
	return nil
}

func (v *ConfigValidator) validateGateway() error {
	if v.cfg.Cache.MaxSize < 1 {
		return NewValidationError("cache", "max_size", fmt.Errorf("must be at least 1, got %d", v.cfg.Cache.MaxSize))
	}
	if v.cfg.Cache.TTLSeconds < 1 {
		return NewValidationError("cache", "ttl_seconds", fmt.Errorf("must be at least 1, got %d", v.cfg.Cache.TTLSeconds))
	}
	rl := v.cfg.RateLimit
	if rl.ChatRate < 0 || rl.EmbedRate < 0 {
		return NewValidationError("rate_limit", "", fmt.Errorf("rates must not be negative"))
	}
	if rl.ChatBurst < 1 {
		return NewValidationError("rate_limit", "chat_burst", fmt.Errorf("must be at least 1, got %d", rl.ChatBurst))
	}
	if rl.EmbedBurst < 1 {
		return NewValidationError("rate_limit", "embed_burst", fmt.Errorf("must be at least 1, got %d", rl.EmbedBurst))
	}
	b := v.cfg.Breaker
	if b.FailureThreshold < 1 {
		return NewValidationError("breaker", "failure_threshold", fmt.Errorf("must be at least 1, got %d", b.FailureThreshold))
	}
	if b.RecoveryTimeoutSec <= 0 {
		return NewValidationError("breaker", "recovery_timeout_sec", fmt.Errorf("must be positive, got %g", b.RecoveryTimeoutSec))
	}
	if b.SuccessThreshold < 1 {
		return NewValidationError("breaker", "success_threshold", fmt.Errorf("must be at least 1, got %d", b.SuccessThreshold))
	}
	r := v.cfg.Retry
	if r.MaxAttempts < 1 {
		return NewValidationError("retry", "max_attempts", fmt.Errorf("must be at least 1, got %d", r.MaxAttempts))
	}
	if r.BaseDelayMs < 0 {
		return NewValidationError("retry", "base_delay_ms", fmt.Errorf("must not be negative, got %d", r.BaseDelayMs))
	}
	return nil
}

func (v *ConfigValidator) validateBudget() error {
	b := v.cfg.Budget
	if b.MaxLLMCalls < 1 {
		return NewValidationError("resources.budget", "max_llm_calls", fmt.Errorf("must be at least 1, got %d", b.MaxLLMCalls))
	}
	if b.MaxWallSec <= 0 {
		return NewValidationError("resources.budget", "max_wall_sec", fmt.Errorf("must be positive, got %g", b.MaxWallSec))
	}
	if b.OptionalMaxLLMCalls < 0 {
		return NewValidationError("resources.budget", "optional_max_llm_calls", fmt.Errorf("must not be negative, got %d", b.OptionalMaxLLMCalls))
	}
	if b.OptionalMaxWallSec < 0 {
		return NewValidationError("resources.budget", "optional_max_wall_sec", fmt.Errorf("must not be negative, got %g", b.OptionalMaxWallSec))
	}
	return nil
}

func (v *ConfigValidator) validateMemory() error {
	m := v.cfg.Memory
	if m.Dir == "" {
		return NewValidationError("memory", "dir", fmt.Errorf("must not be empty"))
	}
	if m.EmbeddingDim < 1 {
		return NewValidationError("memory", "embedding_dim", fmt.Errorf("must be at least 1, got %d", m.EmbeddingDim))
	}
	if m.EpisodicRetentionDays < 0 {
		return NewValidationError("memory", "episodic_retention_days", fmt.Errorf("must not be negative, got %d", m.EpisodicRetentionDays))
	}
	if m.VectorRetentionDays < 0 {
		return NewValidationError("memory", "vector_retention_days", fmt.Errorf("must not be negative, got %d", m.VectorRetentionDays))
	}
	if m.SnapshotKeep < 1 {
		return NewValidationError("memory", "snapshot_keep", fmt.Errorf("must be at least 1, got %d", m.SnapshotKeep))
	}
	return nil
}

// validateCadences checks the runtime-mutable knobs against the same bounds
// the self-modification whitelist enforces, so a hand-edited anima.yaml
// cannot start the being outside the envelope proposals must stay within.
func (v *ConfigValidator) validateCadences() error {
	checks := []struct {
		key   string
		value float64
	}{
		{KeyDreamIntervalHours, v.cfg.Dream.IntervalHours},
		{KeyReflectionEveryNTicks, float64(v.cfg.Reflection.EveryNTicks)},
		{KeyNarrativeEveryNTicks, float64(v.cfg.Narrative.EveryNTicks)},
		{KeyCuriosityAskEveryNTicks, float64(v.cfg.Curiosity.AskEveryNTicks)},
		{KeyCuriosityMaxOpenQuestions, float64(v.cfg.Curiosity.MaxOpenQuestions)},
		{KeyAttentionMinScore, v.cfg.Attention.MinScore},
		{KeyAttentionTopK, float64(v.cfg.Attention.TopK)},
	}
	for _, c := range checks {
		b := runtimeBounds[c.key]
		if c.value < b.Min || c.value > b.Max {
			section, field, _ := strings.Cut(c.key, ".")
			return NewValidationError(section, field,
				fmt.Errorf("%w: %g not in [%g, %g]", ErrValueOutOfBounds, c.value, b.Min, b.Max))
		}
	}
	if v.cfg.Strategy.RefreshIntervalHours <= 0 {
		return NewValidationError("strategy", "refresh_interval_hours", fmt.Errorf("must be positive, got %g", v.cfg.Strategy.RefreshIntervalHours))
	}
	return nil
}

func (v *ConfigValidator) validateShell() error {
	s := v.cfg.Shell
	if len(s.Commands) == 0 {
		return NewValidationError("shell", "commands", fmt.Errorf("whitelist must not be empty"))
	}
	for name, policy := range s.Commands {
		if strings.ContainsAny(name, " \t/|&;<>$`") {
			return NewValidationError("shell", "commands", fmt.Errorf("command name %q contains unsafe characters", name))
		}
		if policy.TimeoutSec < 1 {
			return NewValidationError("shell", "commands", fmt.Errorf("command %q: timeout_sec must be at least 1", name))
		}
	}
	if s.AllowedDir == "" {
		return NewValidationError("shell", "allowed_dir", fmt.Errorf("must not be empty"))
	}
	if s.OutputCapBytes < 1 {
		return NewValidationError("shell", "output_cap_bytes", fmt.Errorf("must be at least 1, got %d", s.OutputCapBytes))
	}
	return nil
}

func (v *ConfigValidator) validateServer() error {
	if v.cfg.Server.Addr == "" {
		return NewValidationError("server", "addr", fmt.Errorf("must not be empty"))
	}
	h := v.cfg.Health
	if h.CheckIntervalSec < 1 {
		return NewValidationError("health", "check_interval_sec", fmt.Errorf("must be at least 1, got %d", h.CheckIntervalSec))
	}
	if h.FailureThreshold < 1 {
		return NewValidationError("health", "failure_threshold", fmt.Errorf("must be at least 1, got %d", h.FailureThreshold))
	}
	return nil
}
