package config

import "time"

// CacheConfig sizes the LLM response cache.
type CacheConfig struct {
	// MaxSize is the LRU capacity in entries.
	MaxSize int `yaml:"max_size"`

	// TTLSeconds is how long a cached response stays valid.
	TTLSeconds int `yaml:"ttl_seconds"`
}

// DefaultCacheConfig returns the built-in response-cache sizing.
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		MaxSize:    256,
		TTLSeconds: 300,
	}
}

// TTL returns the cache entry lifetime as a duration.
func (c *CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateLimitConfig defines the per-operation token buckets.
// Each logical operation keeps a bucket of capacity burst refilled at
// rate tokens per second; one request consumes one token.
type RateLimitConfig struct {
	ChatRate   float64 `yaml:"chat_rate"`
	ChatBurst  int     `yaml:"chat_burst"`
	EmbedRate  float64 `yaml:"embed_rate"`
	EmbedBurst int     `yaml:"embed_burst"`
}

// DefaultRateLimitConfig returns the built-in bucket parameters.
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		ChatRate:   1.0,
		ChatBurst:  3,
		EmbedRate:  5.0,
		EmbedBurst: 10,
	}
}

// BreakerConfig parameterizes the per-backend circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the circuit.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeoutSec is how long the circuit stays open before a
	// half-open probe is allowed.
	RecoveryTimeoutSec float64 `yaml:"recovery_timeout_sec"`

	// SuccessThreshold is the consecutive-success count in half-open
	// state that closes the circuit.
	SuccessThreshold int `yaml:"success_threshold"`
}

// DefaultBreakerConfig returns the built-in breaker thresholds.
func DefaultBreakerConfig() *BreakerConfig {
	return &BreakerConfig{
		FailureThreshold:   5,
		RecoveryTimeoutSec: 60,
		SuccessThreshold:   2,
	}
}

// RecoveryTimeout returns the open-state hold time as a duration.
func (c *BreakerConfig) RecoveryTimeout() time.Duration {
	return time.Duration(c.RecoveryTimeoutSec * float64(time.Second))
}

// RetryConfig parameterizes the transient-failure retry loop.
type RetryConfig struct {
	// MaxAttempts bounds the number of tries per call.
	MaxAttempts int `yaml:"max_attempts"`

	// BaseDelayMs is the backoff base; attempt n sleeps base * 2^n.
	BaseDelayMs int `yaml:"base_delay_ms"`
}

// DefaultRetryConfig returns the built-in retry policy.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts: 3,
		BaseDelayMs: 500,
	}
}

// BaseDelay returns the backoff base as a duration.
func (c *RetryConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelayMs) * time.Millisecond
}
