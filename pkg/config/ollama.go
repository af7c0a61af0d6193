package config

import "time"

// OllamaConfig binds the LLM backend.
type OllamaConfig struct {
	// BaseURL is the root of the Ollama-compatible HTTP API.
	BaseURL string `yaml:"base_url"`

	// StrategyModel handles chat-style generation (monologue, goals,
	// reflection, social replies).
	StrategyModel string `yaml:"strategy_model"`

	// EmbedModel produces embeddings for the vector store.
	EmbedModel string `yaml:"embed_model"`

	// TimeoutSec is the per-request timeout.
	TimeoutSec int `yaml:"timeout_sec"`
}

// DefaultOllamaConfig returns the built-in backend bindings.
func DefaultOllamaConfig() *OllamaConfig {
	return &OllamaConfig{
		BaseURL:       "http://localhost:11434",
		StrategyModel: "llama3.1",
		EmbedModel:    "nomic-embed-text",
		TimeoutSec:    60,
	}
}

// Timeout returns the per-request timeout as a duration.
func (c *OllamaConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}
