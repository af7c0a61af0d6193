package config

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestExpandEnv(t *testing.T) {
	tests := []struct {
		name  string
		input string
		env   map[string]string
		want  string
	}{
		{
			name:  "single variable",
			input: "channel: {{.SLACK_CHANNEL}}",
			env:   map[string]string{"SLACK_CHANNEL": "C12345678"},
			want:  "channel: C12345678",
		},
		{
			name:  "multiple variables in one line",
			input: "base_url: http://{{.OLLAMA_HOST}}:{{.OLLAMA_PORT}}",
			env:   map[string]string{"OLLAMA_HOST": "localhost", "OLLAMA_PORT": "11434"},
			want:  "base_url: http://localhost:11434",
		},
		{
			name:  "missing variable expands to empty",
			input: "token_env: {{.NOT_SET_ANYWHERE}}",
			want:  "token_env: ",
		},
		{
			name:  "literal dollar syntax is not touched",
			input: `pattern: "^total.*$" # also ${HOME} and $PATH`,
			want:  `pattern: "^total.*$" # also ${HOME} and $PATH`,
		},
		{
			name:  "content without templates passes through",
			input: "snapshot_keep: 10\nembedding_dim: 768",
			want:  "snapshot_keep: 10\nembedding_dim: 768",
		},
		{
			name: "nested yaml structure",
			input: `ollama:
  base_url: {{.OLLAMA_URL}}
  strategy_model: {{.STRATEGY_MODEL}}`,
			env: map[string]string{
				"OLLAMA_URL":     "http://localhost:11434",
				"STRATEGY_MODEL": "qwen3:8b",
			},
			want: `ollama:
  base_url: http://localhost:11434
  strategy_model: qwen3:8b`,
		},
		{
			name:  "special characters in value survive",
			input: "value: {{.ODD}}",
			env:   map[string]string{"ODD": "p@ss$w0rd!#%"},
			want:  "value: p@ss$w0rd!#%",
		},
		{
			name:  "empty input",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			assert.Equal(t, tt.want, string(ExpandEnv([]byte(tt.input))))
		})
	}
}

func TestExpandEnvMalformedTemplatePassesThrough(t *testing.T) {
	// Unparseable template syntax comes back unchanged; the YAML parser
	// produces the clearer error downstream.
	for _, input := range []string{
		"key: {{.UNCLOSED",
		"key: {{",
		"key: {{.A .B}}",
	} {
		assert.Equal(t, input, string(ExpandEnv([]byte(input))), input)
	}
}

func TestExpandEnvResultIsValidYAML(t *testing.T) {
	t.Setenv("TEST_ADDR", ":9090")
	expanded := ExpandEnv([]byte("server:\n  addr: \"{{.TEST_ADDR}}\""))

	var doc struct {
		Server *ServerConfig `yaml:"server"`
	}
	require.NoError(t, yaml.Unmarshal(expanded, &doc))
	assert.Equal(t, ":9090", doc.Server.Addr)
}

func TestExpandEnvConcurrent(t *testing.T) {
	t.Setenv("TEST_VAR", "value")
	input := []byte("key: {{.TEST_VAR}}")

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Equal(t, "key: value", string(ExpandEnv(input)))
		}()
	}
	wg.Wait()
}
