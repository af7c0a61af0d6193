package config

import (
	"bytes"
	"os"
	"strings"
	"text/template"
)

// ExpandEnv expands environment variables in YAML content using Go templates.
// Uses {{.VAR_NAME}} syntax rather than $VAR so that literal $ survives in
// grep patterns and shell fragments carried by the command whitelist.
//
// Examples:
//   - {{.SLACK_BOT_TOKEN}} → value of SLACK_BOT_TOKEN
//   - {{.OLLAMA_HOST}}:{{.OLLAMA_PORT}} → hostname:port with both expanded
//   - pattern: "^total.*$" → preserved literally ($ not touched)
//
// Missing variables expand to empty string. Validation catches required
// fields left empty.
func ExpandEnv(data []byte) []byte {
	tmpl, err := template.New("config").Option("missingkey=zero").Parse(string(data))
	if err != nil {
		// Content without template syntax passes through untouched; the
		// YAML parser reports its own, clearer error if it is malformed.
		return data
	}

	envMap := make(map[string]string)
	for _, env := range os.Environ() {
		if key, value, ok := strings.Cut(env, "="); ok && key != "" {
			envMap[key] = value
		}
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, envMap); err != nil {
		return data
	}

	return buf.Bytes()
}
