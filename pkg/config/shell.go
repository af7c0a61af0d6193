package config

// CommandPolicy describes how one whitelisted command may be invoked.
type CommandPolicy struct {
	// AllowedFlags lists the only flags the command may carry. Positional
	// arguments are validated separately against the sandbox root.
	AllowedFlags []string `yaml:"allowed_flags"`

	// TimeoutSec bounds a single invocation.
	TimeoutSec int `yaml:"timeout_sec"`
}

// ShellConfig governs the sandboxed command executor.
type ShellConfig struct {
	// Commands maps a command name to its invocation policy. Anything not
	// present here is rejected outright.
	Commands map[string]CommandPolicy `yaml:"commands"`

	// AllowedDir confines path arguments. Relative paths are resolved
	// against it; anything escaping it is rejected.
	AllowedDir string `yaml:"allowed_dir"`

	// OutputCapBytes truncates captured stdout and stderr.
	OutputCapBytes int `yaml:"output_cap_bytes"`
}

// DefaultShellConfig returns the read-mostly command whitelist.
func DefaultShellConfig() *ShellConfig {
	return &ShellConfig{
		Commands: map[string]CommandPolicy{
			"ls":     {AllowedFlags: []string{"-l", "-a", "-h", "-la", "-lh", "-lah"}, TimeoutSec: 5},
			"cat":    {AllowedFlags: []string{"-n"}, TimeoutSec: 5},
			"head":   {AllowedFlags: []string{"-n"}, TimeoutSec: 5},
			"tail":   {AllowedFlags: []string{"-n"}, TimeoutSec: 5},
			"grep":   {AllowedFlags: []string{"-i", "-n", "-r", "-c", "-l"}, TimeoutSec: 10},
			"find":   {AllowedFlags: []string{"-name", "-type", "-maxdepth"}, TimeoutSec: 10},
			"wc":     {AllowedFlags: []string{"-l", "-w", "-c"}, TimeoutSec: 5},
			"echo":   {AllowedFlags: []string{"-n"}, TimeoutSec: 5},
			"pwd":    {TimeoutSec: 5},
			"date":   {TimeoutSec: 5},
			"uptime": {TimeoutSec: 5},
			"whoami": {TimeoutSec: 5},
			"df":     {AllowedFlags: []string{"-h"}, TimeoutSec: 5},
			"du":     {AllowedFlags: []string{"-h", "-s", "-sh"}, TimeoutSec: 10},
			"free":   {AllowedFlags: []string{"-h", "-m"}, TimeoutSec: 5},
			"ps":     {AllowedFlags: []string{"aux", "-e", "-f"}, TimeoutSec: 5},
		},
		AllowedDir:     ".",
		OutputCapBytes: 4096,
	}
}
