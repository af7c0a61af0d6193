// Package shell implements the restricted command runner behind the "shell"
// action type and POST /shell/execute. Commands run with no shell
// interpretation; everything the whitelist does not explicitly allow is
// rejected and recorded as a shell.rejected episode.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
	"github.com/anima-runtime/anima/pkg/metrics"
)

// Result is the structured outcome of one Execute call.
type Result struct {
	Success  bool    `json:"success"`
	Rejected bool    `json:"rejected"`
	Reason   string  `json:"reason,omitempty"`
	Stdout   string  `json:"stdout"`
	Stderr   string  `json:"stderr"`
	ExitCode int     `json:"exit_code"`
	Duration float64 `json:"execution_time_sec"`
}

// Stats is the cumulative executor ledger for /shell/stats.
type Stats struct {
	Executed int `json:"executed"`
	Rejected int `json:"rejected"`
	Errors   int `json:"errors"`
}

// Executor validates and runs whitelisted commands inside the allowed
// directory.
type Executor struct {
	cfg        *config.ShellConfig
	episodes   *episodic.Store
	metrics    *metrics.Metrics
	allowedDir string
	logger     *slog.Logger

	mu    sync.Mutex
	stats Stats
}

// New creates an executor. The configured allowed directory is resolved to
// an absolute, symlink-free path once at construction.
func New(cfg *config.ShellConfig, episodes *episodic.Store, m *metrics.Metrics) (*Executor, error) {
	abs, err := filepath.Abs(cfg.AllowedDir)
	if err != nil {
		return nil, fmt.Errorf("resolve allowed dir: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return &Executor{
		cfg:        cfg,
		episodes:   episodes,
		metrics:    m,
		allowedDir: abs,
		logger:     slog.Default().With("component", "shell"),
	}, nil
}

// forbidden metacharacters: any occurrence anywhere in the raw command
// rejects it before tokenization.
var forbidden = []struct {
	seq  string
	name string
}{
	{"|", "pipe"},
	{">", "redirect"},
	{"<", "redirect"},
	{"&", "background"},
	{";", "command separator"},
	{"`", "backtick"},
	{"$(", "command substitution"},
	{"\n", "newline"},
}

// Execute validates and runs one command, recording the outcome as an
// episode either way.
func (e *Executor) Execute(ctx context.Context, command string) Result {
	argv, policy, reason := e.validate(command)
	if reason != "" {
		e.mu.Lock()
		e.stats.Rejected++
		e.mu.Unlock()
		if e.metrics != nil {
			e.metrics.ShellRejected.Inc()
		}
		e.logger.Warn("Shell command rejected", "command", command, "reason", reason)
		e.recordEpisode("shell.rejected", fmt.Sprintf("rejected %q: %s", command, reason),
			episodic.OutcomeFailure, map[string]any{"command": command, "reason": reason})
		return Result{Rejected: true, Reason: reason, Stderr: reason}
	}

	timeout := time.Duration(policy.TimeoutSec) * time.Second
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = e.allowedDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	res := Result{
		Stdout:   e.cap(stdout.String()),
		Stderr:   e.cap(stderr.String()),
		Duration: elapsed.Seconds(),
	}

	switch {
	case runCtx.Err() == context.DeadlineExceeded:
		res.Success = false
		res.ExitCode = -1
		res.Stderr = fmt.Sprintf("command timed out after %s", timeout)
		e.countError()
		e.recordEpisode("shell.error", fmt.Sprintf("timeout running %q", command),
			episodic.OutcomeFailure, map[string]any{"command": command, "timeout_sec": policy.TimeoutSec})
	case err != nil:
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
			if res.Stderr == "" {
				res.Stderr = err.Error()
			}
		}
		e.countError()
		e.recordEpisode("shell.error", fmt.Sprintf("command %q failed: %v", command, err),
			episodic.OutcomeFailure, map[string]any{"command": command, "exit_code": res.ExitCode})
	default:
		res.Success = true
		e.mu.Lock()
		e.stats.Executed++
		e.mu.Unlock()
		e.recordEpisode("shell.executed", fmt.Sprintf("executed %q", command),
			episodic.OutcomeSuccess, map[string]any{"command": command, "duration_sec": res.Duration})
	}
	return res
}

// validate returns the parsed argv and its policy, or a non-empty rejection
// reason.
func (e *Executor) validate(command string) ([]string, config.CommandPolicy, string) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return nil, config.CommandPolicy{}, "empty command"
	}

	for _, f := range forbidden {
		if strings.Contains(trimmed, f.seq) {
			return nil, config.CommandPolicy{}, fmt.Sprintf("disallowed %s character %q", f.name, f.seq)
		}
	}

	argv, err := tokenize(trimmed)
	if err != nil {
		return nil, config.CommandPolicy{}, err.Error()
	}
	if len(argv) == 0 {
		return nil, config.CommandPolicy{}, "empty command"
	}

	policy, ok := e.cfg.Commands[argv[0]]
	if !ok {
		return nil, config.CommandPolicy{}, fmt.Sprintf("command %q not whitelisted", argv[0])
	}

	for _, arg := range argv[1:] {
		if allowedFlag(policy, arg) {
			continue
		}
		if strings.HasPrefix(arg, "-") {
			return nil, config.CommandPolicy{}, fmt.Sprintf("flag %q not allowed for %q", arg, argv[0])
		}
		if reason := e.confinePath(arg); reason != "" {
			return nil, config.CommandPolicy{}, reason
		}
	}

	return argv, policy, ""
}

func allowedFlag(policy config.CommandPolicy, arg string) bool {
	for _, f := range policy.AllowedFlags {
		if f == arg {
			return true
		}
	}
	return false
}

// confinePath resolves a positional argument against the allowed directory
// and rejects anything escaping it, following symlinks so a link planted
// inside the sandbox cannot point out of it. Non-path positionals (grep
// patterns, counts) resolve inside the directory and pass; existence is not
// required.
func (e *Executor) confinePath(arg string) string {
	resolved := arg
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(e.allowedDir, resolved)
	}
	resolved = resolveSymlinks(filepath.Clean(resolved))
	if resolved != e.allowedDir && !strings.HasPrefix(resolved, e.allowedDir+string(filepath.Separator)) {
		return fmt.Sprintf("path %q escapes allowed directory", arg)
	}
	return ""
}

// resolveSymlinks evaluates symlinks in path. When the path does not exist
// yet, its deepest existing ancestor is resolved and the remainder rejoined,
// so a not-yet-created file under a linked directory still lands where the
// link points.
func resolveSymlinks(path string) string {
	if real, err := filepath.EvalSymlinks(path); err == nil {
		return real
	}
	dir, rest := path, ""
	for dir != string(filepath.Separator) && dir != "." {
		parent, base := filepath.Split(filepath.Clean(dir))
		rest = filepath.Join(base, rest)
		dir = filepath.Clean(parent)
		if real, err := filepath.EvalSymlinks(dir); err == nil {
			return filepath.Join(real, rest)
		}
	}
	return path
}

// tokenize splits a command into argv under shell-safe rules: whitespace
// separates tokens, single and double quotes group, nothing is expanded.
func tokenize(s string) ([]string, error) {
	var argv []string
	var cur strings.Builder
	inToken := false
	var quote rune

	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			} else {
				cur.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inToken = true
		case r == ' ' || r == '\t':
			if inToken {
				argv = append(argv, cur.String())
				cur.Reset()
				inToken = false
			}
		default:
			cur.WriteRune(r)
			inToken = true
		}
	}
	if quote != 0 {
		return nil, fmt.Errorf("unbalanced quote in command")
	}
	if inToken {
		argv = append(argv, cur.String())
	}
	return argv, nil
}

func (e *Executor) cap(s string) string {
	if len(s) <= e.cfg.OutputCapBytes {
		return s
	}
	return s[:e.cfg.OutputCapBytes] + "\n...[truncated]"
}

func (e *Executor) countError() {
	e.mu.Lock()
	e.stats.Errors++
	e.mu.Unlock()
}

func (e *Executor) recordEpisode(eventType, description, outcome string, data map[string]any) {
	if e.episodes == nil {
		return
	}
	if id := e.episodes.AddEpisode(eventType, description, outcome, data); id == 0 {
		e.logger.Warn("Failed to record shell episode", "event_type", eventType)
	}
}

// Stats returns the cumulative counters.
func (e *Executor) Stats() Stats {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stats
}

// AllowedDir returns the resolved sandbox root.
func (e *Executor) AllowedDir() string {
	return e.allowedDir
}
