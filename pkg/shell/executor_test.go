package shell

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anima-runtime/anima/pkg/config"
	"github.com/anima-runtime/anima/pkg/episodic"
)

func newTestExecutor(t *testing.T) (*Executor, *episodic.Store) {
	t.Helper()
	dir := t.TempDir()
	store, err := episodic.Open(filepath.Join(dir, "episodic.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	cfg := config.DefaultShellConfig()
	cfg.AllowedDir = dir
	ex, err := New(cfg, store, nil)
	require.NoError(t, err)
	return ex, store
}

func TestPipeRejectedAndRecorded(t *testing.T) {
	ex, store := newTestExecutor(t)

	res := ex.Execute(context.Background(), "cat /etc/passwd | grep root")
	assert.True(t, res.Rejected)
	assert.False(t, res.Success)
	assert.Contains(t, res.Reason, "pipe")
	assert.Contains(t, res.Reason, `"|"`)

	eps := store.GetByType("shell.rejected", 5, "")
	require.Len(t, eps, 1)
	assert.Contains(t, eps[0].Description, "cat /etc/passwd | grep root")
	assert.Equal(t, episodic.OutcomeFailure, eps[0].Outcome)
	assert.Equal(t, 1, ex.Stats().Rejected)
}

func TestMetacharactersRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	cases := map[string]string{
		"echo hi > out.txt":  "redirect",
		"echo hi; echo bye":  "command separator",
		"echo `whoami`":      "backtick",
		"echo $(date)":       "command substitution",
		"echo hi & echo bye": "background",
		"cat < notes.txt":    "redirect",
	}
	for cmd, want := range cases {
		res := ex.Execute(context.Background(), cmd)
		assert.True(t, res.Rejected, cmd)
		assert.Contains(t, res.Reason, want, cmd)
	}
}

func TestNonWhitelistedCommandRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "rm -rf notes")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, `"rm"`)
	assert.Contains(t, res.Reason, "not whitelisted")
}

func TestDisallowedFlagRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "ls --color=always")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "--color=always")
}

func TestPathEscapeRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "cat ../../etc/passwd")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "escapes allowed directory")

	res = ex.Execute(context.Background(), "cat /etc/passwd")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "escapes allowed directory")
}

func TestSymlinkEscapeRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	// A link planted inside the sandbox pointing outside must not pass the
	// containment check, directly or through a linked directory.
	require.NoError(t, os.Symlink("/etc/hostname", filepath.Join(ex.AllowedDir(), "peek")))
	res := ex.Execute(context.Background(), "cat peek")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "escapes allowed directory")

	require.NoError(t, os.Symlink("/etc", filepath.Join(ex.AllowedDir(), "sys")))
	res = ex.Execute(context.Background(), "cat sys/hostname")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "escapes allowed directory")

	// A path under the linked directory that does not exist yet is still
	// confined to where the link points.
	res = ex.Execute(context.Background(), "cat sys/no-such-file")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "escapes allowed directory")
}

func TestAbsolutePathInsideSandboxAllowed(t *testing.T) {
	ex, store := newTestExecutor(t)

	inside := filepath.Join(ex.AllowedDir(), "hello.txt")
	res := ex.Execute(context.Background(), "echo "+inside)
	assert.False(t, res.Rejected)
	assert.True(t, res.Success)

	eps := store.GetByType("shell.executed", 5, "")
	require.Len(t, eps, 1)
	assert.Equal(t, episodic.OutcomeSuccess, eps[0].Outcome)
}

func TestExecuteCapturesOutput(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "echo hello world")
	require.True(t, res.Success)
	assert.Equal(t, "hello world\n", res.Stdout)
	assert.Equal(t, 0, res.ExitCode)
	assert.Greater(t, res.Duration, 0.0)
	assert.Equal(t, 1, ex.Stats().Executed)
}

func TestQuotedArgumentsStayOneToken(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), `echo "hello there world"`)
	require.True(t, res.Success)
	assert.Equal(t, "hello there world\n", res.Stdout)
}

func TestUnbalancedQuoteRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), `echo "unterminated`)
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "unbalanced quote")
}

func TestOutputCapped(t *testing.T) {
	ex, _ := newTestExecutor(t)
	ex.cfg.OutputCapBytes = 10

	res := ex.Execute(context.Background(), "echo aaaaaaaaaaaaaaaaaaaaaaaa")
	require.True(t, res.Success)
	assert.Contains(t, res.Stdout, "[truncated]")
	assert.Len(t, res.Stdout, 10+len("\n...[truncated]"))
}

func TestFailingCommandRecordsError(t *testing.T) {
	ex, store := newTestExecutor(t)

	res := ex.Execute(context.Background(), "cat no_such_file.txt")
	assert.False(t, res.Rejected)
	assert.False(t, res.Success)
	assert.NotEqual(t, 0, res.ExitCode)

	eps := store.GetByType("shell.error", 5, "")
	require.Len(t, eps, 1)
	assert.Equal(t, 1, ex.Stats().Errors)
}

func TestEmptyCommandRejected(t *testing.T) {
	ex, _ := newTestExecutor(t)

	res := ex.Execute(context.Background(), "   ")
	assert.True(t, res.Rejected)
	assert.Contains(t, res.Reason, "empty command")
}
