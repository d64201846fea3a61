// Package vcstest builds throwaway git repositories for tests.
package vcstest

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

// NewRepo initializes a repository on branch main with one commit holding README.md and
// returns its absolute path. The test is skipped when git is not installed.
func NewRepo(t testing.TB) string {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git is not installed")
	}

	dir := t.TempDir()
	// Resolve symlinked temp dirs so paths compare equal to what git prints.
	dir, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)

	Git(t, dir, "init", "-b", "main")
	Git(t, dir, "config", "user.email", "test@example.com")
	Git(t, dir, "config", "user.name", "Test User")
	Git(t, dir, "config", "commit.gpgsign", "false")
	WriteAndCommit(t, dir, "README.md", "initial content\n", "Initial commit")
	return dir
}

// Git runs git in dir and returns its trimmed output, failing the test on error.
func Git(t testing.TB, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	output, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %s: %s", strings.Join(args, " "), output)
	return strings.TrimSpace(string(output))
}

// WriteFile writes content to name inside dir, creating parent directories.
func WriteFile(t testing.TB, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// WriteAndCommit writes a file, commits it and returns the new HEAD.
func WriteAndCommit(t testing.TB, dir, name, content, message string) string {
	t.Helper()
	WriteFile(t, dir, name, content)
	Git(t, dir, "add", name)
	Git(t, dir, "commit", "-m", message)
	return Head(t, dir)
}

// Head returns the commit checked out in dir.
func Head(t testing.TB, dir string) string {
	t.Helper()
	return Git(t, dir, "rev-parse", "HEAD")
}
