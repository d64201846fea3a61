package vcs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/ByteMirror/convoy/log"
)

// Pre-compiled regexes for branch name sanitization.
var (
	unsafeCharsRegex = regexp.MustCompile(`[^a-z0-9\-_/.]+`)
	multiDashRegex   = regexp.MustCompile(`-+`)
)

// SanitizeBranchName transforms an arbitrary string into a Git branch name friendly string.
func SanitizeBranchName(s string) string {
	s = strings.ToLower(s)
	s = strings.ReplaceAll(s, " ", "-")
	s = unsafeCharsRegex.ReplaceAllString(s, "")
	s = multiDashRegex.ReplaceAllString(s, "-")
	s = strings.Trim(s, "-/")
	return s
}

// Repo runs git subprocesses against one working tree. The path is always absolute and is
// passed with -C, so the process working directory never matters.
type Repo struct {
	path string
}

// At returns a Repo for the working tree at path without checking that it is one.
func At(path string) (*Repo, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve %s: %w", path, err)
	}
	return &Repo{path: absPath}, nil
}

// Path returns the absolute path of the working tree.
func (r *Repo) Path() string {
	return r.path
}

// run executes a git command and returns its stdout. On failure the returned output is still
// populated so callers can inspect what git printed.
func (r *Repo) run(ctx context.Context, args ...string) (string, error) {
	baseArgs := []string{"-C", r.path}
	cmd := exec.CommandContext(ctx, "git", append(baseArgs, args...)...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if log.IsDebugEnabled() {
		log.DebugLog.Print(log.FormatCommand("git", cmd.Args[1:]...))
	}
	if err := cmd.Run(); err != nil {
		output := strings.TrimSpace(stdout.String() + "\n" + stderr.String())
		return stdout.String() + stderr.String(), fmt.Errorf("git %s failed: %s (%w)", args[0], output, err)
	}
	return stdout.String(), nil
}

// Head returns the commit the working tree has checked out.
func (r *Repo) Head(ctx context.Context) (string, error) {
	return r.RevParse(ctx, "HEAD")
}

// RevParse resolves rev to a full commit hash.
func (r *Repo) RevParse(ctx context.Context, rev string) (string, error) {
	output, err := r.run(ctx, "rev-parse", "--verify", rev+"^{commit}")
	if err != nil {
		if rev == "HEAD" && (strings.Contains(output, "ambiguous argument 'HEAD'") ||
			strings.Contains(output, "Needed a single revision") ||
			strings.Contains(output, "not a valid object name")) {
			return "", fmt.Errorf("this appears to be a brand new repository: please create an initial commit first: %w", err)
		}
		return "", fmt.Errorf("failed to resolve %s: %w", rev, err)
	}
	return strings.TrimSpace(output), nil
}

// Status returns the paths with uncommitted changes, untracked files included. Renamed
// entries report their new path.
func (r *Repo) Status(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "status", "--porcelain", "-z", "--untracked-files=all")
	if err != nil {
		return nil, fmt.Errorf("failed to check worktree status: %w", err)
	}
	return parsePorcelainZ(output), nil
}

// parsePorcelainZ parses `git status --porcelain -z`. Each entry is "XY path"; rename and copy
// entries are followed by an extra field holding the original path.
func parsePorcelainZ(output string) []string {
	var files []string
	fields := strings.Split(output, "\x00")
	for i := 0; i < len(fields); i++ {
		entry := fields[i]
		if len(entry) < 4 {
			continue
		}
		files = append(files, entry[3:])
		if entry[0] == 'R' || entry[0] == 'C' {
			i++
		}
	}
	return files
}

// IsDirty checks if the working tree has uncommitted changes
func (r *Repo) IsDirty(ctx context.Context) (bool, error) {
	files, err := r.Status(ctx)
	if err != nil {
		return false, err
	}
	return len(files) > 0, nil
}

// CommitAll stages everything and commits it. It reports false when there was nothing to commit.
func (r *Repo) CommitAll(ctx context.Context, message string) (bool, error) {
	isDirty, err := r.IsDirty(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to check for changes: %w", err)
	}
	if !isDirty {
		return false, nil
	}

	if _, err := r.run(ctx, "add", "-A"); err != nil {
		return false, fmt.Errorf("failed to stage changes: %w", err)
	}
	if _, err := r.run(ctx, "commit", "-m", message, "--no-verify"); err != nil {
		return false, fmt.Errorf("failed to commit changes: %w", err)
	}
	return true, nil
}

// ResetHard moves the working tree to rev and removes untracked files. Ignored files survive.
func (r *Repo) ResetHard(ctx context.Context, rev string) error {
	if _, err := r.run(ctx, "reset", "--hard", rev); err != nil {
		return fmt.Errorf("failed to reset to %s: %w", rev, err)
	}
	if _, err := r.run(ctx, "clean", "-fd"); err != nil {
		return fmt.Errorf("failed to clean untracked files: %w", err)
	}
	return nil
}

// IsAncestor reports whether ancestor is reachable from rev.
func (r *Repo) IsAncestor(ctx context.Context, ancestor, rev string) (bool, error) {
	_, err := r.run(ctx, "merge-base", "--is-ancestor", ancestor, rev)
	if err == nil {
		return true, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
		return false, nil
	}
	return false, fmt.Errorf("failed to compare %s with %s: %w", ancestor, rev, err)
}

// CommitsSince lists the commits reachable from tip but not from base, newest first.
func (r *Repo) CommitsSince(ctx context.Context, base, tip string) ([]string, error) {
	output, err := r.run(ctx, "log", "--format=%H", base+".."+tip)
	if err != nil {
		return nil, fmt.Errorf("failed to list commits since %s: %w", base, err)
	}
	var commits []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			commits = append(commits, line)
		}
	}
	return commits, nil
}

// combineErrors combines multiple errors into a single error
func combineErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	if len(errs) == 1 {
		return errs[0]
	}

	errMsg := "multiple errors occurred:"
	for _, err := range errs {
		errMsg += "\n  - " + err.Error()
	}
	return errors.New(errMsg)
}
