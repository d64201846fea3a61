package vcs

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/ByteMirror/convoy/log"
)

// FindRepoRoot walks up from path until it finds a git repo root.
func FindRepoRoot(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve %s: %w", path, err)
	}

	currentPath := absPath
	for {
		_, err := git.PlainOpen(currentPath)
		if err == nil {
			// Found the repository root
			return currentPath, nil
		}

		parent := filepath.Dir(currentPath)
		if parent == currentPath {
			// Reached the filesystem root without finding a repository
			return "", fmt.Errorf("failed to find Git repository root from path: %s", path)
		}
		currentPath = parent
	}
}

// Open returns a Repo for the repository containing path.
func Open(path string) (*Repo, error) {
	root, err := FindRepoRoot(path)
	if err != nil {
		return nil, err
	}
	return &Repo{path: root}, nil
}

// BranchExists reports whether a local branch with the given name exists.
func (r *Repo) BranchExists(name string) (bool, error) {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return false, fmt.Errorf("failed to open repository: %w", err)
	}

	_, err = repo.Reference(plumbing.NewBranchReferenceName(name), false)
	switch {
	case err == nil:
		return true, nil
	case err == plumbing.ErrReferenceNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("error checking branch %s existence: %w", name, err)
	}
}

// DeleteBranch removes a local branch. A missing branch is not an error.
func (r *Repo) DeleteBranch(name string) error {
	repo, err := git.PlainOpen(r.path)
	if err != nil {
		return fmt.Errorf("failed to open repository: %w", err)
	}

	branchRef := plumbing.NewBranchReferenceName(name)
	if _, err := repo.Reference(branchRef, false); err != nil {
		if err == plumbing.ErrReferenceNotFound {
			return nil
		}
		return fmt.Errorf("error checking branch %s existence: %w", name, err)
	}
	if err := repo.Storer.RemoveReference(branchRef); err != nil {
		return fmt.Errorf("failed to remove branch %s: %w", name, err)
	}
	return nil
}

// AddWorktree checks out a new branch at base into path and returns a Repo for it. Leftovers
// of an earlier worktree or branch with the same names are removed first.
func (r *Repo) AddWorktree(ctx context.Context, path, branch, base string) (*Repo, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create worktrees directory: %w", err)
	}

	// Clean up any existing worktree first
	if _, err := os.Stat(path); err == nil {
		if err := r.RemoveWorktree(ctx, path); err != nil {
			log.WarningLog.Printf("failed to remove stale worktree %s: %v", path, err)
		}
	}
	if err := r.DeleteBranch(branch); err != nil {
		return nil, fmt.Errorf("failed to cleanup existing branch: %w", err)
	}

	if _, err := r.run(ctx, "worktree", "add", "-b", branch, path, base); err != nil {
		return nil, fmt.Errorf("failed to create worktree from commit %s: %w", base, err)
	}
	return At(path)
}

// RemoveWorktree removes the worktree at path but keeps its branch.
func (r *Repo) RemoveWorktree(ctx context.Context, path string) error {
	var errs []error

	if _, err := os.Stat(path); err == nil {
		if _, err := r.run(ctx, "worktree", "remove", "-f", path); err != nil {
			errs = append(errs, err)
		}
	} else if !os.IsNotExist(err) {
		errs = append(errs, fmt.Errorf("failed to check worktree path: %w", err))
	}

	// Prune the worktree to clean up any remaining references
	if err := r.Prune(ctx); err != nil {
		errs = append(errs, err)
	}
	return combineErrors(errs)
}

// Prune removes all working tree administrative files and directories
func (r *Repo) Prune(ctx context.Context) error {
	if _, err := r.run(ctx, "worktree", "prune"); err != nil {
		return fmt.Errorf("failed to prune worktrees: %w", err)
	}
	return nil
}

// Worktrees lists the paths of all linked worktrees, the main one excluded.
func (r *Repo) Worktrees(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, fmt.Errorf("failed to list worktrees: %w", err)
	}

	// The main worktree is always listed first.
	var paths []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	if len(paths) == 0 {
		return nil, nil
	}
	return paths[1:], nil
}
