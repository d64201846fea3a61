package vcs

import (
	"context"
	"fmt"
	"strings"
)

// MergeStatus classifies the outcome of a merge attempt.
type MergeStatus string

const (
	MergeClean    MergeStatus = "merged"
	MergeConflict MergeStatus = "conflict"
	MergeFailed   MergeStatus = "error"
)

// MergeResult describes a merge attempt. Files lists the unmerged paths of a conflict.
type MergeResult struct {
	Status MergeStatus
	Files  []string
	Output string
}

// Merge merges rev into the checked-out branch with a merge commit. A conflict is reported
// in the result and leaves the merge in progress, so the caller decides between MergeAbort
// and resolving it. Only MergeFailed comes with a non-nil error.
func (r *Repo) Merge(ctx context.Context, rev, message string) (*MergeResult, error) {
	output, err := r.run(ctx, "merge", "--no-ff", "--no-edit", "-m", message, rev)
	if err == nil {
		return &MergeResult{Status: MergeClean, Output: output}, nil
	}

	files, diffErr := r.ConflictedFiles(ctx)
	if diffErr == nil && len(files) > 0 {
		return &MergeResult{Status: MergeConflict, Files: files, Output: output}, nil
	}
	if strings.Contains(output, "CONFLICT") || strings.Contains(output, "Automatic merge failed") {
		return &MergeResult{Status: MergeConflict, Output: output}, nil
	}
	return &MergeResult{Status: MergeFailed, Output: output}, fmt.Errorf("failed to merge %s: %w", rev, err)
}

// ConflictedFiles lists the paths left unmerged by an in-progress merge.
func (r *Repo) ConflictedFiles(ctx context.Context) ([]string, error) {
	output, err := r.run(ctx, "diff", "--name-only", "--diff-filter=U")
	if err != nil {
		return nil, fmt.Errorf("failed to list conflicted files: %w", err)
	}
	var files []string
	for _, line := range strings.Split(output, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			files = append(files, line)
		}
	}
	return files, nil
}

// MergeAbort abandons an in-progress merge and restores the pre-merge state.
func (r *Repo) MergeAbort(ctx context.Context) error {
	if _, err := r.run(ctx, "merge", "--abort"); err != nil {
		return fmt.Errorf("failed to abort merge: %w", err)
	}
	return nil
}
