// Package snapshot records the baseline of the shared workspace before a batch and restores it
// when a batch has to be abandoned as a whole.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/vcs"
)

// ErrDirtyWorkspace matches every DirtyWorkspaceError.
var ErrDirtyWorkspace = errors.New("workspace has uncommitted changes")

// DirtyWorkspaceError reports the files that keep the workspace from being a clean baseline.
type DirtyWorkspaceError struct {
	Files []string
}

func (e *DirtyWorkspaceError) Error() string {
	const shown = 5
	files := e.Files
	suffix := ""
	if len(files) > shown {
		suffix = fmt.Sprintf(" and %d more", len(files)-shown)
		files = files[:shown]
	}
	return fmt.Sprintf("%s: %s%s", ErrDirtyWorkspace, strings.Join(files, ", "), suffix)
}

func (e *DirtyWorkspaceError) Is(target error) bool {
	return target == ErrDirtyWorkspace
}

// Baseline is the workspace state a batch starts from.
type Baseline struct {
	Head string
	// ModifiedFiles lists uncommitted paths at capture time. A baseline returned by Capture
	// always has none.
	ModifiedFiles []string
	CapturedAt    time.Time
}

// Manager captures and restores baselines of one workspace.
type Manager struct {
	repo *vcs.Repo
}

func NewManager(repo *vcs.Repo) *Manager {
	return &Manager{repo: repo}
}

// Capture records the current head. It fails with a DirtyWorkspaceError if anything is left
// uncommitted.
func (m *Manager) Capture(ctx context.Context) (*Baseline, error) {
	files, err := m.repo.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace status: %w", err)
	}
	if len(files) > 0 {
		return nil, &DirtyWorkspaceError{Files: files}
	}

	head, err := m.repo.Head(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read workspace head: %w", err)
	}

	log.DebugLog.Printf("captured baseline %s of %s", head, m.repo.Path())
	return &Baseline{Head: head, ModifiedFiles: files, CapturedAt: time.Now()}, nil
}

// Restore resets the workspace to the baseline head and discards uncommitted changes. An
// interrupted merge is aborted first.
func (m *Manager) Restore(ctx context.Context, baseline *Baseline) error {
	if baseline == nil || baseline.Head == "" {
		return errors.New("cannot restore an empty baseline")
	}

	if files, err := m.repo.ConflictedFiles(ctx); err == nil && len(files) > 0 {
		if err := m.repo.MergeAbort(ctx); err != nil {
			log.WarningLog.Printf("failed to abort merge before restore: %v", err)
		}
	}
	if err := m.repo.ResetHard(ctx, baseline.Head); err != nil {
		return fmt.Errorf("failed to restore baseline %s: %w", baseline.Head, err)
	}
	log.InfoLog.Printf("restored workspace %s to %s", m.repo.Path(), baseline.Head)
	return nil
}
