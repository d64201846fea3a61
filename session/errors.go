package session

import (
	"errors"
	"fmt"
)

var (
	// ErrNoCommit means the work procedure finished without changing anything.
	ErrNoCommit = errors.New("work procedure produced no commit")
	// ErrHistoryRewritten means the session branch no longer contains the baseline.
	ErrHistoryRewritten = errors.New("work procedure rewrote history below the baseline")
	// ErrWorktreeInUse means another unfinished session already owns the worktree path.
	ErrWorktreeInUse = errors.New("worktree is in use")
)

// Failure reasons recorded on failed candidates.
const (
	ReasonSetup     = "worktree setup failed"
	ReasonProcedure = "work procedure failed"
	ReasonTimeout   = "work procedure timed out"
	ReasonCancelled = "cancelled"
	ReasonCommit    = "commit creation failed"
	ReasonNoCommit  = "no commit"
	ReasonRewritten = "history rewritten"
)

// WorkerFailure is a session whose item was not completed. Its item goes back to the
// readiness source unclaimed, never to the merge coordinator.
type WorkerFailure struct {
	ItemID string
	Reason string
	Err    error
}

func (e *WorkerFailure) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("worker for %s failed: %s", e.ItemID, e.Reason)
	}
	return fmt.Sprintf("worker for %s failed: %s: %v", e.ItemID, e.Reason, e.Err)
}

func (e *WorkerFailure) Unwrap() error {
	return e.Err
}
