// Package session runs one work item to a candidate commit.
//
// Every session gets its own worktree on a fresh branch at the batch baseline, so concurrent
// sessions never see each other's files. The shared repository is only written while holding
// the runner's commit lock: when the worktree and branch are created and when the session's
// commit is made.
package session

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/snapshot"
	"github.com/ByteMirror/convoy/vcs"
	"github.com/ByteMirror/convoy/work"
)

// Options configures where sessions live.
type Options struct {
	// WorktreeDir is the absolute directory holding session worktrees.
	WorktreeDir string
	// BranchPrefix is prepended to every session branch.
	BranchPrefix string
	// Timeout bounds a single work procedure. Zero means no timeout.
	Timeout time.Duration
}

// Runner executes worker sessions against one repository.
type Runner struct {
	repo      *vcs.Repo
	procedure work.Procedure
	opts      Options

	// commitMu serializes writes to the shared repository's refs and objects. It also
	// guards live.
	commitMu sync.Mutex
	// live maps the worktrees of unfinished sessions to their item ids.
	live map[string]string
}

func NewRunner(repo *vcs.Repo, procedure work.Procedure, opts Options) *Runner {
	if opts.WorktreeDir == "" {
		opts.WorktreeDir = filepath.Join(repo.Path(), ".convoy", "worktrees")
	}
	return &Runner{repo: repo, procedure: procedure, opts: opts, live: make(map[string]string)}
}

// Names returns the branch and worktree path a session for item uses in batchID.
func (r *Runner) Names(item work.WorkItem, batchID string) (branch string, path string) {
	suffix := batchID
	if len(suffix) > 8 {
		suffix = suffix[:8]
	}
	name := work.Slug(item.ID) + "-" + strings.ReplaceAll(vcs.SanitizeBranchName(suffix), "/", "-")
	return r.opts.BranchPrefix + name, filepath.Join(r.opts.WorktreeDir, name)
}

// Run executes the work procedure for item on a branch at the baseline head. The returned
// candidate is either pending with a commit, or failed with a *WorkerFailure in Err.
func (r *Runner) Run(ctx context.Context, item work.WorkItem, baseline *snapshot.Baseline, batchID string) *work.Candidate {
	branch, path := r.Names(item, batchID)
	candidate := &work.Candidate{Item: item, Status: work.StatusPending, Branch: branch}

	wt, err := r.setup(ctx, item, path, branch, baseline.Head)
	if err != nil {
		if errors.Is(err, ErrWorktreeInUse) {
			// The names belong to the other session; cleanup must not touch them.
			candidate.Branch = ""
		}
		return fail(candidate, ReasonSetup, err)
	}
	candidate.Worktree = wt.Path()

	log.InfoLog.Printf("session %s started on %s", item.ID, branch)
	procCtx := ctx
	if r.opts.Timeout > 0 {
		var cancel context.CancelFunc
		procCtx, cancel = context.WithTimeout(ctx, r.opts.Timeout)
		defer cancel()
	}

	if err := r.procedure.Run(procCtx, item, wt.Path()); err != nil {
		switch {
		case ctx.Err() != nil:
			return fail(candidate, ReasonCancelled, ctx.Err())
		case errors.Is(procCtx.Err(), context.DeadlineExceeded):
			return fail(candidate, ReasonTimeout, err)
		default:
			return fail(candidate, ReasonProcedure, err)
		}
	}
	if ctx.Err() != nil {
		return fail(candidate, ReasonCancelled, ctx.Err())
	}

	commit, reason, err := r.finalize(ctx, wt, item, baseline.Head)
	if err != nil {
		if ctx.Err() != nil {
			return fail(candidate, ReasonCancelled, ctx.Err())
		}
		return fail(candidate, reason, err)
	}
	candidate.Commit = commit
	log.InfoLog.Printf("session %s produced %s", item.ID, shortHash(commit))
	return candidate
}

func (r *Runner) setup(ctx context.Context, item work.WorkItem, path, branch, base string) (*vcs.Repo, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if owner, ok := r.live[path]; ok {
		return nil, fmt.Errorf("%w: %s belongs to the session of %s", ErrWorktreeInUse, path, owner)
	}
	wt, err := r.repo.AddWorktree(ctx, path, branch, base)
	if err != nil {
		return nil, err
	}
	r.live[path] = item.ID
	return wt, nil
}

// finalize commits whatever the procedure left uncommitted and checks the branch still
// descends from the baseline with at least one new commit.
func (r *Runner) finalize(ctx context.Context, wt *vcs.Repo, item work.WorkItem, base string) (string, string, error) {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	if _, err := wt.CommitAll(ctx, "convoy: "+item.ID); err != nil {
		return "", ReasonCommit, err
	}
	tip, err := wt.Head(ctx)
	if err != nil {
		return "", ReasonCommit, err
	}
	if tip == base {
		return "", ReasonNoCommit, ErrNoCommit
	}
	ok, err := wt.IsAncestor(ctx, base, tip)
	if err != nil {
		return "", ReasonCommit, err
	}
	if !ok {
		return "", ReasonRewritten, ErrHistoryRewritten
	}

	commits, err := wt.CommitsSince(ctx, base, tip)
	if err == nil && len(commits) > 1 {
		log.DebugLog.Printf("session %s made %d commits, using the tip", item.ID, len(commits))
	}
	return tip, "", nil
}

// Cleanup removes the candidate's worktree. The branch is deleted unless keepBranch is set.
func (r *Runner) Cleanup(ctx context.Context, candidate *work.Candidate, keepBranch bool) error {
	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	var errs []error
	if candidate.Worktree != "" {
		delete(r.live, candidate.Worktree)
		if err := r.repo.RemoveWorktree(ctx, candidate.Worktree); err != nil {
			errs = append(errs, err)
		}
	}
	if !keepBranch && candidate.Branch != "" {
		if err := r.repo.DeleteBranch(candidate.Branch); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func fail(candidate *work.Candidate, reason string, err error) *work.Candidate {
	candidate.Status = work.StatusFailed
	candidate.Reason = reason
	candidate.Err = &WorkerFailure{ItemID: candidate.Item.ID, Reason: reason, Err: err}
	log.WarningLog.Print(candidate.Err)
	return candidate
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}

// FailureOf returns the WorkerFailure of a failed candidate.
func FailureOf(candidate *work.Candidate) (*WorkerFailure, bool) {
	var failure *WorkerFailure
	if errors.As(candidate.Err, &failure) {
		return failure, true
	}
	return nil, false
}

