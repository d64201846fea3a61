// Package merge integrates finished candidates into the shared workspace one at a time, most
// urgent first, and rolls back the ones that conflict with work already applied.
package merge

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/snapshot"
	"github.com/ByteMirror/convoy/vcs"
	"github.com/ByteMirror/convoy/work"
)

// Rollback reasons recorded on candidates.
const (
	ReasonConflict     = "conflicts with higher-priority work"
	ReasonMergeError   = "merge error"
	ReasonBatchAborted = "batch aborted on conflict"
)

// Options tunes conflict handling.
type Options struct {
	// AbortBatchOnConflict restores the baseline on the first conflict and rolls back the
	// whole batch.
	AbortBatchOnConflict bool
}

// Coordinator is the only writer of the shared workspace head while a batch is integrated.
type Coordinator struct {
	repo      *vcs.Repo
	source    work.ReadinessSource
	snapshots *snapshot.Manager
	resolver  Resolver
	opts      Options

	// mu keeps integrations strictly sequential.
	mu sync.Mutex
}

// NewCoordinator returns a coordinator. A nil resolver means PriorityResolver.
func NewCoordinator(repo *vcs.Repo, source work.ReadinessSource, snapshots *snapshot.Manager, resolver Resolver, opts Options) *Coordinator {
	if resolver == nil {
		resolver = PriorityResolver{}
	}
	return &Coordinator{repo: repo, source: source, snapshots: snapshots, resolver: resolver, opts: opts}
}

// Integrate merges candidates onto the current head in priority order. The returned result
// holds the applied and rolled-back candidates. Every rolled-back item is reopened exactly
// once. Candidates without a commit are ignored.
//
// Merges are not cancelled with ctx: a merge that was started always runs to a clean head.
func (c *Coordinator) Integrate(ctx context.Context, candidates []*work.Candidate, baseline *snapshot.Baseline) *work.BatchResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	ordered := make([]*work.Candidate, 0, len(candidates))
	for _, cand := range candidates {
		if cand == nil || cand.Commit == "" || cand.Status == work.StatusFailed {
			continue
		}
		ordered = append(ordered, cand)
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		a, b := ordered[i].Item, ordered[j].Item
		if a.Priority != b.Priority {
			return a.Priority < b.Priority
		}
		return a.ID < b.ID
	})

	result := &work.BatchResult{}
	for i, cand := range ordered {
		conflict, err := c.apply(ctx, cand)
		switch {
		case err != nil:
			c.rollback(ctx, cand, ReasonMergeError, nil)
			log.ErrorLog.Printf("merge of %s failed: %v", cand.Item.ID, err)
			result.RolledBack = append(result.RolledBack, cand)
		case conflict == nil:
			cand.Status = work.StatusApplied
			result.Applied = append(result.Applied, cand)
		case c.opts.AbortBatchOnConflict:
			c.abortBatch(ctx, baseline, result, cand, conflict, ordered[i+1:])
			return result
		default:
			c.rollback(ctx, cand, ReasonConflict, conflict.Files)
			result.RolledBack = append(result.RolledBack, cand)
		}
	}
	return result
}

// apply merges one candidate. It returns a ConflictError when the resolver discarded it.
func (c *Coordinator) apply(ctx context.Context, cand *work.Candidate) (*ConflictError, error) {
	head, err := c.repo.Head(ctx)
	if err != nil {
		return nil, err
	}

	applied, err := c.repo.IsAncestor(ctx, cand.Commit, head)
	if err != nil {
		return nil, err
	}
	if applied {
		log.DebugLog.Printf("%s is already part of %s", cand.Item.ID, shortHash(head))
		return nil, nil
	}

	conflict, err := c.merge(ctx, cand, cand.Commit, head)
	if err != nil || conflict == nil {
		return nil, err
	}

	cand.Status = work.StatusConflicted
	cand.Files = conflict.Files
	verdict := c.resolver.Resolve(ctx, cand, head, conflict)
	log.DebugLog.Printf("resolver verdict for %s: %s", cand.Item.ID, verdict.Action)
	if verdict.Action != Keep || verdict.Commit == "" {
		return conflict, nil
	}

	cand.Commit = verdict.Commit
	retry, err := c.merge(ctx, cand, verdict.Commit, head)
	if err != nil {
		return nil, err
	}
	if retry != nil {
		return retry, nil
	}
	cand.Files = nil
	return nil, nil
}

// merge attempts one merge of commit. On conflict or error the workspace is put back at head.
func (c *Coordinator) merge(ctx context.Context, cand *work.Candidate, commit, head string) (*ConflictError, error) {
	res, err := c.repo.Merge(ctx, commit, "convoy: merge "+cand.Item.ID)
	switch {
	case err != nil:
		c.resetTo(ctx, head)
		return nil, err
	case res.Status == vcs.MergeConflict:
		conflict := &ConflictError{ItemID: cand.Item.ID, Files: res.Files}
		c.resetTo(ctx, head)
		return conflict, nil
	}
	log.InfoLog.Printf("applied %s (%s)", cand.Item.ID, shortHash(commit))
	return nil, nil
}

// resetTo abandons an in-progress merge and makes sure head is where it started.
func (c *Coordinator) resetTo(ctx context.Context, head string) {
	if err := c.repo.MergeAbort(ctx); err != nil {
		log.DebugLog.Printf("merge --abort: %v", err)
	}
	current, err := c.repo.Head(ctx)
	dirty, dirtyErr := c.repo.IsDirty(ctx)
	if err == nil && dirtyErr == nil && current == head && !dirty {
		return
	}
	if err := c.repo.ResetHard(ctx, head); err != nil {
		log.ErrorLog.Printf("failed to reset workspace to %s: %v", head, err)
	}
}

// abortBatch restores the baseline and rolls back everything in the batch.
func (c *Coordinator) abortBatch(ctx context.Context, baseline *snapshot.Baseline, result *work.BatchResult, conflicting *work.Candidate, conflict *ConflictError, remaining []*work.Candidate) {
	log.WarningLog.Printf("%v, aborting the batch", conflict)
	if err := c.snapshots.Restore(ctx, baseline); err != nil {
		log.ErrorLog.Printf("failed to restore baseline: %v", err)
	}

	applied := result.Applied
	result.Applied = nil
	for _, cand := range applied {
		c.rollback(ctx, cand, ReasonBatchAborted, nil)
		result.RolledBack = append(result.RolledBack, cand)
	}
	c.rollback(ctx, conflicting, ReasonConflict, conflict.Files)
	result.RolledBack = append(result.RolledBack, conflicting)
	for _, cand := range remaining {
		c.rollback(ctx, cand, ReasonBatchAborted, nil)
		result.RolledBack = append(result.RolledBack, cand)
	}
}

func (c *Coordinator) rollback(ctx context.Context, cand *work.Candidate, reason string, files []string) {
	cand.Status = work.StatusRolledBack
	cand.Reason = reason
	if files != nil {
		cand.Files = files
	}

	if len(cand.Files) > 0 && reason == ReasonConflict {
		log.InfoLog.Printf("rolled back %s: %s in %s", cand.Item.ID, reason, strings.Join(cand.Files, ", "))
	} else {
		log.InfoLog.Printf("rolled back %s: %s", cand.Item.ID, reason)
	}

	if err := c.source.Reopen(ctx, cand.Item.ID); err != nil {
		log.ErrorLog.Printf("failed to reopen %s: %v", cand.Item.ID, err)
	}
}

func shortHash(hash string) string {
	if len(hash) > 8 {
		return hash[:8]
	}
	return hash
}
