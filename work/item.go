package work

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/ByteMirror/convoy/vcs"
)

// DefaultPriority is assumed for items whose source carries no priority. It sorts after the
// usual 0-4 range.
const DefaultPriority = 5

// WorkItem is one unit of schedulable work. Lower priority values are more urgent.
type WorkItem struct {
	ID        string
	Title     string
	Priority  int
	DependsOn []string
}

// Slug turns an item id into a name usable for branches, directories and files. The readable
// part is lossy, so a short hash of the raw id keeps distinct ids apart.
func Slug(id string) string {
	name := strings.ReplaceAll(vcs.SanitizeBranchName(id), "/", "-")
	if name == "" {
		name = "item"
	}
	sum := sha256.Sum256([]byte(id))
	return name + "-" + hex.EncodeToString(sum[:4])
}

// SortByPriority orders items most urgent first, breaking ties by ID so batches are deterministic.
func SortByPriority(items []WorkItem) {
	sort.SliceStable(items, func(i, j int) bool {
		if items[i].Priority != items[j].Priority {
			return items[i].Priority < items[j].Priority
		}
		return items[i].ID < items[j].ID
	})
}

// CandidateStatus is the lifecycle state of a Candidate.
type CandidateStatus string

const (
	StatusPending    CandidateStatus = "pending"
	StatusApplied    CandidateStatus = "applied"
	StatusConflicted CandidateStatus = "conflicted"
	StatusRolledBack CandidateStatus = "rolled_back"
	StatusFailed     CandidateStatus = "failed"
)

// IsTerminal reports whether the status can no longer change.
func (s CandidateStatus) IsTerminal() bool {
	return s == StatusApplied || s == StatusRolledBack || s == StatusFailed
}

// Candidate is the change one worker session proposes for its item.
type Candidate struct {
	Item WorkItem
	// Commit is empty for failed candidates.
	Commit string
	Branch string
	// Worktree is where the session ran. It is removed once the candidate is resolved.
	Worktree string
	Status   CandidateStatus
	// Reason says why the candidate failed or was rolled back.
	Reason string
	// Files holds the conflicting paths of a rolled-back candidate.
	Files []string
	// Err is the underlying failure of a failed candidate.
	Err error
}

// BatchResult aggregates one scheduling cycle.
type BatchResult struct {
	BatchID    string
	StartedAt  time.Time
	Applied    []*Candidate
	RolledBack []*Candidate
	Failed     []*Candidate
	Elapsed    time.Duration
	// Concurrency is the level the batch ran with, NextConcurrency the level chosen after it.
	Concurrency     int
	NextConcurrency int
}

// Size is the number of items the batch started with.
func (b *BatchResult) Size() int {
	return len(b.Applied) + len(b.RolledBack) + len(b.Failed)
}

// SuccessRate is the fraction of the batch that was applied. It reports false for an empty batch.
func (b *BatchResult) SuccessRate() (float64, bool) {
	return SuccessRate(len(b.Applied), len(b.RolledBack), len(b.Failed))
}

// SuccessRate computes applied / (applied + rolledBack + failed).
func SuccessRate(applied, rolledBack, failed int) (float64, bool) {
	total := applied + rolledBack + failed
	if total == 0 {
		return 0, false
	}
	return float64(applied) / float64(total), true
}

// IDs returns the item IDs of the candidates.
func IDs(candidates []*Candidate) []string {
	ids := make([]string, 0, len(candidates))
	for _, c := range candidates {
		ids = append(ids, c.Item.ID)
	}
	return ids
}

// ReadinessSource tracks work items and their dependency graph.
type ReadinessSource interface {
	// ListReady returns up to limit items whose dependencies are satisfied.
	ListReady(ctx context.Context, limit int) ([]WorkItem, error)
	// Reopen returns a rolled-back item to the ready pool so a later batch can retry it.
	Reopen(ctx context.Context, id string) error
}

// Claimer is implemented by sources that track which items are being worked on.
type Claimer interface {
	Claim(ctx context.Context, id string) error
}

// Unclaimer is implemented by sources that can release a claimed item that never produced work.
type Unclaimer interface {
	Unclaim(ctx context.Context, id string) error
}

// Closer is implemented by sources that can mark an item as done.
type Closer interface {
	Close(ctx context.Context, id string) error
}
