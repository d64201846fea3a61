package merge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ByteMirror/convoy/work"
)

// Action is what the coordinator does with a conflicting candidate.
type Action int

const (
	// Discard aborts the merge, leaves head unchanged and rolls the candidate back.
	Discard Action = iota
	// Keep retries the merge with Verdict.Commit, a commit the resolver re-derived so it no
	// longer conflicts.
	Keep
)

func (a Action) String() string {
	switch a {
	case Keep:
		return "keep"
	case Discard:
		return "discard"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// Verdict is a resolver's decision for one conflict.
type Verdict struct {
	Action Action
	// Commit replaces the candidate's commit when Action is Keep.
	Commit string
}

// ConflictError describes a candidate whose merge conflicted with work already applied.
type ConflictError struct {
	ItemID string
	Files  []string
}

func (e *ConflictError) Error() string {
	if len(e.Files) == 0 {
		return fmt.Sprintf("merge of %s conflicts with applied work", e.ItemID)
	}
	return fmt.Sprintf("merge of %s conflicts in %s", e.ItemID, strings.Join(e.Files, ", "))
}

// Resolver decides what happens to a conflicting candidate. head is the workspace head with
// all higher-priority work of the batch applied and the failed merge already aborted.
type Resolver interface {
	Resolve(ctx context.Context, candidate *work.Candidate, head string, conflict *ConflictError) Verdict
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(ctx context.Context, candidate *work.Candidate, head string, conflict *ConflictError) Verdict

func (f ResolverFunc) Resolve(ctx context.Context, candidate *work.Candidate, head string, conflict *ConflictError) Verdict {
	return f(ctx, candidate, head, conflict)
}

// PriorityResolver always discards. Candidates are merged most urgent first, so whatever a
// candidate conflicts with has higher priority and stays.
type PriorityResolver struct{}

func (PriorityResolver) Resolve(context.Context, *work.Candidate, string, *ConflictError) Verdict {
	return Verdict{Action: Discard}
}
