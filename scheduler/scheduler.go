// Package scheduler picks the next batch of ready work items and decides how many worker
// sessions run at once.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/work"
)

// Scheduler selects batches from a readiness source and launches sessions for them.
type Scheduler struct {
	source      work.ReadinessSource
	state       *ScalingState
	maxAttempts int

	mu sync.Mutex
	// attempts counts batches each item was part of during this run.
	attempts map[string]int
	// done holds items applied during this run. A source that still lists them is not
	// offered them again.
	done map[string]bool
}

// New returns a scheduler. A maxAttempts of zero or less never filters items.
func New(source work.ReadinessSource, state *ScalingState, maxAttempts int) *Scheduler {
	return &Scheduler{
		source:      source,
		state:       state,
		maxAttempts: maxAttempts,
		attempts:    make(map[string]int),
		done:        make(map[string]bool),
	}
}

// State returns the scaling state the scheduler reads.
func (s *Scheduler) State() *ScalingState {
	return s.state
}

// CurrentConcurrencyLevel returns how many sessions the next batch may run at once.
func (s *Scheduler) CurrentConcurrencyLevel() int {
	return s.state.Level()
}

// Attempts returns how many batches of this run included the item.
func (s *Scheduler) Attempts(id string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts[id]
}

// MarkDone records that the item was applied.
func (s *Scheduler) MarkDone(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.done[id] = true
}

// skip reports whether the item is done or out of attempts. Callers hold mu.
func (s *Scheduler) skip(id string) bool {
	return s.done[id] || (s.maxAttempts > 0 && s.attempts[id] >= s.maxAttempts)
}

// maxListRounds bounds how often NextBatch widens its request to the readiness source.
const maxListRounds = 4

// collect picks up to size distinct, runnable items from ready, most urgent first.
func (s *Scheduler) collect(ready []work.WorkItem, size int) []work.WorkItem {
	s.mu.Lock()
	defer s.mu.Unlock()

	seen := make(map[string]bool, len(ready))
	batch := make([]work.WorkItem, 0, size)
	ready = append([]work.WorkItem(nil), ready...)
	work.SortByPriority(ready)
	for _, item := range ready {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		if s.skip(item.ID) {
			log.DebugLog.Printf("skipping %s: %d attempts used, done=%t", item.ID, s.attempts[item.ID], s.done[item.ID])
			continue
		}
		batch = append(batch, item)
		if len(batch) == size {
			break
		}
	}
	return batch
}

// NextBatch returns up to maxBatchSize ready items, most urgent first. Items that already used
// their attempts or were applied in this run are left out. An empty batch means no work is ready.
func (s *Scheduler) NextBatch(ctx context.Context, maxBatchSize int) ([]work.WorkItem, error) {
	if maxBatchSize < 1 {
		return nil, nil
	}

	s.mu.Lock()
	skipped := 0
	for id := range s.attempts {
		if s.skip(id) {
			skipped++
		}
	}
	s.mu.Unlock()

	// Ask for extra items so skipped ones do not crowd out fresh work, and widen the request
	// while duplicates or skipped items leave the batch short.
	limit := maxBatchSize + skipped
	var batch []work.WorkItem
	for round, listed := 0, -1; ; round++ {
		ready, err := s.source.ListReady(ctx, limit)
		if err != nil {
			return nil, fmt.Errorf("failed to list ready work: %w", err)
		}
		batch = s.collect(ready, maxBatchSize)
		if len(batch) == maxBatchSize || len(ready) < limit || len(ready) <= listed || round == maxListRounds-1 {
			break
		}
		listed = len(ready)
		limit *= 2
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	claimed := batch[:0]
	for _, item := range batch {
		if claimer, ok := s.source.(work.Claimer); ok {
			if err := claimer.Claim(ctx, item.ID); err != nil {
				log.WarningLog.Printf("failed to claim %s, leaving it out of the batch: %v", item.ID, err)
				continue
			}
		}
		s.attempts[item.ID]++
		claimed = append(claimed, item)
	}
	return claimed, nil
}

// Dispatch runs fn for every item with at most CurrentConcurrencyLevel calls in flight.
// Results keep the order of items. Items that had not started when ctx was done are skipped
// and their slot stays nil.
func (s *Scheduler) Dispatch(ctx context.Context, items []work.WorkItem, fn func(ctx context.Context, item work.WorkItem) *work.Candidate) []*work.Candidate {
	return Dispatch(ctx, s.CurrentConcurrencyLevel(), items, fn)
}

// Dispatch is Scheduler.Dispatch with an explicit level.
func Dispatch(ctx context.Context, level int, items []work.WorkItem, fn func(ctx context.Context, item work.WorkItem) *work.Candidate) []*work.Candidate {
	if level < 1 {
		level = 1
	}
	results := make([]*work.Candidate, len(items))

	var g errgroup.Group
	g.SetLimit(level)
	for i, item := range items {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			results[i] = fn(ctx, item)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
