// Package orchestrator runs the batch loop: capture a baseline, pick ready work, run worker
// sessions concurrently, integrate their candidates in priority order, record the outcome and
// adjust concurrency for the next batch.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/ByteMirror/convoy/cmd"
	"github.com/ByteMirror/convoy/config"
	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/merge"
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/scheduler"
	"github.com/ByteMirror/convoy/session"
	"github.com/ByteMirror/convoy/snapshot"
	"github.com/ByteMirror/convoy/vcs"
	"github.com/ByteMirror/convoy/work"
)

// ErrBatchTimeout is the failure of sessions abandoned when a batch ran out of time.
var ErrBatchTimeout = errors.New("batch timed out")

// ReasonBatchTimeout is recorded on candidates abandoned by the batch timeout.
const ReasonBatchTimeout = "batch timeout"

// Options controls the run loop.
type Options struct {
	MaxBatchSize int
	// MaxBatches stops Run after that many batches. Zero runs until no work is ready.
	MaxBatches int
	// BatchTimeout cancels sessions still running after it. Zero disables it.
	BatchTimeout time.Duration
	// KeepConflictBranches keeps the branches of rolled-back candidates.
	KeepConflictBranches bool
}

// Deps overrides collaborators New would otherwise build from the configuration.
type Deps struct {
	Source    work.ReadinessSource
	Procedure work.Procedure
	Resolver  merge.Resolver
	// OnBatch is called after every batch.
	OnBatch func(result *work.BatchResult)
}

// Orchestrator owns one repository's batch loop.
type Orchestrator struct {
	repo      *vcs.Repo
	source    work.ReadinessSource
	snapshots *snapshot.Manager
	scheduler *scheduler.Scheduler
	sessions  *session.Runner
	merger    *merge.Coordinator
	recorder  *metrics.Recorder
	opts      Options
	onBatch   func(result *work.BatchResult)
}

// Summary totals a run.
type Summary struct {
	Batches    int
	Applied    int
	RolledBack int
	Failed     int
	// Concurrency is the level the next batch would use.
	Concurrency int
	Elapsed     time.Duration
}

func (s Summary) String() string {
	return fmt.Sprintf("%d batches: %d applied, %d rolled back, %d failed in %s",
		s.Batches, s.Applied, s.RolledBack, s.Failed, s.Elapsed.Round(time.Second))
}

// New wires an orchestrator for the repository containing repoPath.
func New(repoPath string, cfg *config.Config, deps Deps) (*Orchestrator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	repo, err := vcs.Open(repoPath)
	if err != nil {
		return nil, err
	}
	root := repo.Path()
	repoDir, err := config.EnsureRepoDir(root)
	if err != nil {
		return nil, err
	}

	source := deps.Source
	if source == nil {
		if source, err = NewSource(root, cfg); err != nil {
			return nil, err
		}
	}
	procedure := deps.Procedure
	if procedure == nil {
		proc := &work.CommandProcedure{Argv: cfg.WorkCommand, LogDir: filepath.Join(repoDir, "logs")}
		if cfg.UsePTY {
			proc.Pty = work.MakePtyFactory()
		}
		procedure = proc
	}

	recorder := NewRecorder(root, cfg)
	history, err := recorder.History(cfg.ScalingWindow)
	if err != nil {
		log.WarningLog.Printf("starting without batch history: %v", err)
	}
	state := scheduler.LoadScalingState(scheduler.PolicyFromConfig(cfg), history)

	snapshots := snapshot.NewManager(repo)
	return &Orchestrator{
		repo:      repo,
		source:    source,
		snapshots: snapshots,
		scheduler: scheduler.New(source, state, cfg.MaxAttempts),
		sessions: session.NewRunner(repo, procedure, session.Options{
			WorktreeDir:  config.ResolvePath(root, cfg.WorktreeDir),
			BranchPrefix: cfg.BranchPrefix,
			Timeout:      cfg.WorkerTimeout(),
		}),
		merger:   merge.NewCoordinator(repo, source, snapshots, deps.Resolver, merge.Options{AbortBatchOnConflict: cfg.AbortBatchOnConflict}),
		recorder: recorder,
		opts: Options{
			MaxBatchSize:         cfg.MaxBatchSize,
			BatchTimeout:         cfg.BatchTimeout(),
			KeepConflictBranches: cfg.KeepConflictBranches,
		},
		onBatch: deps.OnBatch,
	}, nil
}

// NewSource builds the readiness source the configuration selects.
func NewSource(repoRoot string, cfg *config.Config) (work.ReadinessSource, error) {
	switch cfg.ReadinessSource {
	case config.SourceBeads:
		return work.NewBeadsSource(cfg.BdExecutable, repoRoot, cmd.MakeExecutor()), nil
	case config.SourceQueue:
		return work.NewQueueSource(config.ResolvePath(repoRoot, cfg.QueueFile)), nil
	}
	return nil, fmt.Errorf("unknown readiness source %q", cfg.ReadinessSource)
}

// NewRecorder opens the batch history of the repository.
func NewRecorder(repoRoot string, cfg *config.Config) *metrics.Recorder {
	return metrics.NewRecorder(metrics.NewStore(config.ResolvePath(repoRoot, cfg.MetricsFile)))
}

// SetMaxBatches limits how many batches Run executes.
func (o *Orchestrator) SetMaxBatches(n int) {
	o.opts.MaxBatches = n
}

// Scheduler returns the scheduler the loop uses.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler {
	return o.scheduler
}

// Repo returns the shared workspace.
func (o *Orchestrator) Repo() *vcs.Repo {
	return o.repo
}

// Run executes batches until no work is ready, MaxBatches is reached or ctx is done. Only a
// failure to capture a clean baseline ends it with an error.
func (o *Orchestrator) Run(ctx context.Context) (*Summary, error) {
	started := time.Now()
	summary := &Summary{}
	defer func() {
		summary.Elapsed = time.Since(started)
		summary.Concurrency = o.scheduler.CurrentConcurrencyLevel()
	}()

	for {
		if ctx.Err() != nil {
			log.InfoLog.Printf("run interrupted after %d batches", summary.Batches)
			return summary, nil
		}
		if o.opts.MaxBatches > 0 && summary.Batches >= o.opts.MaxBatches {
			return summary, nil
		}

		result, err := o.RunBatch(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return summary, nil
			}
			return summary, err
		}
		if result == nil {
			log.InfoLog.Printf("no ready work left after %d batches", summary.Batches)
			return summary, nil
		}

		summary.Batches++
		summary.Applied += len(result.Applied)
		summary.RolledBack += len(result.RolledBack)
		summary.Failed += len(result.Failed)
	}
}

// RunBatch executes one batch. It returns a nil result when no work is ready or the readiness
// source cannot be read, and an error only when the baseline cannot be captured.
func (o *Orchestrator) RunBatch(ctx context.Context) (*work.BatchResult, error) {
	baseline, err := o.snapshots.Capture(ctx)
	if err != nil {
		return nil, err
	}

	level := o.scheduler.CurrentConcurrencyLevel()
	items, err := o.scheduler.NextBatch(ctx, o.opts.MaxBatchSize)
	if err != nil {
		log.ErrorLog.Printf("readiness source unavailable: %v", err)
		return nil, nil
	}
	if len(items) == 0 {
		return nil, nil
	}

	result := &work.BatchResult{BatchID: uuid.New().String(), StartedAt: time.Now(), Concurrency: level}
	log.InfoLog.Printf("batch %s: %d items %v at concurrency %d", result.BatchID, len(items), itemIDs(items), level)

	candidates := o.runSessions(ctx, items, baseline, result.BatchID)

	var finished []*work.Candidate
	for _, cand := range candidates {
		if cand.Status == work.StatusFailed {
			result.Failed = append(result.Failed, cand)
		} else {
			finished = append(finished, cand)
		}
	}

	integrated := o.merger.Integrate(ctx, finished, baseline)
	result.Applied = integrated.Applied
	result.RolledBack = integrated.RolledBack

	settleCtx := context.WithoutCancel(ctx)
	o.settle(settleCtx, result)
	o.cleanup(settleCtx, candidates)

	result.Elapsed = time.Since(result.StartedAt)
	result.NextConcurrency = o.scheduler.State().Observe(result)
	o.recorder.Record(result)

	log.InfoLog.Printf("batch %s: %d applied, %d rolled back, %d failed in %s, concurrency %d -> %d",
		result.BatchID, len(result.Applied), len(result.RolledBack), len(result.Failed),
		result.Elapsed.Round(time.Millisecond), result.Concurrency, result.NextConcurrency)
	if o.onBatch != nil {
		o.onBatch(result)
	}
	return result, nil
}

// runSessions runs one session per item under the batch timeout. Items whose session never
// started or was cut off by the timeout come back as failed candidates.
func (o *Orchestrator) runSessions(ctx context.Context, items []work.WorkItem, baseline *snapshot.Baseline, batchID string) []*work.Candidate {
	batchCtx := ctx
	if o.opts.BatchTimeout > 0 {
		var cancel context.CancelFunc
		batchCtx, cancel = context.WithTimeout(ctx, o.opts.BatchTimeout)
		defer cancel()
	}

	candidates := o.scheduler.Dispatch(batchCtx, items, func(ctx context.Context, item work.WorkItem) *work.Candidate {
		return o.sessions.Run(ctx, item, baseline, batchID)
	})

	timedOut := ctx.Err() == nil && errors.Is(batchCtx.Err(), context.DeadlineExceeded)
	for i, cand := range candidates {
		switch {
		case cand == nil:
			cause := ctx.Err()
			reason := session.ReasonCancelled
			if timedOut {
				cause, reason = ErrBatchTimeout, ReasonBatchTimeout
			}
			candidates[i] = abandoned(items[i], reason, cause)
		case timedOut && cand.Status == work.StatusFailed && cand.Reason == session.ReasonCancelled:
			cand.Reason = ReasonBatchTimeout
			cand.Err = &session.WorkerFailure{ItemID: cand.Item.ID, Reason: ReasonBatchTimeout, Err: ErrBatchTimeout}
		}
	}
	return candidates
}

func abandoned(item work.WorkItem, reason string, cause error) *work.Candidate {
	failure := &session.WorkerFailure{ItemID: item.ID, Reason: reason, Err: cause}
	log.WarningLog.Print(failure)
	return &work.Candidate{Item: item, Status: work.StatusFailed, Reason: reason, Err: failure}
}

// settle reports outcomes back to the readiness source. Rolled-back items were already
// reopened by the merge coordinator.
func (o *Orchestrator) settle(ctx context.Context, result *work.BatchResult) {
	if unclaimer, ok := o.source.(work.Unclaimer); ok {
		for _, cand := range result.Failed {
			if err := unclaimer.Unclaim(ctx, cand.Item.ID); err != nil {
				log.ErrorLog.Printf("failed to unclaim %s: %v", cand.Item.ID, err)
			}
		}
	}

	closer, canClose := o.source.(work.Closer)
	for _, cand := range result.Applied {
		o.scheduler.MarkDone(cand.Item.ID)
		if !canClose {
			continue
		}
		if err := closer.Close(ctx, cand.Item.ID); err != nil {
			log.ErrorLog.Printf("failed to close %s: %v", cand.Item.ID, err)
		}
	}
}

// cleanup removes session worktrees. Branches of rolled-back candidates stay when configured.
func (o *Orchestrator) cleanup(ctx context.Context, candidates []*work.Candidate) {
	for _, cand := range candidates {
		if cand.Worktree == "" && cand.Branch == "" {
			continue
		}
		keep := o.opts.KeepConflictBranches && cand.Status == work.StatusRolledBack
		if err := o.sessions.Cleanup(ctx, cand, keep); err != nil {
			log.WarningLog.Printf("failed to clean up session of %s: %v", cand.Item.ID, err)
		}
	}
	if err := o.repo.Prune(ctx); err != nil {
		log.WarningLog.Printf("failed to prune worktrees: %v", err)
	}
}

func itemIDs(items []work.WorkItem) []string {
	ids := make([]string, 0, len(items))
	for _, item := range items {
		ids = append(ids, item.ID)
	}
	return ids
}
