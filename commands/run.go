package commands

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/config"
	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/orchestrator"
	"github.com/ByteMirror/convoy/snapshot"
	"github.com/ByteMirror/convoy/work"
)

var (
	maxBatchesFlag      int
	maxBatchSizeFlag    int
	sourceFlag          string
	queueFileFlag       string
	batchTimeoutFlag    time.Duration
	abortOnConflictFlag bool
)

// RunCmd runs batches until the readiness source has nothing ready.
var RunCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ready work items in parallel and merge them in priority order",
	Long: `Run batches of ready work items. Each item gets its own worktree and work procedure;
finished items are merged into the current branch most urgent first, and items that conflict
with more urgent work are rolled back and reopened. Concurrency follows the success rate of
recent batches.

The workspace must be clean: convoy exits with status 1 if there are uncommitted changes.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		log.Initialize("")
		defer log.Close()

		root, cfg, err := loadRepoConfig()
		if err != nil {
			return err
		}
		if err := applyRunFlags(cmd, cfg); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		o, err := orchestrator.New(root, cfg, orchestrator.Deps{
			OnBatch: func(result *work.BatchResult) { fmt.Print(renderBatch(result)) },
		})
		if err != nil {
			return err
		}
		o.SetMaxBatches(maxBatchesFlag)

		fmt.Println(titleStyle.Render(fmt.Sprintf("convoy: %s, source %s, concurrency %d",
			root, cfg.ReadinessSource, o.Scheduler().CurrentConcurrencyLevel())))
		summary, err := o.Run(ctx)
		if err != nil {
			if errors.Is(err, snapshot.ErrDirtyWorkspace) {
				fmt.Println(errorStyle.Render("the workspace has uncommitted changes; commit or stash them first"))
			}
			log.ErrorLog.Printf("run stopped: %v", err)
			return err
		}
		fmt.Println(successStyle.Render(summary.String()))
		return nil
	},
}

func applyRunFlags(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	if flags.Changed("max-batch-size") {
		cfg.MaxBatchSize = maxBatchSizeFlag
	}
	if flags.Changed("source") {
		cfg.ReadinessSource = sourceFlag
	}
	if flags.Changed("queue") {
		cfg.QueueFile = queueFileFlag
		if !flags.Changed("source") {
			cfg.ReadinessSource = config.SourceQueue
		}
	}
	if flags.Changed("batch-timeout") {
		// Timeouts are kept in whole seconds; zero disables them.
		if batchTimeoutFlag < 0 || (batchTimeoutFlag > 0 && batchTimeoutFlag < time.Second) {
			return fmt.Errorf("--batch-timeout must be 0 or at least 1s, got %s", batchTimeoutFlag)
		}
		cfg.BatchTimeoutSeconds = int(math.Ceil(batchTimeoutFlag.Seconds()))
	}
	if flags.Changed("abort-on-conflict") {
		cfg.AbortBatchOnConflict = abortOnConflictFlag
	}
	return nil
}

func init() {
	addRepoFlag(RunCmd)
	RunCmd.Flags().IntVar(&maxBatchesFlag, "max-batches", 0, "Stop after this many batches (0 runs until no work is ready)")
	RunCmd.Flags().IntVar(&maxBatchSizeFlag, "max-batch-size", 0, "Most work items per batch")
	RunCmd.Flags().StringVar(&sourceFlag, "source", "", "Readiness source: beads or queue")
	RunCmd.Flags().StringVar(&queueFileFlag, "queue", "", "Queue file (YAML, TOML or JSON); implies --source queue")
	RunCmd.Flags().DurationVar(&batchTimeoutFlag, "batch-timeout", 0, "Cancel sessions still running after this long")
	RunCmd.Flags().BoolVar(&abortOnConflictFlag, "abort-on-conflict", false, "Roll back the whole batch on the first conflict")
}
