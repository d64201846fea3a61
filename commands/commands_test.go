package commands

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteMirror/convoy/config"
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/scheduler"
	"github.com/ByteMirror/convoy/work"
)

func TestRenderBatch(t *testing.T) {
	result := &work.BatchResult{
		BatchID: "0f8fad5b-d9cb-469f-a165-70867728950e",
		Applied: []*work.Candidate{{Item: work.WorkItem{ID: "bd-1"}}},
		RolledBack: []*work.Candidate{{
			Item:   work.WorkItem{ID: "bd-3"},
			Reason: "conflicts with higher-priority work",
			Files:  []string{"main.go"},
		}},
		Failed: []*work.Candidate{{
			Item:   work.WorkItem{ID: "bd-2"},
			Reason: "work procedure failed",
			Err:    errors.New("worker for bd-2 failed: exit status 1"),
		}},
		Elapsed:         1500 * time.Millisecond,
		Concurrency:     2,
		NextConcurrency: 1,
	}

	out := renderBatch(result)
	assert.Contains(t, out, "batch 0f8fad5b")
	assert.Contains(t, out, "1 applied, 1 rolled back, 1 failed in 1.5s, concurrency 2 -> 1")
	assert.Contains(t, out, "bd-3 rolled back: conflicts with higher-priority work in main.go")
	assert.Contains(t, out, "bd-2 worker for bd-2 failed: exit status 1")
}

func TestRenderRecord(t *testing.T) {
	rec := metrics.Record{
		BatchID:         "abcdef0123",
		Timestamp:       time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		BatchSize:       4,
		Concurrency:     2,
		NextConcurrency: 3,
		Applied:         3,
		RolledBack:      1,
		RolledBackIDs:   []string{"bd-9"},
		SuccessRate:     0.75,
	}
	out := renderRecord(rec)
	assert.Contains(t, out, "abcdef01  4 items at 2 -> 3")
	assert.Contains(t, out, "3 applied, 1 rolled back, 0 failed")
	assert.Contains(t, out, " 75%")
	assert.Contains(t, out, "rolled back: bd-9")
}

func TestRenderStatus(t *testing.T) {
	state := scheduler.NewScalingState(scheduler.PolicyFromConfig(config.DefaultConfig()))
	out := renderStatus(state.Status(), nil)
	assert.Contains(t, out, "no data")
	assert.Contains(t, out, "(ceiling 4)")
	assert.NotContains(t, out, "last batch")

	state.Observe(&work.BatchResult{Applied: []*work.Candidate{{}}})
	out = renderStatus(state.Status(), &metrics.Record{BatchID: "b1"})
	assert.Contains(t, out, "1.00 over 1 batches")
	assert.Contains(t, out, "last batch")
}

func TestApplyRunFlags(t *testing.T) {
	cfg := config.DefaultConfig()
	require.NoError(t, applyRunFlags(RunCmd, cfg))
	assert.Equal(t, config.DefaultConfig(), cfg, "unset flags change nothing")

	flags := RunCmd.Flags()
	require.NoError(t, flags.Set("queue", "work.toml"))
	require.NoError(t, flags.Set("max-batch-size", "8"))
	require.NoError(t, flags.Set("batch-timeout", "90s"))
	require.NoError(t, applyRunFlags(RunCmd, cfg))
	assert.Equal(t, config.SourceQueue, cfg.ReadinessSource)
	assert.Equal(t, "work.toml", cfg.QueueFile)
	assert.Equal(t, 8, cfg.MaxBatchSize)
	assert.Equal(t, 90, cfg.BatchTimeoutSeconds)

	require.NoError(t, flags.Set("batch-timeout", "1500ms"))
	require.NoError(t, applyRunFlags(RunCmd, cfg))
	assert.Equal(t, 2, cfg.BatchTimeoutSeconds, "partial seconds round up")

	// a sub-second timeout would otherwise become 0 and disable the timeout
	require.NoError(t, flags.Set("batch-timeout", "500ms"))
	err := applyRunFlags(RunCmd, cfg)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batch-timeout")
	assert.Equal(t, 2, cfg.BatchTimeoutSeconds)

	require.NoError(t, flags.Set("batch-timeout", "0"))
	require.NoError(t, applyRunFlags(RunCmd, cfg))
	assert.Zero(t, cfg.BatchTimeoutSeconds)
}
