package metrics

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ByteMirror/convoy/work"
)

func candidates(ids ...string) []*work.Candidate {
	var out []*work.Candidate
	for _, id := range ids {
		out = append(out, &work.Candidate{Item: work.WorkItem{ID: id}})
	}
	return out
}

func batch(id string, applied, rolledBack, failed int) *work.BatchResult {
	result := &work.BatchResult{
		BatchID:         id,
		StartedAt:       time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		Elapsed:         1500 * time.Millisecond,
		Concurrency:     2,
		NextConcurrency: 3,
	}
	for i := 0; i < applied; i++ {
		result.Applied = append(result.Applied, candidates(fmt.Sprintf("%s-a%d", id, i))...)
	}
	for i := 0; i < rolledBack; i++ {
		result.RolledBack = append(result.RolledBack, candidates(fmt.Sprintf("%s-r%d", id, i))...)
	}
	for i := 0; i < failed; i++ {
		result.Failed = append(result.Failed, candidates(fmt.Sprintf("%s-f%d", id, i))...)
	}
	return result
}

func TestNewRecord(t *testing.T) {
	result := &work.BatchResult{
		BatchID:         "b1",
		StartedAt:       time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		Applied:         candidates("0", "1"),
		RolledBack:      candidates("2"),
		Failed:          candidates("3"),
		Elapsed:         2 * time.Second,
		Concurrency:     2,
		NextConcurrency: 2,
	}

	rec := NewRecord(result)
	assert.Equal(t, Record{
		BatchID:         "b1",
		Timestamp:       time.Date(2026, 10, 14, 9, 30, 0, 0, time.UTC),
		BatchSize:       4,
		Concurrency:     2,
		NextConcurrency: 2,
		Applied:         2,
		RolledBack:      1,
		Failed:          1,
		AppliedIDs:      []string{"0", "1"},
		RolledBackIDs:   []string{"2"},
		FailedIDs:       []string{"3"},
		ElapsedMS:       2000,
		SuccessRate:     0.5,
	}, rec)

	rate, ok := rec.Rate()
	assert.True(t, ok)
	assert.Equal(t, 0.5, rate)
}

func TestRecorderHistory(t *testing.T) {
	recorder := NewRecorder(NewStore(filepath.Join(t.TempDir(), ".convoy", "metrics.jsonl")))

	history, err := recorder.History(10)
	require.NoError(t, err)
	assert.Empty(t, history)

	for i := 0; i < 5; i++ {
		recorder.Record(batch(fmt.Sprintf("b%d", i), 1, 0, 0))
	}

	history, err = recorder.History(3)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "b4", history[0].BatchID)
	assert.Equal(t, "b3", history[1].BatchID)
	assert.Equal(t, "b2", history[2].BatchID)

	history, err = recorder.History(0)
	require.NoError(t, err)
	assert.Len(t, history, 5)
	assert.Equal(t, "b0", history[4].BatchID)
}

func TestRecordFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	NewRecorder(NewStore(path)).Record(batch("b1", 1, 1, 0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSuffix(string(data), "\n"), "\n")
	require.Len(t, lines, 1)
	for _, key := range []string{
		`"batch_id":"b1"`, `"timestamp":"2026-10-14T09:30:00Z"`, `"batch_size":2`, `"concurrency":2`,
		`"next_concurrency":3`, `"applied":1`, `"rolled_back":1`, `"failed":0`, `"applied_ids":["b1-a0"]`,
		`"rolled_back_ids":["b1-r0"]`, `"elapsed_ms":1500`, `"success_rate":0.5`,
	} {
		assert.Contains(t, lines[0], key)
	}
}

func TestPartialLinesAreSkipped(t *testing.T) {
	path := filepath.Join(t.TempDir(), "metrics.jsonl")
	store := NewStore(path)
	require.NoError(t, store.Append(NewRecord(batch("b1", 1, 0, 0))))

	// Simulate a write cut short by a crash.
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_APPEND, 0644)
	require.NoError(t, err)
	_, err = f.WriteString(`{"batch_id":"b2","timesta`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	records, err := store.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b1", records[0].BatchID)

	// The next record starts on its own line and survives.
	require.NoError(t, store.Append(NewRecord(batch("b3", 1, 0, 0))))
	records, err = store.ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "b3", records[1].BatchID)
}

func TestPersistenceFailureDoesNotBlock(t *testing.T) {
	dir := t.TempDir()
	// A directory where the file should be makes every write fail.
	path := filepath.Join(dir, "metrics.jsonl")
	require.NoError(t, os.MkdirAll(path, 0755))
	store := NewStore(path)

	err := store.Append(NewRecord(batch("b1", 1, 0, 0)))
	require.Error(t, err)
	var persistErr *PersistenceError
	require.True(t, errors.As(err, &persistErr))
	assert.Equal(t, path, persistErr.Path)

	recorder := NewRecorder(store)
	assert.NotPanics(t, func() { recorder.Record(batch("b2", 0, 1, 0)) })
}
