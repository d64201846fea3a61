// Package metrics persists batch outcomes and serves them back to the concurrency scheduler.
package metrics

import (
	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/work"
)

// Recorder is the best-effort batch history. Writing never fails the caller.
type Recorder struct {
	store *Store
}

func NewRecorder(store *Store) *Recorder {
	return &Recorder{store: store}
}

// Store returns the underlying history file.
func (r *Recorder) Store() *Store {
	return r.store
}

// Record appends the batch. A persistence failure is logged and otherwise ignored.
func (r *Recorder) Record(result *work.BatchResult) {
	if err := r.store.Append(NewRecord(result)); err != nil {
		log.ErrorLog.Printf("batch %s not recorded: %v", result.BatchID, err)
		return
	}
	log.DebugLog.Printf("recorded batch %s to %s", result.BatchID, r.store.Path())
}

// History returns up to window records, most recent first. A window of zero or less returns
// the whole history.
func (r *Recorder) History(window int) ([]Record, error) {
	records, err := r.store.ReadAll()
	if err != nil {
		return nil, err
	}

	n := len(records)
	if window > 0 && window < n {
		n = window
	}
	history := make([]Record, 0, n)
	for i := len(records) - 1; i >= 0 && len(history) < n; i-- {
		history = append(history, records[i])
	}
	return history, nil
}
