package mcp

import (
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/scheduler"
)

// HistoryReader reads the batch history file. It never writes.
type HistoryReader struct {
	recorder *metrics.Recorder
	policy   scheduler.Policy
}

func NewHistoryReader(recorder *metrics.Recorder, policy scheduler.Policy) *HistoryReader {
	return &HistoryReader{recorder: recorder, policy: policy}
}

// Path returns the history file.
func (r *HistoryReader) Path() string {
	return r.recorder.Store().Path()
}

// History returns up to limit records, most recent first.
func (r *HistoryReader) History(limit int) ([]metrics.Record, error) {
	return r.recorder.History(limit)
}

// Status rebuilds the scaling state from the history the way a new run would.
func (r *HistoryReader) Status() (scheduler.Status, *metrics.Record, error) {
	history, err := r.recorder.History(r.policy.Window)
	if err != nil {
		return scheduler.Status{}, nil, err
	}
	status := scheduler.LoadScalingState(r.policy, history).Status()
	if len(history) == 0 {
		return status, nil, nil
	}
	return status, &history[0], nil
}
