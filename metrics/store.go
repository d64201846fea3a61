package metrics

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/work"
)

// Record is the persisted form of a BatchResult, one JSON object per line.
type Record struct {
	BatchID         string    `json:"batch_id"`
	Timestamp       time.Time `json:"timestamp"`
	BatchSize       int       `json:"batch_size"`
	Concurrency     int       `json:"concurrency"`
	NextConcurrency int       `json:"next_concurrency"`
	Applied         int       `json:"applied"`
	RolledBack      int       `json:"rolled_back"`
	Failed          int       `json:"failed"`
	AppliedIDs      []string  `json:"applied_ids"`
	RolledBackIDs   []string  `json:"rolled_back_ids"`
	FailedIDs       []string  `json:"failed_ids"`
	ElapsedMS       int64     `json:"elapsed_ms"`
	SuccessRate     float64   `json:"success_rate"`
}

// NewRecord flattens a BatchResult.
func NewRecord(result *work.BatchResult) Record {
	rate, _ := result.SuccessRate()
	return Record{
		BatchID:         result.BatchID,
		Timestamp:       result.StartedAt.UTC().Truncate(time.Second),
		BatchSize:       result.Size(),
		Concurrency:     result.Concurrency,
		NextConcurrency: result.NextConcurrency,
		Applied:         len(result.Applied),
		RolledBack:      len(result.RolledBack),
		Failed:          len(result.Failed),
		AppliedIDs:      work.IDs(result.Applied),
		RolledBackIDs:   work.IDs(result.RolledBack),
		FailedIDs:       work.IDs(result.Failed),
		ElapsedMS:       result.Elapsed.Milliseconds(),
		SuccessRate:     rate,
	}
}

// Rate recomputes the success rate from the counts. It reports false for an empty batch.
func (r Record) Rate() (float64, bool) {
	return work.SuccessRate(r.Applied, r.RolledBack, r.Failed)
}

// PersistenceError is a failed metrics write. It is logged, never allowed to stop a batch.
type PersistenceError struct {
	Path string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("failed to persist metrics to %s: %v", e.Path, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Store is an append-only JSON-lines file. Each record is written with a single write on
// a file opened with O_APPEND, so a crash can at worst leave one partial trailing line.
type Store struct {
	path string
	mu   sync.Mutex
	// skipWarn rate-limits reports of unreadable lines.
	skipWarn *log.Every
}

func NewStore(path string) *Store {
	return &Store{path: path, skipWarn: log.NewEvery(time.Minute)}
}

// Path returns the location of the history file.
func (s *Store) Path() string {
	return s.path
}

// Append writes one record.
func (s *Store) Append(rec Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(s.path), 0755); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	defer f.Close()

	// Start on a fresh line if an earlier write was cut short.
	if !s.endsWithNewline() {
		data = append([]byte{'\n'}, data...)
	}
	data = append(data, '\n')
	if _, err := f.Write(data); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	if err := f.Sync(); err != nil {
		return &PersistenceError{Path: s.path, Err: err}
	}
	return nil
}

func (s *Store) endsWithNewline() bool {
	f, err := os.Open(s.path)
	if err != nil {
		return true
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.Size() == 0 {
		return true
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return true
	}
	return last[0] == '\n'
}

// ReadAll returns every parseable record, oldest first. Lines that do not parse are skipped.
// A missing file is an empty history.
func (s *Store) ReadAll() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := os.Open(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open metrics history: %w", err)
	}
	defer f.Close()

	var records []Record
	var skipped []int
	reader := bufio.NewReader(f)
	for lineNo := 1; ; lineNo++ {
		line, readErr := reader.ReadBytes('\n')
		if line = bytes.TrimSpace(line); len(line) > 0 {
			var rec Record
			if err := json.Unmarshal(line, &rec); err != nil {
				skipped = append(skipped, lineNo)
			} else {
				records = append(records, rec)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			return records, fmt.Errorf("failed to read metrics history: %w", readErr)
		}
	}
	if len(skipped) > 0 && s.skipWarn.ShouldLog() {
		log.WarningLog.Printf("skipped unreadable metrics lines %v in %s", skipped, s.path)
	}
	return records, nil
}
