package work

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"github.com/ByteMirror/convoy/config"
)

// Queue item statuses.
const (
	QueueOpen       = "open"
	QueueInProgress = "in_progress"
	QueueClosed     = "closed"
)

// QueueItem is one entry of a queue file.
type QueueItem struct {
	ID        string   `yaml:"id" toml:"id" json:"id"`
	Title     string   `yaml:"title,omitempty" toml:"title,omitempty" json:"title,omitempty"`
	Priority  *int     `yaml:"priority,omitempty" toml:"priority,omitempty" json:"priority,omitempty"`
	DependsOn []string `yaml:"depends_on,omitempty" toml:"depends_on,omitempty" json:"depends_on,omitempty"`
	Status    string   `yaml:"status,omitempty" toml:"status,omitempty" json:"status,omitempty"`
	// Reopened counts how often the item came back after a rollback.
	Reopened int `yaml:"reopened,omitempty" toml:"reopened,omitempty" json:"reopened,omitempty"`
}

type queueFile struct {
	Items []QueueItem `yaml:"items" toml:"items" json:"items"`
}

// QueueSource is a readiness source backed by a YAML file:
//
//	items:
//	  - id: parser
//	    priority: 0
//	  - id: docs
//	    depends_on: [parser]
//
// An item is ready when it is open and every dependency is closed. Dependencies that are not
// in the file block the item. Files ending in .toml or .json use that format instead, with
// the same fields.
type QueueSource struct {
	path string
	mu   sync.Mutex
}

// NewQueueSource returns a source for the queue file at path.
func NewQueueSource(path string) *QueueSource {
	return &QueueSource{path: path}
}

// Path returns the queue file location.
func (q *QueueSource) Path() string {
	return q.path
}

func (q *QueueSource) ListReady(ctx context.Context, limit int) ([]WorkItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return nil, err
	}

	statuses := make(map[string]string, len(file.Items))
	for _, item := range file.Items {
		statuses[item.ID] = item.status()
	}

	var ready []WorkItem
	for _, item := range file.Items {
		if item.status() != QueueOpen || !dependenciesClosed(item.DependsOn, statuses) {
			continue
		}
		priority := DefaultPriority
		if item.Priority != nil {
			priority = *item.Priority
		}
		ready = append(ready, WorkItem{
			ID:        item.ID,
			Title:     item.Title,
			Priority:  priority,
			DependsOn: item.DependsOn,
		})
	}
	SortByPriority(ready)
	if limit > 0 && len(ready) > limit {
		ready = ready[:limit]
	}
	return ready, nil
}

func (q *QueueSource) Claim(ctx context.Context, id string) error {
	return q.update(id, func(item *QueueItem) { item.Status = QueueInProgress })
}

func (q *QueueSource) Unclaim(ctx context.Context, id string) error {
	return q.update(id, func(item *QueueItem) { item.Status = QueueOpen })
}

func (q *QueueSource) Reopen(ctx context.Context, id string) error {
	return q.update(id, func(item *QueueItem) {
		item.Status = QueueOpen
		item.Reopened++
	})
}

func (q *QueueSource) Close(ctx context.Context, id string) error {
	return q.update(id, func(item *QueueItem) { item.Status = QueueClosed })
}

// Items returns a copy of every entry in the file.
func (q *QueueSource) Items() ([]QueueItem, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return nil, err
	}
	return file.Items, nil
}

func (q *QueueSource) update(id string, fn func(item *QueueItem)) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	file, err := q.load()
	if err != nil {
		return err
	}
	found := false
	for i := range file.Items {
		if file.Items[i].ID == id {
			fn(&file.Items[i])
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("item %s not found in %s", id, q.path)
	}
	return q.save(file)
}

func (q *QueueSource) load() (*queueFile, error) {
	data, err := os.ReadFile(q.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("queue file %s does not exist", q.path)
		}
		return nil, fmt.Errorf("failed to read queue file: %w", err)
	}

	file, err := decodeQueue(q.path, data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse queue file %s: %w", q.path, err)
	}
	if err := validateQueue(file); err != nil {
		return nil, fmt.Errorf("invalid queue file %s: %w", q.path, err)
	}
	seen := make(map[string]bool, len(file.Items))
	for _, item := range file.Items {
		if seen[item.ID] {
			return nil, fmt.Errorf("queue file %s lists %s twice", q.path, item.ID)
		}
		seen[item.ID] = true
	}
	return file, nil
}

func (q *QueueSource) save(file *queueFile) error {
	data, err := encodeQueue(q.path, file)
	if err != nil {
		return fmt.Errorf("failed to marshal queue file: %w", err)
	}
	return config.AtomicWriteFile(q.path, data, 0644)
}

func (item QueueItem) status() string {
	if item.Status == "" {
		return QueueOpen
	}
	return item.Status
}

func dependenciesClosed(deps []string, statuses map[string]string) bool {
	for _, dep := range deps {
		if statuses[dep] != QueueClosed {
			return false
		}
	}
	return true
}
