package work

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strconv"
	"strings"

	"github.com/ByteMirror/convoy/cmd"
	"github.com/ByteMirror/convoy/log"
)

// Issue statuses understood by bd.
const (
	beadsOpen       = "open"
	beadsInProgress = "in_progress"
)

// BeadsSource reads ready work from the bd issue tracker of a repository.
type BeadsSource struct {
	executable string
	// dir is the absolute repository root bd runs in.
	dir  string
	exec cmd.Executor
}

// NewBeadsSource returns a source that runs executable inside repoRoot.
func NewBeadsSource(executable, repoRoot string, executor cmd.Executor) *BeadsSource {
	if executable == "" {
		executable = "bd"
	}
	if executor == nil {
		executor = cmd.MakeExecutor()
	}
	return &BeadsSource{executable: executable, dir: repoRoot, exec: executor}
}

type beadRecord struct {
	ID           string      `json:"id"`
	Title        string      `json:"title"`
	Status       string      `json:"status"`
	Priority     json.Number `json:"priority"`
	DependsOn    []string    `json:"dependsOn"`
	DependsOnAlt []string    `json:"depends_on"`
}

// ListReady runs `bd ready --json --limit N`.
func (b *BeadsSource) ListReady(ctx context.Context, limit int) ([]WorkItem, error) {
	out, err := b.run(ctx, "ready", "--json", "--limit", strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	records, err := parseBeadRecords(out)
	if err != nil {
		return nil, fmt.Errorf("parse bd ready output: %w", err)
	}

	items := make([]WorkItem, 0, len(records))
	for _, rec := range records {
		id := strings.TrimSpace(rec.ID)
		if id == "" {
			continue
		}
		items = append(items, WorkItem{
			ID:        id,
			Title:     strings.TrimSpace(rec.Title),
			Priority:  parsePriority(rec.Priority),
			DependsOn: append(append([]string{}, rec.DependsOn...), rec.DependsOnAlt...),
		})
	}
	SortByPriority(items)
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// Claim marks the issue as in progress.
func (b *BeadsSource) Claim(ctx context.Context, id string) error {
	return b.setStatus(ctx, id, beadsInProgress)
}

// Unclaim puts the issue back to open without counting it as a retry.
func (b *BeadsSource) Unclaim(ctx context.Context, id string) error {
	return b.setStatus(ctx, id, beadsOpen)
}

// Reopen puts a rolled-back issue back to open. Closing applied issues is left to the
// work procedure, which knows whether the work is really done.
func (b *BeadsSource) Reopen(ctx context.Context, id string) error {
	return b.setStatus(ctx, id, beadsOpen)
}

func (b *BeadsSource) setStatus(ctx context.Context, id, status string) error {
	if _, err := b.run(ctx, "update", id, "--status", status); err != nil {
		return fmt.Errorf("set %s to %s: %w", id, status, err)
	}
	return nil
}

func (b *BeadsSource) run(ctx context.Context, args ...string) ([]byte, error) {
	c := exec.CommandContext(ctx, b.executable, args...)
	c.Dir = b.dir
	log.DebugLog.Print(cmd.ToString(c))

	out, err := b.exec.CombinedOutput(c)
	if err != nil {
		return out, fmt.Errorf("%s failed: %s: %w", cmd.ToString(c), strings.TrimSpace(string(out)), err)
	}
	return out, nil
}

// parseBeadRecords accepts both a bare JSON array and an {"items": [...]} wrapper.
func parseBeadRecords(data []byte) ([]beadRecord, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var arr []beadRecord
	if err := decoder.Decode(&arr); err == nil {
		return arr, nil
	}

	decoder = json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	var wrapper struct {
		Items []beadRecord `json:"items"`
	}
	if err := decoder.Decode(&wrapper); err == nil && wrapper.Items != nil {
		return wrapper.Items, nil
	}
	return nil, fmt.Errorf("unexpected bd ready output")
}

func parsePriority(n json.Number) int {
	if n == "" {
		return DefaultPriority
	}
	p, err := n.Int64()
	if err != nil {
		return DefaultPriority
	}
	return int(p)
}
