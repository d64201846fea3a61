package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/ByteMirror/convoy/work"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	appliedStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
	rolledStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("11"))
	failedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	labelStyle   = lipgloss.NewStyle().Width(22)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	successStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
)

const batchIDLength = 8

func shortID(id string) string {
	if len(id) > batchIDLength {
		return id[:batchIDLength]
	}
	return id
}

func counts(applied, rolledBack, failed int) string {
	return fmt.Sprintf("%s, %s, %s",
		appliedStyle.Render(fmt.Sprintf("%d applied", applied)),
		rolledStyle.Render(fmt.Sprintf("%d rolled back", rolledBack)),
		failedStyle.Render(fmt.Sprintf("%d failed", failed)))
}

// renderBatch formats the per-batch summary and the reason behind every rollback and failure.
func renderBatch(result *work.BatchResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %s: %s in %s, concurrency %d -> %d\n",
		titleStyle.Render("batch"), shortID(result.BatchID),
		counts(len(result.Applied), len(result.RolledBack), len(result.Failed)),
		result.Elapsed.Round(time.Millisecond), result.Concurrency, result.NextConcurrency)

	for _, c := range result.Applied {
		fmt.Fprintf(&b, "  %s %s\n", appliedStyle.Render("✓"), c.Item.ID)
	}
	for _, c := range result.RolledBack {
		reason := c.Reason
		if len(c.Files) > 0 {
			reason += " in " + strings.Join(c.Files, ", ")
		}
		fmt.Fprintf(&b, "  %s %s %s\n", rolledStyle.Render("↺"), c.Item.ID, dimStyle.Render("rolled back: "+reason))
	}
	for _, c := range result.Failed {
		detail := c.Reason
		if c.Err != nil {
			detail = c.Err.Error()
		}
		fmt.Fprintf(&b, "  %s %s %s\n", failedStyle.Render("✗"), c.Item.ID, dimStyle.Render(detail))
	}
	return b.String()
}
