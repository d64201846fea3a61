package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/mcp"
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/orchestrator"
	"github.com/ByteMirror/convoy/scheduler"
)

// StatusCmd prints the scaling decision the next run starts from.
var StatusCmd = &cobra.Command{
	Use:          "status",
	Short:        "Show the concurrency level and success rate derived from batch history",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, err := loadRepoConfig()
		if err != nil {
			return err
		}
		reader := mcp.NewHistoryReader(orchestrator.NewRecorder(root, cfg), scheduler.PolicyFromConfig(cfg))
		status, last, err := reader.Status()
		if err != nil {
			return fmt.Errorf("failed to read batch history: %w", err)
		}
		fmt.Print(renderStatus(status, last))
		return nil
	},
}

func renderStatus(status scheduler.Status, last *metrics.Record) string {
	rate := "no data"
	if status.SuccessRate != nil {
		rate = fmt.Sprintf("%.2f over %d batches", *status.SuccessRate, status.Samples)
	}

	var b strings.Builder
	row := func(label, value string) {
		fmt.Fprintf(&b, "%s%s\n", labelStyle.Render(label), value)
	}
	row("concurrency", titleStyle.Render(fmt.Sprintf("%d", status.Concurrency))+dimStyle.Render(fmt.Sprintf(" (ceiling %d)", status.Ceiling)))
	row("success rate (EMA)", rate)
	row("scale up at", fmt.Sprintf(">= %.2f", status.ScaleUpThreshold))
	row("scale down below", fmt.Sprintf("%.2f", status.ScaleDownThreshold))
	row("window", fmt.Sprintf("%d batches, alpha %.3f", status.Window, status.Alpha))
	if last != nil {
		row("last batch", renderRecord(*last))
	}
	return b.String()
}

func init() {
	addRepoFlag(StatusCmd)
}
