package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/orchestrator"
)

var (
	historyLimitFlag int
	historyJSONFlag  bool
)

// HistoryCmd prints recent batch records.
var HistoryCmd = &cobra.Command{
	Use:          "history",
	Short:        "Show the most recent batches, newest first",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		root, cfg, err := loadRepoConfig()
		if err != nil {
			return err
		}
		records, err := orchestrator.NewRecorder(root, cfg).History(historyLimitFlag)
		if err != nil {
			return fmt.Errorf("failed to read batch history: %w", err)
		}

		if historyJSONFlag {
			data, err := json.MarshalIndent(records, "", "  ")
			if err != nil {
				return err
			}
			fmt.Println(string(data))
			return nil
		}
		if len(records) == 0 {
			fmt.Println(dimStyle.Render("no batches recorded yet"))
			return nil
		}
		for _, rec := range records {
			fmt.Println(renderRecord(rec))
		}
		return nil
	},
}

func renderRecord(rec metrics.Record) string {
	line := fmt.Sprintf("%s  %s  %d items at %d -> %d  %s  %3.0f%%",
		rec.Timestamp.Local().Format("2006-01-02 15:04:05"), shortID(rec.BatchID), rec.BatchSize,
		rec.Concurrency, rec.NextConcurrency, counts(rec.Applied, rec.RolledBack, rec.Failed), rec.SuccessRate*100)
	if len(rec.RolledBackIDs) > 0 {
		line += dimStyle.Render("  rolled back: " + strings.Join(rec.RolledBackIDs, ", "))
	}
	return line
}

func init() {
	addRepoFlag(HistoryCmd)
	HistoryCmd.Flags().IntVarP(&historyLimitFlag, "number", "n", 10, "How many batches to show (0 shows all)")
	HistoryCmd.Flags().BoolVar(&historyJSONFlag, "json", false, "Print the records as JSON")
}
