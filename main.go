package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/commands"
	"github.com/ByteMirror/convoy/config"
)

var (
	version = "0.1.0"
	rootCmd = &cobra.Command{
		Use:   "convoy",
		Short: "convoy - run independent work items in parallel against one git repository",
		Long: `convoy takes ready work items from an issue tracker (bd) or a queue file, runs a work
procedure for each of them concurrently in separate worktrees, and merges the results into the
current branch in priority order. Conflicting lower-priority work is rolled back and reopened.`,
	}

	debugCmd = &cobra.Command{
		Use:   "debug",
		Short: "Print debug information like config paths",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig()

			configDir, err := config.GetConfigDir()
			if err != nil {
				return fmt.Errorf("failed to get config directory: %w", err)
			}
			configJson, _ := json.MarshalIndent(cfg, "", "  ")

			fmt.Printf("Config: %s\n%s\n", filepath.Join(configDir, config.ConfigFileName), configJson)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version number of convoy",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("convoy version %s\n", version)
		},
	}
)

func init() {
	commands.Version = version

	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.HistoryCmd)
	rootCmd.AddCommand(commands.StatusCmd)
	rootCmd.AddCommand(commands.McpCmd)
	rootCmd.AddCommand(debugCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
