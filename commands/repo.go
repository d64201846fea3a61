// Package commands holds the convoy subcommands.
package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/config"
	"github.com/ByteMirror/convoy/vcs"
)

// Version is reported by the mcp server. main sets it.
var Version = "dev"

var repoFlag string

func addRepoFlag(c *cobra.Command) {
	c.Flags().StringVar(&repoFlag, "repo", ".", "Any path inside the git repository to work on")
}

// loadRepoConfig finds the repository root and loads the configuration with the repository's
// overrides applied.
func loadRepoConfig() (string, *config.Config, error) {
	path, err := filepath.Abs(repoFlag)
	if err != nil {
		return "", nil, fmt.Errorf("failed to get current directory: %w", err)
	}
	root, err := vcs.FindRepoRoot(path)
	if err != nil {
		return "", nil, fmt.Errorf("convoy must be run from within a git repository: %w", err)
	}
	return root, config.LoadForRepo(root), nil
}
