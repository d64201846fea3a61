package commands

import (
	"github.com/spf13/cobra"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/mcp"
	"github.com/ByteMirror/convoy/orchestrator"
	"github.com/ByteMirror/convoy/scheduler"
)

// McpCmd serves the read-only MCP tools over stdio.
var McpCmd = &cobra.Command{
	Use:          "mcp",
	Short:        "Serve batch history and scaling state to MCP clients over stdio",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// stdout carries the protocol, so logs go to the file only.
		log.Initialize("")
		defer log.Close()

		root, cfg, err := loadRepoConfig()
		if err != nil {
			return err
		}
		reader := mcp.NewHistoryReader(orchestrator.NewRecorder(root, cfg), scheduler.PolicyFromConfig(cfg))
		return mcp.NewConvoyMCPServer(reader, Version).Serve()
	},
}

func init() {
	addRepoFlag(McpCmd)
}
