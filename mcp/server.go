// Package mcp serves convoy's batch history and scaling state to MCP clients over stdio.
// Every tool is read-only.
package mcp

import (
	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ByteMirror/convoy/log"
)

const serverInstructions = "convoy runs batches of work items in parallel against this repository and merges " +
	"their results in priority order. Call scaling_status to see how many sessions the next batch runs " +
	"and the success rate behind that decision. Call batch_history to see what recent batches applied, " +
	"rolled back or failed, for example before re-planning work that keeps conflicting."

// ConvoyMCPServer wraps an MCP server over one repository's history.
type ConvoyMCPServer struct {
	server *mcpserver.MCPServer
	reader *HistoryReader
}

// NewConvoyMCPServer creates the server and registers its tools.
func NewConvoyMCPServer(reader *HistoryReader, version string) *ConvoyMCPServer {
	s := mcpserver.NewMCPServer(
		"convoy",
		version,
		mcpserver.WithInstructions(serverInstructions),
	)

	c := &ConvoyMCPServer{server: s, reader: reader}
	c.registerTools()
	log.InfoLog.Printf("mcp server created for %s", reader.Path())
	return c
}

func (c *ConvoyMCPServer) registerTools() {
	batchHistory := gomcp.NewTool("batch_history",
		gomcp.WithDescription(
			"List the most recent batches, newest first: which items were applied, rolled back "+
				"after a conflict, or failed, the concurrency each batch ran with and its success rate.",
		),
		gomcp.WithNumber("limit",
			gomcp.Description(limitDescription),
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	c.server.AddTool(batchHistory, handleBatchHistory(c.reader))

	scalingStatus := gomcp.NewTool("scaling_status",
		gomcp.WithDescription(
			"Show the concurrency level the next batch will use, the smoothed success rate it was "+
				"derived from and the thresholds that move it.",
		),
		gomcp.WithReadOnlyHintAnnotation(true),
	)
	c.server.AddTool(scalingStatus, handleScalingStatus(c.reader))
}

// Serve starts the MCP server using stdio transport.
func (c *ConvoyMCPServer) Serve() error {
	return mcpserver.ServeStdio(c.server)
}
