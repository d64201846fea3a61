package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	gomcp "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ByteMirror/convoy/log"
	"github.com/ByteMirror/convoy/metrics"
	"github.com/ByteMirror/convoy/scheduler"
)

const (
	defaultHistoryLimit = 10
	maxHistoryLimit     = 100
)

var limitDescription = fmt.Sprintf("How many batches to return (1-%d, default %d).", maxHistoryLimit, defaultHistoryLimit)

// statusView is the JSON returned by scaling_status.
type statusView struct {
	scheduler.Status
	LastBatch *metrics.Record `json:"last_batch,omitempty"`
}

func handleBatchHistory(reader *HistoryReader) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		limit := req.GetInt("limit", defaultHistoryLimit)
		log.DebugLog.Printf("tool call: batch_history (limit=%d)", limit)
		if limit < 1 {
			return gomcp.NewToolResultError("limit must be at least 1"), nil
		}
		if limit > maxHistoryLimit {
			limit = maxHistoryLimit
		}

		records, err := reader.History(limit)
		if err != nil {
			log.ErrorLog.Printf("batch_history: %v", err)
			return gomcp.NewToolResultError("failed to read batch history: " + err.Error()), nil
		}
		if len(records) == 0 {
			return gomcp.NewToolResultText("No batches recorded for this repository yet."), nil
		}

		data, err := json.MarshalIndent(records, "", "  ")
		if err != nil {
			return gomcp.NewToolResultError("failed to marshal batch history: " + err.Error()), nil
		}
		return gomcp.NewToolResultText(string(data)), nil
	}
}

func handleScalingStatus(reader *HistoryReader) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, req gomcp.CallToolRequest) (*gomcp.CallToolResult, error) {
		log.DebugLog.Printf("tool call: scaling_status")
		status, last, err := reader.Status()
		if err != nil {
			log.ErrorLog.Printf("scaling_status: %v", err)
			return gomcp.NewToolResultError("failed to read scaling state: " + err.Error()), nil
		}

		data, err := json.MarshalIndent(statusView{Status: status, LastBatch: last}, "", "  ")
		if err != nil {
			return gomcp.NewToolResultError("failed to marshal scaling state: " + err.Error()), nil
		}
		return gomcp.NewToolResultText(string(data)), nil
	}
}
