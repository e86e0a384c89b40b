package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/operations"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── OperationStatusTool ────────────────────────────────────────────────────

// OperationStatusTool handles the operation_status MCP tool.
type OperationStatusTool struct {
	tracker *operations.Tracker
}

// NewOperationStatusTool creates an OperationStatusTool.
func NewOperationStatusTool(tracker *operations.Tracker) *OperationStatusTool {
	return &OperationStatusTool{tracker: tracker}
}

// Definition returns the MCP tool definition for operation_status.
func (t *OperationStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("operation_status",
		mcp.WithDescription(
			"Poll a background operation started by another tool (e.g. task_expand). "+
				"Shows status, progress and, once finished, the result or error.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Operation id")),
	)
}

// Handle processes the operation_status tool call.
func (t *OperationStatusTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	op, ok := t.tracker.Get(id)
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Operation %q not found. Operations are kept in memory and are lost when the server restarts.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Operation %s: %s (%d%%)\n\n%s", op.ID, op.Status, op.Progress, jsonBlock(op))), nil
}

// ─── OperationListTool ──────────────────────────────────────────────────────

// OperationListTool handles the operation_list MCP tool.
type OperationListTool struct {
	tracker *operations.Tracker
}

// NewOperationListTool creates an OperationListTool.
func NewOperationListTool(tracker *operations.Tracker) *OperationListTool {
	return &OperationListTool{tracker: tracker}
}

// Definition returns the MCP tool definition for operation_list.
func (t *OperationListTool) Definition() mcp.Tool {
	return mcp.NewTool("operation_list",
		mcp.WithDescription("List background operations started since the server came up, oldest first."),
		mcp.WithString("status", mcp.Description("Only operations in this status")),
	)
}

// Handle processes the operation_list tool call.
func (t *OperationListTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := operations.Status(req.GetString("status", ""))

	var b strings.Builder
	b.WriteString("| ID | Type | Status | Progress | Message |\n")
	b.WriteString("|----|------|--------|----------|---------|\n")
	shown := 0
	for _, op := range t.tracker.List() {
		if status != "" && op.Status != status {
			continue
		}
		shown++
		fmt.Fprintf(&b, "| %s | %s | %s | %d%% | %s |\n", op.ID, op.Type, op.Status, op.Progress, op.StatusMessage)
	}
	if shown == 0 {
		return mcp.NewToolResultText("No operations."), nil
	}
	return mcp.NewToolResultText(b.String()), nil
}

// ─── OperationCancelTool ────────────────────────────────────────────────────

// OperationCancelTool handles the operation_cancel MCP tool.
type OperationCancelTool struct {
	tracker *operations.Tracker
}

// NewOperationCancelTool creates an OperationCancelTool.
func NewOperationCancelTool(tracker *operations.Tracker) *OperationCancelTool {
	return &OperationCancelTool{tracker: tracker}
}

// Definition returns the MCP tool definition for operation_cancel.
func (t *OperationCancelTool) Definition() mcp.Tool {
	return mcp.NewTool("operation_cancel",
		mcp.WithDescription("Request cancellation of a background operation. Running work cannot currently be interrupted."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Operation id")),
	)
}

// Handle processes the operation_cancel tool call.
func (t *OperationCancelTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	if _, ok := t.tracker.Get(id); !ok {
		return mcp.NewToolResultError(fmt.Sprintf("Operation %q not found.", id)), nil
	}
	if t.tracker.Cancel(id) {
		return mcp.NewToolResultText(fmt.Sprintf("Operation %s cancelled.", id)), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Operation %s cannot be cancelled; it will run to completion. Poll it with operation_status.", id)), nil
}
