package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/mark3labs/mcp-go/mcp"
)

// ActivityRecentTool handles the activity_recent MCP tool.
type ActivityRecentTool struct {
	journal *journal.Store
}

// NewActivityRecentTool creates an ActivityRecentTool.
func NewActivityRecentTool(j *journal.Store) *ActivityRecentTool {
	return &ActivityRecentTool{journal: j}
}

// Definition returns the MCP tool definition for activity_recent.
func (t *ActivityRecentTool) Definition() mcp.Tool {
	return mcp.NewTool("activity_recent",
		mcp.WithDescription(
			"Show recent changes to tasks, dependencies and documents, newest first. "+
				"Includes edits made to the task file outside this server.",
		),
		mcp.WithString("kind", mcp.Description("Only this event kind, e.g. task_status, external_edit")),
		mcp.WithString("subject", mcp.Description("Only events about this task id or locator")),
		mcp.WithNumber("limit", mcp.Description(fmt.Sprintf("Max events (default %d)", journal.DefaultRecentLimit))),
	)
}

// Handle processes the activity_recent tool call.
func (t *ActivityRecentTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events, err := t.journal.Recent(ctx, journal.Query{
		Kind:    req.GetString("kind", ""),
		Subject: req.GetString("subject", ""),
		Limit:   intArg(req, "limit", journal.DefaultRecentLimit),
	})
	if err != nil {
		return nil, fmt.Errorf("reading activity: %w", err)
	}
	if len(events) == 0 {
		return mcp.NewToolResultText("No recorded activity."), nil
	}

	var b strings.Builder
	b.WriteString("# Recent activity\n\n")
	for _, e := range events {
		fmt.Fprintf(&b, "- `%s` **%s** %s", e.CreatedAt.Format("2006-01-02 15:04:05"), e.Kind, e.Summary)
		if e.Subject != "" && !strings.Contains(e.Summary, e.Subject) {
			fmt.Fprintf(&b, " (%s)", e.Subject)
		}
		b.WriteString("\n")
	}
	return mcp.NewToolResultText(b.String()), nil
}
