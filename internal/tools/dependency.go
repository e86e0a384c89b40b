package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/dependency"
	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/mark3labs/mcp-go/mcp"
)

// ─── DependencyAddTool ──────────────────────────────────────────────────────

// DependencyAddTool handles the dependency_add MCP tool.
type DependencyAddTool struct {
	journaled
	store tasks.Store
}

// NewDependencyAddTool creates a DependencyAddTool.
func NewDependencyAddTool(store tasks.Store) *DependencyAddTool {
	return &DependencyAddTool{store: store}
}

// Definition returns the MCP tool definition for dependency_add.
func (t *DependencyAddTool) Definition() mcp.Tool {
	return mcp.NewTool("dependency_add",
		mcp.WithDescription(
			"Record that a task depends on another. Both ids must exist. An edge that "+
				"would create a cycle is rejected and nothing changes.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("The dependent task or subtask id")),
		mcp.WithString("depends_on", mcp.Required(), mcp.Description("The id it depends on")),
	)
}

// Handle processes the dependency_add tool call.
func (t *DependencyAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	dep := strings.TrimSpace(req.GetString("depends_on", ""))
	if id == "" || dep == "" {
		return mcp.NewToolResultError("'id' and 'depends_on' are required"), nil
	}

	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		return dependency.AddDependency(c, id, dep)
	})
	if err != nil {
		return errorResult(err)
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindDependencyAdded,
		Subject: id,
		Summary: fmt.Sprintf("%s now depends on %s", id, dep),
		Data:    map[string]any{"dependsOn": dep},
	})
	return mcp.NewToolResultText(fmt.Sprintf("%s now depends on %s.", id, dep)), nil
}

// ─── DependencyRemoveTool ───────────────────────────────────────────────────

// DependencyRemoveTool handles the dependency_remove MCP tool.
type DependencyRemoveTool struct {
	journaled
	store tasks.Store
}

// NewDependencyRemoveTool creates a DependencyRemoveTool.
func NewDependencyRemoveTool(store tasks.Store) *DependencyRemoveTool {
	return &DependencyRemoveTool{store: store}
}

// Definition returns the MCP tool definition for dependency_remove.
func (t *DependencyRemoveTool) Definition() mcp.Tool {
	return mcp.NewTool("dependency_remove",
		mcp.WithDescription("Remove a dependency edge. Removing an edge that does not exist is not an error."),
		mcp.WithString("id", mcp.Required(), mcp.Description("The dependent task or subtask id")),
		mcp.WithString("depends_on", mcp.Required(), mcp.Description("The id to stop depending on")),
	)
}

// Handle processes the dependency_remove tool call.
func (t *DependencyRemoveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	dep := strings.TrimSpace(req.GetString("depends_on", ""))
	if id == "" || dep == "" {
		return mcp.NewToolResultError("'id' and 'depends_on' are required"), nil
	}

	var removed bool
	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		var err error
		removed, err = dependency.RemoveDependency(c, id, dep)
		return err
	})
	if err != nil {
		return errorResult(err)
	}
	if !removed {
		return mcp.NewToolResultText(fmt.Sprintf("%s did not depend on %s; nothing changed.", id, dep)), nil
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindDependencyRemove,
		Subject: id,
		Summary: fmt.Sprintf("%s no longer depends on %s", id, dep),
		Data:    map[string]any{"dependsOn": dep},
	})
	return mcp.NewToolResultText(fmt.Sprintf("%s no longer depends on %s.", id, dep)), nil
}

// ─── DependencyValidateTool ─────────────────────────────────────────────────

// DependencyValidateTool handles the dependency_validate MCP tool.
type DependencyValidateTool struct {
	store tasks.Store
}

// NewDependencyValidateTool creates a DependencyValidateTool.
func NewDependencyValidateTool(store tasks.Store) *DependencyValidateTool {
	return &DependencyValidateTool{store: store}
}

// Definition returns the MCP tool definition for dependency_validate.
func (t *DependencyValidateTool) Definition() mcp.Tool {
	return mcp.NewTool("dependency_validate",
		mcp.WithDescription(
			"Check the whole dependency graph for cycles and for dependencies on ids "+
				"that no longer exist. Read-only; use dependency_fix to repair.",
		),
	)
}

// Handle processes the dependency_validate tool call.
func (t *DependencyValidateTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := loadOrEmpty(ctx, t.store)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(RenderReport(dependency.ValidateAll(c))), nil
}

// RenderReport formats a validation report as markdown.
func RenderReport(r dependency.Report) string {
	if r.Valid {
		return "✅ Dependency graph is valid: no cycles, no missing ids."
	}
	var b strings.Builder
	b.WriteString("# Dependency problems\n\n")
	if len(r.Cycles) > 0 {
		b.WriteString("## Cycles\n\n")
		for _, cy := range r.Cycles {
			fmt.Fprintf(&b, "- %s\n", cy)
		}
		b.WriteString("\n")
	}
	if len(r.Dangling) > 0 {
		b.WriteString("## Missing dependencies\n\n")
		for _, e := range r.Dangling {
			fmt.Fprintf(&b, "- %s depends on %s, which does not exist\n", e.TaskID, e.DependsOn)
		}
		b.WriteString("\n")
	}
	b.WriteString("Run `dependency_fix` to repair automatically.")
	return b.String()
}

// ─── DependencyFixTool ──────────────────────────────────────────────────────

// DependencyFixTool handles the dependency_fix MCP tool.
type DependencyFixTool struct {
	journaled
	store tasks.Store
}

// NewDependencyFixTool creates a DependencyFixTool.
func NewDependencyFixTool(store tasks.Store) *DependencyFixTool {
	return &DependencyFixTool{store: store}
}

// Definition returns the MCP tool definition for dependency_fix.
func (t *DependencyFixTool) Definition() mcp.Tool {
	return mcp.NewTool("dependency_fix",
		mcp.WithDescription(
			"Repair the dependency graph: drop dependencies on missing ids, then break "+
				"each cycle by removing the edge that closes it. Lists every removed edge.",
		),
	)
}

// Handle processes the dependency_fix tool call.
func (t *DependencyFixTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var report dependency.FixReport
	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		report = dependency.FixAll(c)
		return nil
	})
	if err != nil {
		return errorResult(err)
	}
	if !report.Changed() {
		return mcp.NewToolResultText("Nothing to fix: the dependency graph is valid."), nil
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindDependencyFixed,
		Subject: "graph",
		Summary: fmt.Sprintf("removed %d missing and %d cyclic dependencies",
			len(report.DanglingRemoved), len(report.CycleEdgesCut)),
		Data: map[string]any{
			"danglingRemoved": edgeStrings(report.DanglingRemoved),
			"cycleEdgesCut":   edgeStrings(report.CycleEdgesCut),
		},
	})
	return mcp.NewToolResultText(RenderFixReport(report)), nil
}

// RenderFixReport formats a repair report as markdown.
func RenderFixReport(r dependency.FixReport) string {
	var b strings.Builder
	b.WriteString("# Dependencies repaired\n\n")
	for _, e := range r.DanglingRemoved {
		fmt.Fprintf(&b, "- removed %s (missing id)\n", e)
	}
	for _, e := range r.CycleEdgesCut {
		fmt.Fprintf(&b, "- removed %s (closed a cycle)\n", e)
	}
	if r.Valid {
		b.WriteString("\nThe graph is now valid.")
	}
	return b.String()
}

func edgeStrings(edges []dependency.Edge) []string {
	out := make([]string, len(edges))
	for i, e := range edges {
		out[i] = e.String()
	}
	return out
}
