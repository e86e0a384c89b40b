package tools

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/dependency"
	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/mark3labs/mcp-go/mcp"
)

// loadOrEmpty reads the collection, treating a missing file as empty.
func loadOrEmpty(ctx context.Context, store tasks.Store) (*tasks.Collection, error) {
	c, err := store.Load(ctx)
	if errors.Is(err, errs.NotFound) {
		return tasks.NewCollection(""), nil
	}
	return c, err
}

func depsCell(deps []string) string {
	if len(deps) == 0 {
		return "—"
	}
	return strings.Join(deps, ", ")
}

// ─── TaskListTool ───────────────────────────────────────────────────────────

// TaskListTool handles the task_list MCP tool.
type TaskListTool struct {
	store tasks.Store
}

// NewTaskListTool creates a TaskListTool.
func NewTaskListTool(store tasks.Store) *TaskListTool {
	return &TaskListTool{store: store}
}

// Definition returns the MCP tool definition for task_list.
func (t *TaskListTool) Definition() mcp.Tool {
	return mcp.NewTool("task_list",
		mcp.WithDescription(
			"List tasks with their status, priority and dependencies. "+
				"Optionally filter by status and include subtasks.",
		),
		mcp.WithString("status",
			mcp.Description("Only show tasks with this status: pending, in-progress, done, deferred, cancelled, blocked"),
		),
		mcp.WithBoolean("with_subtasks",
			mcp.Description("Include subtasks under each task (default: false)"),
		),
	)
}

// Handle processes the task_list tool call.
func (t *TaskListTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status := tasks.Status(req.GetString("status", ""))
	if status != "" {
		if err := tasks.ValidateStatus(status); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
	}
	withSubtasks := boolArg(req, "with_subtasks", false)

	c, err := loadOrEmpty(ctx, t.store)
	if err != nil {
		return errorResult(err)
	}
	if len(c.Tasks) == 0 {
		return mcp.NewToolResultText("No tasks yet. Add one with `task_add`."), nil
	}

	var b strings.Builder
	b.WriteString("# Tasks\n\n")
	b.WriteString("| ID | Title | Status | Priority | Depends on |\n")
	b.WriteString("|----|-------|--------|----------|------------|\n")
	shown := 0
	for _, task := range c.Tasks {
		if status != "" && task.Status != status {
			continue
		}
		shown++
		fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n",
			task.ID, task.Title, task.Status, task.Priority, depsCell(task.Dependencies))
		if !withSubtasks {
			continue
		}
		for _, st := range task.Subtasks {
			fmt.Fprintf(&b, "| %s | ↳ %s | %s | %s | %s |\n",
				tasks.SubtaskID(task.ID, st.ID), st.Title, st.Status, st.Priority, depsCell(st.Dependencies))
		}
	}
	if shown == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("No tasks with status %q.", status)), nil
	}

	counts := c.CountByStatus()
	fmt.Fprintf(&b, "\n**Total:** %d · done %d · in-progress %d · pending %d\n",
		len(c.Tasks), counts[tasks.StatusDone], counts[tasks.StatusInProgress], counts[tasks.StatusPending])
	return mcp.NewToolResultText(b.String()), nil
}

// ─── TaskGetTool ────────────────────────────────────────────────────────────

// TaskGetTool handles the task_get MCP tool.
type TaskGetTool struct {
	store tasks.Store
}

// NewTaskGetTool creates a TaskGetTool.
func NewTaskGetTool(store tasks.Store) *TaskGetTool {
	return &TaskGetTool{store: store}
}

// Definition returns the MCP tool definition for task_get.
func (t *TaskGetTool) Definition() mcp.Tool {
	return mcp.NewTool("task_get",
		mcp.WithDescription("Show one task or subtask in full."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Task id (e.g. '3') or subtask id (e.g. '3.2')"),
		),
	)
}

// Handle processes the task_get tool call.
func (t *TaskGetTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	c, err := t.store.Load(ctx)
	if err != nil {
		return errorResult(err)
	}
	task, err := c.Get(id)
	if err != nil {
		return errorResult(err)
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Task %s: %s\n\n%s", id, task.Title, jsonBlock(task))), nil
}

// ─── TaskAddTool ────────────────────────────────────────────────────────────

// TaskAddTool handles the task_add MCP tool.
type TaskAddTool struct {
	journaled
	store tasks.Store
}

// NewTaskAddTool creates a TaskAddTool.
func NewTaskAddTool(store tasks.Store) *TaskAddTool {
	return &TaskAddTool{store: store}
}

// Definition returns the MCP tool definition for task_add.
func (t *TaskAddTool) Definition() mcp.Tool {
	return mcp.NewTool("task_add",
		mcp.WithDescription(
			"Add a task. It gets the next free id. Dependencies are checked: "+
				"unknown ids and edges that would create a cycle are rejected and nothing is saved.",
		),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short task title")),
		mcp.WithString("description", mcp.Description("What the task is about")),
		mcp.WithString("details", mcp.Description("Implementation notes")),
		mcp.WithString("test_strategy", mcp.Description("How to verify the task is done")),
		mcp.WithString("priority", mcp.Description("high, medium (default) or low")),
		mcp.WithArray("dependencies",
			mcp.Description("Ids this task depends on, e.g. [\"1\", \"2.3\"]"),
			mcp.WithStringItems(),
		),
	)
}

// Handle processes the task_add tool call.
func (t *TaskAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title := strings.TrimSpace(req.GetString("title", ""))
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	deps := idListArg(req, "dependencies")

	var added tasks.Task
	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		var err error
		added, err = c.AddTask(tasks.Task{
			Title:        title,
			Description:  req.GetString("description", ""),
			Details:      req.GetString("details", ""),
			TestStrategy: req.GetString("test_strategy", ""),
			Priority:     tasks.Priority(req.GetString("priority", "")),
		})
		if err != nil {
			return err
		}
		id := fmt.Sprint(added.ID)
		for _, dep := range deps {
			if err := dependency.AddDependency(c, id, dep); err != nil {
				return err
			}
		}
		added.Dependencies = c.Find(id).Dependencies
		return nil
	})
	if err != nil {
		return errorResult(err)
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindTaskAdded,
		Subject: fmt.Sprint(added.ID),
		Summary: "added task: " + added.Title,
		Data:    map[string]any{"dependencies": added.Dependencies},
	})
	return mcp.NewToolResultText(fmt.Sprintf("Task %d added: %q (priority %s, depends on %s)",
		added.ID, added.Title, added.Priority, depsCell(added.Dependencies))), nil
}

// ─── TaskSetStatusTool ──────────────────────────────────────────────────────

// TaskSetStatusTool handles the task_set_status MCP tool.
type TaskSetStatusTool struct {
	journaled
	store tasks.Store
}

// NewTaskSetStatusTool creates a TaskSetStatusTool.
func NewTaskSetStatusTool(store tasks.Store) *TaskSetStatusTool {
	return &TaskSetStatusTool{store: store}
}

// Definition returns the MCP tool definition for task_set_status.
func (t *TaskSetStatusTool) Definition() mcp.Tool {
	return mcp.NewTool("task_set_status",
		mcp.WithDescription(
			"Set the status of one or more tasks or subtasks. Marking a task done "+
				"also marks its unfinished subtasks done.",
		),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Task or subtask id; several may be comma-separated ('3,4.1')"),
		),
		mcp.WithString("status",
			mcp.Required(),
			mcp.Description("pending, in-progress, done, deferred, cancelled or blocked"),
		),
	)
}

// Handle processes the task_set_status tool call.
func (t *TaskSetStatusTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	ids := idListArg(req, "id")
	if len(ids) == 0 {
		return mcp.NewToolResultError("'id' is required"), nil
	}
	status := tasks.Status(req.GetString("status", ""))

	var changed []string
	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		for _, id := range ids {
			ch, err := c.SetStatus(id, status)
			if err != nil {
				return err
			}
			changed = append(changed, ch...)
		}
		return nil
	})
	if err != nil {
		return errorResult(err)
	}
	if len(changed) == 0 {
		return mcp.NewToolResultText(fmt.Sprintf("Already %s: %s", status, strings.Join(ids, ", "))), nil
	}

	for _, id := range changed {
		t.rec.record(ctx, journal.Event{
			Kind:    journal.KindTaskStatus,
			Subject: id,
			Summary: fmt.Sprintf("%s is now %s", id, status),
			Data:    map[string]any{"status": string(status)},
		})
	}
	return mcp.NewToolResultText(fmt.Sprintf("Status set to %s for: %s", status, strings.Join(changed, ", "))), nil
}

// ─── TaskRemoveTool ─────────────────────────────────────────────────────────

// TaskRemoveTool handles the task_remove MCP tool.
type TaskRemoveTool struct {
	journaled
	store tasks.Store
}

// NewTaskRemoveTool creates a TaskRemoveTool.
func NewTaskRemoveTool(store tasks.Store) *TaskRemoveTool {
	return &TaskRemoveTool{store: store}
}

// Definition returns the MCP tool definition for task_remove.
func (t *TaskRemoveTool) Definition() mcp.Tool {
	return mcp.NewTool("task_remove",
		mcp.WithDescription(
			"Remove a top-level task and its subtasks. Dependencies on any of them are "+
				"dropped from the remaining tasks. Use subtask_remove for subtasks.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Top-level task id")),
	)
}

// Handle processes the task_remove tool call.
func (t *TaskRemoveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw := req.GetString("id", "")
	id, err := tasks.ParseID(raw)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if id.IsSubtask() {
		return mcp.NewToolResultError(fmt.Sprintf("%s is a subtask id; use subtask_remove", id)), nil
	}

	var rewrites []tasks.Rewrite
	_, err = t.store.Mutate(ctx, func(c *tasks.Collection) error {
		var err error
		rewrites, err = c.RemoveTask(id.Task)
		return err
	})
	if err != nil {
		return errorResult(err)
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindTaskRemoved,
		Subject: id.String(),
		Summary: "removed task " + id.String(),
		Data:    map[string]any{"rewrites": rewriteStrings(rewrites)},
	})
	return mcp.NewToolResultText(fmt.Sprintf("Task %s removed.%s", id, renderRewrites(rewrites))), nil
}

func rewriteStrings(rewrites []tasks.Rewrite) []string {
	out := make([]string, len(rewrites))
	for i, r := range rewrites {
		out[i] = r.String()
	}
	return out
}

func renderRewrites(rewrites []tasks.Rewrite) string {
	if len(rewrites) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("\n\nDependency changes:\n")
	for _, r := range rewrites {
		fmt.Fprintf(&b, "- %s\n", r)
	}
	return b.String()
}

// ─── SubtaskAddTool ─────────────────────────────────────────────────────────

// SubtaskAddTool handles the subtask_add MCP tool.
type SubtaskAddTool struct {
	journaled
	store tasks.Store
}

// NewSubtaskAddTool creates a SubtaskAddTool.
func NewSubtaskAddTool(store tasks.Store) *SubtaskAddTool {
	return &SubtaskAddTool{store: store}
}

// Definition returns the MCP tool definition for subtask_add.
func (t *SubtaskAddTool) Definition() mcp.Tool {
	return mcp.NewTool("subtask_add",
		mcp.WithDescription("Add a subtask to a task. Its id is '<parent>.<n>'."),
		mcp.WithString("parent_id", mcp.Required(), mcp.Description("Top-level task id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Short subtask title")),
		mcp.WithString("description", mcp.Description("What the subtask is about")),
		mcp.WithString("details", mcp.Description("Implementation notes")),
		mcp.WithArray("dependencies",
			mcp.Description("Ids this subtask depends on"),
			mcp.WithStringItems(),
		),
	)
}

// Handle processes the subtask_add tool call.
func (t *SubtaskAddTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	parent, err := tasks.ParseID(req.GetString("parent_id", ""))
	if err != nil || parent.IsSubtask() {
		return mcp.NewToolResultError("'parent_id' must be a top-level task id"), nil
	}
	title := strings.TrimSpace(req.GetString("title", ""))
	if title == "" {
		return mcp.NewToolResultError("'title' is required"), nil
	}
	deps := idListArg(req, "dependencies")

	var id string
	_, err = t.store.Mutate(ctx, func(c *tasks.Collection) error {
		var err error
		id, err = c.AddSubtask(parent.Task, tasks.Task{
			Title:       title,
			Description: req.GetString("description", ""),
			Details:     req.GetString("details", ""),
		})
		if err != nil {
			return err
		}
		for _, dep := range deps {
			if err := dependency.AddDependency(c, id, dep); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return errorResult(err)
	}

	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindTaskAdded,
		Subject: id,
		Summary: "added subtask: " + title,
	})
	return mcp.NewToolResultText(fmt.Sprintf("Subtask %s added: %q", id, title)), nil
}

// ─── SubtaskRemoveTool ──────────────────────────────────────────────────────

// SubtaskRemoveTool handles the subtask_remove MCP tool.
type SubtaskRemoveTool struct {
	journaled
	store tasks.Store
}

// NewSubtaskRemoveTool creates a SubtaskRemoveTool.
func NewSubtaskRemoveTool(store tasks.Store) *SubtaskRemoveTool {
	return &SubtaskRemoveTool{store: store}
}

// Definition returns the MCP tool definition for subtask_remove.
func (t *SubtaskRemoveTool) Definition() mcp.Tool {
	return mcp.NewTool("subtask_remove",
		mcp.WithDescription(
			"Remove a subtask. Later siblings are renumbered to keep ids contiguous and "+
				"every dependency on them follows the new id; dependencies on the removed "+
				"subtask are dropped. The response lists every change.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Subtask id, e.g. '3.2'")),
	)
}

// Handle processes the subtask_remove tool call.
func (t *SubtaskRemoveTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id := strings.TrimSpace(req.GetString("id", ""))
	if id == "" {
		return mcp.NewToolResultError("'id' is required"), nil
	}

	var result tasks.RemoveResult
	_, err := t.store.Mutate(ctx, func(c *tasks.Collection) error {
		var err error
		result, err = c.RemoveSubtask(id)
		return err
	})
	if err != nil {
		return errorResult(err)
	}

	renumbered := make([]string, len(result.Renumbered))
	for i, r := range result.Renumbered {
		renumbered[i] = r.From + " -> " + r.To
	}
	t.rec.record(ctx, journal.Event{
		Kind:    journal.KindSubtaskRemoved,
		Subject: result.Removed,
		Summary: "removed subtask " + result.Removed,
		Data: map[string]any{
			"renumbered": renumbered,
			"rewrites":   rewriteStrings(result.Rewrites),
		},
	})

	var b strings.Builder
	fmt.Fprintf(&b, "Subtask %s removed.", result.Removed)
	if len(renumbered) > 0 {
		b.WriteString("\n\nRenumbered:\n")
		for _, r := range renumbered {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString(renderRewrites(result.Rewrites))
	return mcp.NewToolResultText(b.String()), nil
}

// ─── TaskNextTool ───────────────────────────────────────────────────────────

// TaskNextTool handles the task_next MCP tool.
type TaskNextTool struct {
	store tasks.Store
}

// NewTaskNextTool creates a TaskNextTool.
func NewTaskNextTool(store tasks.Store) *TaskNextTool {
	return &TaskNextTool{store: store}
}

// Definition returns the MCP tool definition for task_next.
func (t *TaskNextTool) Definition() mcp.Tool {
	return mcp.NewTool("task_next",
		mcp.WithDescription(
			"Pick the next task to work on: a pending or in-progress task whose "+
				"dependencies are all done, highest priority first.",
		),
	)
}

// Handle processes the task_next tool call.
func (t *TaskNextTool) Handle(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	c, err := loadOrEmpty(ctx, t.store)
	if err != nil {
		return errorResult(err)
	}
	next := c.NextTask()
	if next == nil {
		return mcp.NewToolResultText("Nothing is ready: every open task is waiting on unfinished dependencies, or there are no open tasks."), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("# Next: task %d: %s\n\n%s", next.ID, next.Title, jsonBlock(next))), nil
}
