package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/ai"
	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/operations"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"github.com/mark3labs/mcp-go/mcp"
)

// OpExpandTask is the operation type of task_expand.
const OpExpandTask = "expand_task"

// TaskExpandTool handles the task_expand MCP tool. The model call can
// take a while, so the tool starts an operation and returns its id.
type TaskExpandTool struct {
	store   tasks.Store
	gen     ai.Generator
	tracker *operations.Tracker
}

// NewTaskExpandTool creates a TaskExpandTool.
func NewTaskExpandTool(store tasks.Store, gen ai.Generator, tracker *operations.Tracker) *TaskExpandTool {
	return &TaskExpandTool{store: store, gen: gen, tracker: tracker}
}

// Definition returns the MCP tool definition for task_expand.
func (t *TaskExpandTool) Definition() mcp.Tool {
	return mcp.NewTool("task_expand",
		mcp.WithDescription(
			"Break a task into subtasks with the configured AI model. Runs in the "+
				"background: returns an operation id to poll with operation_status. "+
				"The new subtasks are appended to the task when the operation completes.",
		),
		mcp.WithString("id", mcp.Required(), mcp.Description("Top-level task id")),
		mcp.WithNumber("num", mcp.Description(fmt.Sprintf("How many subtasks (1-%d, default 3)", ai.MaxSubtasks))),
		mcp.WithString("prompt", mcp.Description("Extra context for the model")),
	)
}

// Handle processes the task_expand tool call.
func (t *TaskExpandTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := tasks.ParseID(req.GetString("id", ""))
	if err != nil || id.IsSubtask() {
		return mcp.NewToolResultError("'id' must be a top-level task id"), nil
	}
	num := intArg(req, "num", 3)
	if num < 1 || num > ai.MaxSubtasks {
		return mcp.NewToolResultError(fmt.Sprintf("'num' must be between 1 and %d", ai.MaxSubtasks)), nil
	}
	extra := req.GetString("prompt", "")

	// Fail fast on an unknown task rather than inside the operation.
	c, err := t.store.Load(ctx)
	if err != nil {
		return errorResult(err)
	}
	if _, err := c.Get(id.String()); err != nil {
		return errorResult(err)
	}

	opID, err := t.tracker.Create(ctx, OpExpandTask, t.work(id.Task, num, extra),
		map[string]any{"taskId": id.String(), "num": num})
	if err != nil {
		return nil, fmt.Errorf("starting expansion: %w", err)
	}
	return mcp.NewToolResultText(fmt.Sprintf(
		"Expansion of task %s started.\n\n**Operation:** `%s`\n\nPoll it with `operation_status`.", id, opID)), nil
}

func (t *TaskExpandTool) work(taskID, num int, extra string) operations.Work {
	return func(ctx context.Context, report operations.ProgressFunc) (any, error) {
		report(10, "loading task")
		c, err := t.store.Load(ctx)
		if err != nil {
			return nil, err
		}
		parent, err := c.Get(fmt.Sprint(taskID))
		if err != nil {
			return nil, err
		}

		report(20, "asking the model")
		drafts, err := ai.ExpandTask(ctx, t.gen, *parent, num, extra)
		if err != nil {
			return nil, err
		}

		report(80, fmt.Sprintf("saving %d subtasks", len(drafts)))
		var added []string
		_, err = t.store.Mutate(ctx, func(c *tasks.Collection) error {
			added = added[:0]
			for _, d := range drafts {
				sid, err := c.AddSubtask(taskID, d)
				if err != nil {
					return err
				}
				added = append(added, sid)
			}
			return nil
		})
		if err != nil {
			if errs.KindOf(err) == errs.NotFound {
				return nil, fmt.Errorf("task %d was removed while expanding: %w", taskID, err)
			}
			return nil, err
		}
		return map[string]any{
			"taskId":   fmt.Sprint(taskID),
			"subtasks": added,
			"summary":  "added " + strings.Join(added, ", "),
		}, nil
	}
}
