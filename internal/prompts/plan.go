package prompts

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// PlanPrompt handles the task-plan MCP prompt.
// It guides the AI to turn a goal into tasks with dependencies.
type PlanPrompt struct{}

// NewPlanPrompt creates a PlanPrompt.
func NewPlanPrompt() *PlanPrompt {
	return &PlanPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *PlanPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("task-plan",
		mcp.WithPromptDescription(
			"Turn a goal into an ordered set of tasks. The AI drafts the plan, "+
				"asks for confirmation, then records it with task_add and dependency_add.",
		),
		mcp.WithArgument("goal",
			mcp.ArgumentDescription("What you want to get done"),
			mcp.RequiredArgument(),
		),
		mcp.WithArgument("brief",
			mcp.ArgumentDescription("Optional locator of a stored brief to plan from, e.g. brief://<id>"),
		),
	)
}

// Handle processes the task-plan prompt request.
func (p *PlanPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	var goal, brief string
	if args := req.Params.Arguments; args != nil {
		goal = strings.TrimSpace(args["goal"])
		brief = strings.TrimSpace(args["brief"])
	}
	if goal == "" {
		return nil, fmt.Errorf("the 'goal' argument is required")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "I want to plan this work: %s\n\n", goal)
	if brief != "" {
		fmt.Fprintf(&b, "Start by reading %s with `resource_get`; the plan must cover it.\n\n", brief)
	}
	b.WriteString("Please:\n" +
		"1. Run `task_list` so the plan does not duplicate existing tasks\n" +
		"2. Draft 3 to 10 tasks, each with a title, a one-line description and a priority\n" +
		"3. Show me the draft with the order they depend on each other and wait for my OK\n" +
		"4. Record each task with `task_add`, then the edges with `dependency_add`\n" +
		"5. Finish with `dependency_validate` and `task_next`")

	return &mcp.GetPromptResult{
		Description: fmt.Sprintf("Plan: %s", goal),
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(b.String()),
			},
		},
	}, nil
}
