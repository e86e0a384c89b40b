// Package prompts implements MCP prompt handlers.
//
// MCP prompts are user-triggered workflows (like slash commands) that
// instruct the AI to execute a specific sequence of tool calls.
package prompts

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// StatusPrompt handles the task-status MCP prompt.
// It asks the AI to summarize progress and point at the next task.
type StatusPrompt struct{}

// NewStatusPrompt creates a StatusPrompt.
func NewStatusPrompt() *StatusPrompt {
	return &StatusPrompt{}
}

// Definition returns the MCP prompt definition for registration.
func (p *StatusPrompt) Definition() mcp.Prompt {
	return mcp.NewPrompt("task-status",
		mcp.WithPromptDescription(
			"Summarize project progress: what is done, what is blocked, "+
				"whether the dependency graph is healthy, and what to work on next.",
		),
		mcp.WithArgument("focus",
			mcp.ArgumentDescription("Optional task id to center the summary on"),
		),
	)
}

// Handle processes the task-status prompt request.
func (p *StatusPrompt) Handle(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	focus := ""
	if args := req.Params.Arguments; args != nil {
		focus = args["focus"]
	}

	text := "Please run `task_list` with with_subtasks=true and `dependency_validate`.\n\n" +
		"Then:\n" +
		"1. Show how many tasks are done, in progress, pending and blocked\n" +
		"2. List anything blocked and what it is waiting on\n" +
		"3. If the dependency graph has problems, explain them and offer `dependency_fix`\n" +
		"4. Run `task_next` and tell me what I should work on next\n" +
		"5. Mention anything notable from `activity_recent`, especially external edits"
	if focus != "" {
		text += fmt.Sprintf("\n\nFocus on task %s: run `task_get` for it and explain what stands between it and done.", focus)
	}

	return &mcp.GetPromptResult{
		Description: "Task status",
		Messages: []mcp.PromptMessage{
			{
				Role:    mcp.RoleUser,
				Content: mcp.NewTextContent(text),
			},
		},
	}, nil
}
