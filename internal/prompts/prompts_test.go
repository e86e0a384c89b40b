package prompts

import (
	"context"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
)

func promptText(t *testing.T, res *mcp.GetPromptResult) string {
	t.Helper()
	if len(res.Messages) != 1 {
		t.Fatalf("got %d messages, want 1", len(res.Messages))
	}
	tc, ok := res.Messages[0].Content.(mcp.TextContent)
	if !ok {
		t.Fatalf("content is %T", res.Messages[0].Content)
	}
	return tc.Text
}

func getReq(args map[string]string) mcp.GetPromptRequest {
	req := mcp.GetPromptRequest{}
	req.Params.Arguments = args
	return req
}

func TestStatusPrompt(t *testing.T) {
	p := NewStatusPrompt()
	if p.Definition().Name != "task-status" {
		t.Errorf("name = %q", p.Definition().Name)
	}

	res, err := p.Handle(context.Background(), getReq(nil))
	if err != nil {
		t.Fatal(err)
	}
	text := promptText(t, res)
	for _, tool := range []string{"task_list", "dependency_validate", "task_next"} {
		if !strings.Contains(text, tool) {
			t.Errorf("prompt should mention %s", tool)
		}
	}
	if strings.Contains(text, "Focus on") {
		t.Error("no focus section without a focus argument")
	}

	res, err = p.Handle(context.Background(), getReq(map[string]string{"focus": "4"}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(promptText(t, res), "Focus on task 4") {
		t.Error("focus argument ignored")
	}
}

func TestPlanPrompt(t *testing.T) {
	p := NewPlanPrompt()

	if _, err := p.Handle(context.Background(), getReq(map[string]string{"goal": " "})); err == nil {
		t.Error("blank goal should fail")
	}

	res, err := p.Handle(context.Background(), getReq(map[string]string{
		"goal":  "ship billing",
		"brief": "brief://b1",
	}))
	if err != nil {
		t.Fatal(err)
	}
	if res.Description != "Plan: ship billing" {
		t.Errorf("description = %q", res.Description)
	}
	text := promptText(t, res)
	for _, want := range []string{"ship billing", "brief://b1", "task_add", "dependency_add"} {
		if !strings.Contains(text, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}
