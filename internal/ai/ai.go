// Package ai drafts subtasks with a language model.
package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/tasks"
	"google.golang.org/genai"
)

// MaxSubtasks bounds one expansion.
const MaxSubtasks = 20

// Generator turns a prompt into text.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// Gemini is a Generator backed by the Gemini API.
type Gemini struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini generator.
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &Gemini{client: client, model: model}, nil
}

// Name returns the generator's model name.
func (g *Gemini) Name() string { return "gemini:" + g.model }

// Generate sends prompt as a single user turn and asks for JSON back.
func (g *Gemini) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}
	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("gemini returned no text")
	}
	return text, nil
}

// Draft is one subtask proposed by the model.
type Draft struct {
	Title        string `json:"title"`
	Description  string `json:"description"`
	Details      string `json:"details,omitempty"`
	TestStrategy string `json:"testStrategy,omitempty"`
}

// ExpandPrompt builds the prompt asking for n subtasks of t.
func ExpandPrompt(t tasks.Task, n int, extra string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Break the following software task into %d concrete, ordered subtasks.\n\n", n)
	fmt.Fprintf(&b, "Task %d: %s\n", t.ID, t.Title)
	if t.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", t.Description)
	}
	if t.Details != "" {
		fmt.Fprintf(&b, "Details: %s\n", t.Details)
	}
	if extra != "" {
		fmt.Fprintf(&b, "Additional context: %s\n", extra)
	}
	b.WriteString("\nRespond with only a JSON array. Each element is an object with ")
	b.WriteString(`"title" and "description" strings and optional "details" and "testStrategy" strings.`)
	return b.String()
}

// ExpandTask asks gen for n subtasks of t and returns them as tasks ready
// for Collection.AddSubtask.
func ExpandTask(ctx context.Context, gen Generator, t tasks.Task, n int, extra string) ([]tasks.Task, error) {
	if n < 1 || n > MaxSubtasks {
		return nil, errs.New(errs.InvalidArgument, "expand task",
			fmt.Sprintf("subtask count must be between 1 and %d, got %d", MaxSubtasks, n))
	}
	text, err := gen.Generate(ctx, ExpandPrompt(t, n, extra))
	if err != nil {
		return nil, err
	}
	drafts, err := ParseDrafts(text)
	if err != nil {
		return nil, err
	}
	if len(drafts) > n {
		drafts = drafts[:n]
	}

	out := make([]tasks.Task, 0, len(drafts))
	for _, d := range drafts {
		out = append(out, tasks.Task{
			Title:        d.Title,
			Description:  d.Description,
			Details:      d.Details,
			TestStrategy: d.TestStrategy,
			Status:       tasks.StatusPending,
		})
	}
	return out, nil
}

// ParseDrafts decodes a model response into drafts. Markdown code fences
// around the JSON are tolerated. Drafts without a title are dropped; a
// response with none left is an error.
func ParseDrafts(text string) ([]Draft, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(strings.TrimSpace(text), "```")
	}

	var drafts []Draft
	if err := json.Unmarshal([]byte(text), &drafts); err != nil {
		return nil, errs.Wrap(errs.ValidationError, "parse subtasks", fmt.Errorf("model response is not a JSON array: %w", err))
	}
	kept := drafts[:0]
	for _, d := range drafts {
		d.Title = strings.TrimSpace(d.Title)
		if d.Title == "" {
			continue
		}
		kept = append(kept, d)
	}
	if len(kept) == 0 {
		return nil, errs.New(errs.ValidationError, "parse subtasks", "model returned no usable subtasks")
	}
	return kept, nil
}
