package tools

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/HendryAvila/taskloom/internal/journal"
	"github.com/HendryAvila/taskloom/internal/operations"
)

type fakeGenerator struct {
	reply string
	err   error
}

func (f fakeGenerator) Generate(context.Context, string) (string, error) {
	return f.reply, f.err
}

// operationID pulls the id out of a task_expand response.
func operationID(t *testing.T, text string) string {
	t.Helper()
	_, rest, ok := strings.Cut(text, "**Operation:** `")
	if !ok {
		t.Fatalf("no operation id in %q", text)
	}
	id, _, _ := strings.Cut(rest, "`")
	return id
}

func waitOp(t *testing.T, e *env, id string) operations.Operation {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	op, err := e.tracker.Wait(ctx, id)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return op
}

// --- TaskExpandTool ---

func TestTaskExpand_AddsSubtasksInBackground(t *testing.T) {
	e := newEnv(t)
	e.addTask(t, "Checkout flow")
	gen := fakeGenerator{reply: `[{"title":"Cart model","description":"a"},{"title":"Payment step","description":"b"}]`}
	tool := NewTaskExpandTool(e.tasks, gen, e.tracker)

	text := call(t, tool, map[string]interface{}{"id": "1", "num": float64(2)})
	op := waitOp(t, e, operationID(t, text))
	if op.Status != operations.StatusCompleted || op.Progress != 100 {
		t.Fatalf("operation = %+v, want completed at 100", op)
	}

	text = call(t, NewTaskGetTool(e.tasks), map[string]interface{}{"id": "1.2"})
	if !strings.Contains(text, "Payment step") {
		t.Errorf("subtask 1.2 should be the second draft:\n%s", text)
	}

	text = call(t, NewOperationStatusTool(e.tracker), map[string]interface{}{"id": op.ID})
	for _, want := range []string{"completed", `"1.1"`, `"1.2"`, OpExpandTask} {
		if !strings.Contains(text, want) {
			t.Errorf("operation_status missing %q:\n%s", want, text)
		}
	}
}

func TestTaskExpand_GeneratorFailureFailsOperation(t *testing.T) {
	e := newEnv(t)
	e.addTask(t, "x")
	tool := NewTaskExpandTool(e.tasks, fakeGenerator{err: errors.New("quota exceeded")}, e.tracker)

	op := waitOp(t, e, operationID(t, call(t, tool, map[string]interface{}{"id": "1"})))
	if op.Status != operations.StatusFailed || op.Result == nil || !strings.Contains(op.Result.Error, "quota") {
		t.Errorf("operation = %+v, want failed with quota error", op)
	}
	text := call(t, NewTaskGetTool(e.tasks), map[string]interface{}{"id": "1"})
	if strings.Contains(text, "subtasks") {
		t.Errorf("failed expansion must not add subtasks:\n%s", text)
	}
}

func TestTaskExpand_ValidatesBeforeStarting(t *testing.T) {
	e := newEnv(t)
	e.addTask(t, "x")
	tool := NewTaskExpandTool(e.tasks, fakeGenerator{}, e.tracker)

	callErr(t, tool, map[string]interface{}{"id": "1.1"})
	callErr(t, tool, map[string]interface{}{"id": "1", "num": float64(0)})
	callErr(t, tool, map[string]interface{}{"id": "7"})
	if n := len(e.tracker.List()); n != 0 {
		t.Errorf("%d operations started for invalid requests", n)
	}
}

// --- Operation tools ---

func TestOperationTools_ListAndCancel(t *testing.T) {
	e := newEnv(t)
	release := make(chan struct{})
	id, err := e.tracker.Create(context.Background(), "slow", func(ctx context.Context, report operations.ProgressFunc) (any, error) {
		report(30, "working")
		<-release
		return nil, nil
	}, nil)
	if err != nil {
		t.Fatal(err)
	}

	text := call(t, NewOperationCancelTool(e.tracker), map[string]interface{}{"id": id})
	if !strings.Contains(text, "cannot be cancelled") {
		t.Errorf("cancel = %s", text)
	}
	callErr(t, NewOperationCancelTool(e.tracker), map[string]interface{}{"id": "nope"})
	callErr(t, NewOperationStatusTool(e.tracker), map[string]interface{}{"id": "nope"})

	close(release)
	waitOp(t, e, id)

	text = call(t, NewOperationListTool(e.tracker), map[string]interface{}{})
	if !strings.Contains(text, id) || !strings.Contains(text, "completed") {
		t.Errorf("list = %s", text)
	}
	text = call(t, NewOperationListTool(e.tracker), map[string]interface{}{"status": "failed"})
	if !strings.Contains(text, "No operations") {
		t.Errorf("filtered list = %s", text)
	}
}

// --- ActivityRecentTool ---

func TestActivityRecent(t *testing.T) {
	e := newEnv(t)
	tool := NewActivityRecentTool(e.journal)
	if text := call(t, tool, map[string]interface{}{}); !strings.Contains(text, "No recorded activity") {
		t.Errorf("empty activity = %s", text)
	}

	add := NewTaskAddTool(e.tasks)
	add.SetJournal(e.journal, nil)
	call(t, add, map[string]interface{}{"title": "first"})
	call(t, add, map[string]interface{}{"title": "second"})

	text := call(t, tool, map[string]interface{}{"limit": float64(1)})
	if !strings.Contains(text, "second") || strings.Contains(text, "first") {
		t.Errorf("limit 1 should show only the newest event:\n%s", text)
	}
	text = call(t, tool, map[string]interface{}{"kind": journal.KindExternalEdit})
	if !strings.Contains(text, "No recorded activity") {
		t.Errorf("kind filter = %s", text)
	}
}

func TestActivityRecent_DisabledJournal(t *testing.T) {
	text := call(t, NewActivityRecentTool(nil), map[string]interface{}{})
	if !strings.Contains(text, "No recorded activity") {
		t.Errorf("nil journal = %s", text)
	}
}
