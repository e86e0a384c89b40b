package tasks

import (
	"errors"
	"testing"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

// --- Lookup ---

func TestNodesAndIDs_DocumentOrder(t *testing.T) {
	c := validCollection()
	want := []string{"1", "2", "2.1", "2.2"}
	if diff := cmp.Diff(want, c.IDs()); diff != "" {
		t.Errorf("IDs mismatch (-want +got):\n%s", diff)
	}
}

func TestFind(t *testing.T) {
	c := validCollection()
	tests := []struct {
		id    string
		title string
	}{
		{"1", "Setup"},
		{"2", "Build"},
		{"2.1", "Parser"},
		{"2.2", "Printer"},
		{"2.3", ""},
		{"3", ""},
		{"1.1", ""},
		{"x", ""},
	}
	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			got := c.Find(tt.id)
			if tt.title == "" {
				if got != nil {
					t.Errorf("Find(%q) = %+v, want nil", tt.id, got)
				}
				return
			}
			if got == nil || got.Title != tt.title {
				t.Errorf("Find(%q) = %+v, want %q", tt.id, got, tt.title)
			}
		})
	}
}

func TestFind_ReturnsAlias(t *testing.T) {
	c := validCollection()
	c.Find("2.1").Title = "Lexer"
	if c.Tasks[1].Subtasks[0].Title != "Lexer" {
		t.Error("Find should return a pointer into the collection")
	}
}

func TestGet_NotFound(t *testing.T) {
	_, err := validCollection().Get("42")
	if !errors.Is(err, errs.NotFound) || errs.IDOf(err) != "42" {
		t.Fatalf("Get error = %v, want NotFound for 42", err)
	}
}

// --- AddTask / AddSubtask ---

func TestAddTask_AssignsNextIDAndDefaults(t *testing.T) {
	c := validCollection()
	got, err := c.AddTask(Task{Title: "Ship", Dependencies: []string{"1"}})
	if err != nil {
		t.Fatalf("AddTask: %v", err)
	}
	if got.ID != 3 || got.Status != StatusPending || got.Priority != PriorityMedium {
		t.Errorf("AddTask = %+v", got)
	}
	if len(got.Dependencies) != 0 {
		t.Errorf("dependencies must be added through the dependency engine, got %v", got.Dependencies)
	}
	if len(c.Tasks) != 3 {
		t.Errorf("task count = %d, want 3", len(c.Tasks))
	}
}

func TestAddTask_IDsAreNotReused(t *testing.T) {
	c := validCollection()
	if _, err := c.RemoveTask(1); err != nil {
		t.Fatal(err)
	}
	got, err := c.AddTask(Task{Title: "Again"})
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != 3 {
		t.Errorf("id = %d, want 3", got.ID)
	}
}

func TestAddTask_Rejects(t *testing.T) {
	c := validCollection()
	for _, in := range []Task{{Title: ""}, {Title: "x", Status: "open"}, {Title: "x", Priority: "p0"}} {
		if _, err := c.AddTask(in); !errors.Is(err, errs.InvalidArgument) {
			t.Errorf("AddTask(%+v) error = %v, want InvalidArgument", in, err)
		}
	}
}

func TestAddSubtask(t *testing.T) {
	c := validCollection()
	id, err := c.AddSubtask(2, Task{Title: "Formatter"})
	if err != nil {
		t.Fatalf("AddSubtask: %v", err)
	}
	if id != "2.3" {
		t.Errorf("id = %s, want 2.3", id)
	}
	if st := c.Find("2.3"); st == nil || st.Status != StatusPending {
		t.Errorf("Find(2.3) = %+v", st)
	}

	if _, err := c.AddSubtask(9, Task{Title: "x"}); !errors.Is(err, errs.NotFound) {
		t.Errorf("unknown parent error = %v, want NotFound", err)
	}
}

// --- SetStatus ---

func TestSetStatus_DoneCascadesToSubtasks(t *testing.T) {
	c := validCollection()
	c.Tasks[1].Subtasks[1].Status = StatusCancelled

	changed, err := c.SetStatus("2", StatusDone)
	if err != nil {
		t.Fatalf("SetStatus: %v", err)
	}
	if diff := cmp.Diff([]string{"2", "2.1"}, changed); diff != "" {
		t.Errorf("changed mismatch (-want +got):\n%s", diff)
	}
	if c.Find("2.2").Status != StatusCancelled {
		t.Error("cancelled subtask should not be marked done")
	}
}

func TestSetStatus_Subtask(t *testing.T) {
	c := validCollection()
	changed, err := c.SetStatus("2.2", StatusInProgress)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"2.2"}, changed); diff != "" {
		t.Errorf("changed mismatch:\n%s", diff)
	}
	if c.Find("2").Status != StatusPending {
		t.Error("parent status should not change")
	}
}

func TestSetStatus_Errors(t *testing.T) {
	c := validCollection()
	if _, err := c.SetStatus("1", "open"); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("bad status error = %v", err)
	}
	if _, err := c.SetStatus("5", StatusDone); !errors.Is(err, errs.NotFound) {
		t.Errorf("unknown id error = %v", err)
	}
}

// --- Removal ---

func subtaskCollection() *Collection {
	return &Collection{
		Tasks: []Task{
			{ID: 1, Title: "Parent", Status: StatusPending, Priority: PriorityHigh, Dependencies: []string{},
				Subtasks: []Task{
					{ID: 1, Title: "A", Status: StatusPending, Dependencies: []string{}},
					{ID: 2, Title: "B", Status: StatusPending, Dependencies: []string{"1.1"}},
					{ID: 3, Title: "C", Status: StatusPending, Dependencies: []string{"1.2"}},
					{ID: 4, Title: "D", Status: StatusPending, Dependencies: []string{"1.3", "1.1"}},
				}},
			{ID: 2, Title: "Other", Status: StatusPending, Priority: PriorityLow, Dependencies: []string{"1.4", "1.2", "1"}},
		},
	}
}

func TestRemoveSubtask_RenumbersAndRewrites(t *testing.T) {
	c := subtaskCollection()

	res, err := c.RemoveSubtask("1.2")
	if err != nil {
		t.Fatalf("RemoveSubtask: %v", err)
	}

	wantRes := RemoveResult{
		Removed: "1.2",
		Renumbered: []Renumbering{
			{From: "1.3", To: "1.2"},
			{From: "1.4", To: "1.3"},
		},
		Rewrites: []Rewrite{
			{TaskID: "1.2", From: "1.2"},
			{TaskID: "1.3", From: "1.3", To: "1.2"},
			{TaskID: "2", From: "1.4", To: "1.3"},
			{TaskID: "2", From: "1.2"},
		},
	}
	if diff := cmp.Diff(wantRes, res); diff != "" {
		t.Errorf("result mismatch (-want +got):\n%s", diff)
	}

	titles := []string{}
	for _, st := range c.Tasks[0].Subtasks {
		titles = append(titles, st.Title)
	}
	if diff := cmp.Diff([]string{"A", "C", "D"}, titles); diff != "" {
		t.Errorf("subtasks mismatch:\n%s", diff)
	}

	// C used to depend on the removed B; D depended on C (old 1.3) and A.
	wantDeps := map[string][]string{
		"1.1": {},
		"1.2": {},
		"1.3": {"1.2", "1.1"},
		"2":   {"1.3", "1"},
	}
	for id, want := range wantDeps {
		if diff := cmp.Diff(want, c.Find(id).Dependencies, cmpopts.EquateEmpty()); diff != "" {
			t.Errorf("deps of %s mismatch (-want +got):\n%s", id, diff)
		}
	}
	if err := c.Validate(); err != nil {
		t.Errorf("collection invalid after removal: %v", err)
	}
}

func TestRemoveSubtask_Last(t *testing.T) {
	c := subtaskCollection()
	res, err := c.RemoveSubtask("1.4")
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Renumbered) != 0 {
		t.Errorf("removing the last subtask renumbered %v", res.Renumbered)
	}
	if diff := cmp.Diff([]Rewrite{{TaskID: "2", From: "1.4"}}, res.Rewrites); diff != "" {
		t.Errorf("rewrites mismatch:\n%s", diff)
	}
}

func TestRemoveSubtask_Errors(t *testing.T) {
	c := subtaskCollection()
	if _, err := c.RemoveSubtask("1"); !errors.Is(err, errs.InvalidArgument) {
		t.Errorf("task id error = %v, want InvalidArgument", err)
	}
	if _, err := c.RemoveSubtask("1.9"); !errors.Is(err, errs.NotFound) {
		t.Errorf("missing subtask error = %v, want NotFound", err)
	}
	if _, err := c.RemoveSubtask("7.1"); !errors.Is(err, errs.NotFound) {
		t.Errorf("missing parent error = %v, want NotFound", err)
	}
}

func TestRemoveTask_StripsEdgesToTaskAndSubtasks(t *testing.T) {
	c := subtaskCollection()
	c.Tasks = append(c.Tasks, Task{ID: 3, Title: "Third", Status: StatusPending, Priority: PriorityLow,
		Dependencies: []string{"2", "1.1"}})

	rewrites, err := c.RemoveTask(1)
	if err != nil {
		t.Fatalf("RemoveTask: %v", err)
	}
	want := []Rewrite{
		{TaskID: "2", From: "1.4"},
		{TaskID: "2", From: "1.2"},
		{TaskID: "2", From: "1"},
		{TaskID: "3", From: "1.1"},
	}
	if diff := cmp.Diff(want, rewrites); diff != "" {
		t.Errorf("rewrites mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"2"}, c.Find("3").Dependencies); diff != "" {
		t.Errorf("deps of 3 mismatch:\n%s", diff)
	}
	if _, err := c.RemoveTask(1); !errors.Is(err, errs.NotFound) {
		t.Errorf("second RemoveTask error = %v, want NotFound", err)
	}
}

// --- NextTask ---

func TestNextTask(t *testing.T) {
	c := &Collection{Tasks: []Task{
		{ID: 1, Title: "done", Status: StatusDone, Priority: PriorityLow},
		{ID: 2, Title: "blocked", Status: StatusPending, Priority: PriorityHigh, Dependencies: []string{"3"}},
		{ID: 3, Title: "low ready", Status: StatusPending, Priority: PriorityLow, Dependencies: []string{"1"}},
		{ID: 4, Title: "medium ready", Status: StatusInProgress, Priority: PriorityMedium},
		{ID: 5, Title: "medium later", Status: StatusPending, Priority: PriorityMedium},
		{ID: 6, Title: "deferred", Status: StatusDeferred, Priority: PriorityHigh},
		{ID: 7, Title: "dangling", Status: StatusPending, Priority: PriorityHigh, Dependencies: []string{"99"}},
	}}

	next := c.NextTask()
	if next == nil || next.ID != 4 {
		t.Fatalf("NextTask = %+v, want task 4", next)
	}

	next.Title = "mutated"
	if c.Find("4").Title != "medium ready" {
		t.Error("NextTask should return a copy")
	}

	c.Tasks[3].Status = StatusDone
	c.Tasks[4].Status = StatusDone
	c.Tasks[2].Status = StatusDone
	if next := c.NextTask(); next == nil || next.ID != 2 {
		t.Errorf("NextTask after progress = %+v, want task 2", next)
	}
}

func TestNextTask_NothingReady(t *testing.T) {
	c := &Collection{Tasks: []Task{{ID: 1, Title: "x", Status: StatusDone, Priority: PriorityLow}}}
	if next := c.NextTask(); next != nil {
		t.Errorf("NextTask = %+v, want nil", next)
	}
}

func TestCountByStatus(t *testing.T) {
	counts := validCollection().CountByStatus()
	if counts[StatusDone] != 1 || counts[StatusPending] != 1 {
		t.Errorf("counts = %v", counts)
	}
}
