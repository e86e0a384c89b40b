package tasks

import (
	"strings"
	"testing"
)

func TestValidateStatus(t *testing.T) {
	tests := []struct {
		name    string
		input   Status
		wantErr bool
	}{
		{"pending is valid", StatusPending, false},
		{"in-progress is valid", StatusInProgress, false},
		{"done is valid", StatusDone, false},
		{"deferred is valid", StatusDeferred, false},
		{"cancelled is valid", StatusCancelled, false},
		{"empty is invalid", Status(""), true},
		{"underscore spelling is invalid", Status("in_progress"), true},
		{"case sensitive", Status("Done"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateStatus(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateStatus(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePriority(t *testing.T) {
	tests := []struct {
		name    string
		input   Priority
		wantErr bool
	}{
		{"high is valid", PriorityHigh, false},
		{"medium is valid", PriorityMedium, false},
		{"low is valid", PriorityLow, false},
		{"empty is invalid", Priority(""), true},
		{"unknown is invalid", Priority("urgent"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePriority(tt.input)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePriority(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		input   string
		want    ID
		wantErr bool
	}{
		{"7", ID{Task: 7}, false},
		{"7.2", ID{Task: 7, Sub: 2}, false},
		{" 12 ", ID{Task: 12}, false},
		{"0", ID{}, true},
		{"-1", ID{}, true},
		{"7.0", ID{}, true},
		{"7.", ID{}, true},
		{".2", ID{}, true},
		{"7.2.1", ID{}, true},
		{"abc", ID{}, true},
		{"", ID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID(%q) error = %v, wantErr = %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseID(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestID_String(t *testing.T) {
	if got := (ID{Task: 3}).String(); got != "3" {
		t.Errorf("task id = %q", got)
	}
	if got := SubtaskID(3, 4); got != "3.4" {
		t.Errorf("subtask id = %q", got)
	}
}

func validCollection() *Collection {
	return &Collection{
		Tasks: []Task{
			{ID: 1, Title: "Setup", Status: StatusDone, Priority: PriorityHigh, Dependencies: []string{}},
			{ID: 2, Title: "Build", Status: StatusPending, Priority: PriorityMedium, Dependencies: []string{"1"},
				Subtasks: []Task{
					{ID: 1, Title: "Parser", Status: StatusPending, Dependencies: []string{}},
					{ID: 2, Title: "Printer", Status: StatusPending, Dependencies: []string{"2.1"}},
				}},
		},
	}
}

func TestCollection_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Collection)
		wantErr string
	}{
		{"valid", func(*Collection) {}, ""},
		{"dangling edges are not a shape error", func(c *Collection) {
			c.Tasks[0].Dependencies = []string{"99"}
		}, ""},
		{"duplicate task id", func(c *Collection) { c.Tasks[1].ID = 1 }, "duplicate id 1"},
		{"non-positive id", func(c *Collection) { c.Tasks[0].ID = 0 }, "id must be positive"},
		{"missing title", func(c *Collection) { c.Tasks[0].Title = " " }, "title is required"},
		{"bad status", func(c *Collection) { c.Tasks[0].Status = "open" }, "invalid status"},
		{"bad priority", func(c *Collection) { c.Tasks[0].Priority = "" }, "invalid priority"},
		{"gap in subtask ids", func(c *Collection) { c.Tasks[1].Subtasks[1].ID = 3 }, "id must be 2"},
		{"nested subtasks", func(c *Collection) {
			c.Tasks[1].Subtasks[0].Subtasks = []Task{{ID: 1, Title: "x", Status: StatusPending}}
		}, "cannot have subtasks"},
		{"bad subtask status", func(c *Collection) { c.Tasks[1].Subtasks[0].Status = "" }, "subtasks[0]: invalid status"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validCollection()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}
