// Package tasks models a project's task list and persists it as a single
// JSON document.
//
// Tasks are numbered from 1. A task's subtasks are numbered from 1 within
// the parent and are addressed by the composite id "<parent>.<index>".
// Dependencies always hold full ids ("7" or "7.2"), so one list of edges
// covers tasks and subtasks alike. Checking those edges for cycles and
// dangling references is the dependency package's job; a collection with
// broken edges still loads so it can be repaired.
package tasks

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// --- Status enum ---

// Status is a task's lifecycle state.
type Status string

const (
	StatusPending    Status = "pending"
	StatusInProgress Status = "in-progress"
	StatusDone       Status = "done"
	StatusDeferred   Status = "deferred"
	StatusCancelled  Status = "cancelled"
)

// validStatuses is the set of allowed task statuses.
var validStatuses = map[Status]bool{
	StatusPending:    true,
	StatusInProgress: true,
	StatusDone:       true,
	StatusDeferred:   true,
	StatusCancelled:  true,
}

// ValidateStatus returns an error if the status is not recognized.
func ValidateStatus(s Status) error {
	if !validStatuses[s] {
		return fmt.Errorf("invalid status %q: must be one of: pending, in-progress, done, deferred, cancelled", s)
	}
	return nil
}

// --- Priority enum ---

// Priority orders otherwise-ready tasks.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// priorityRank maps priorities to sort order; lower ranks first.
var priorityRank = map[Priority]int{
	PriorityHigh:   0,
	PriorityMedium: 1,
	PriorityLow:    2,
}

// ValidatePriority returns an error if the priority is not recognized.
func ValidatePriority(p Priority) error {
	if _, ok := priorityRank[p]; !ok {
		return fmt.Errorf("invalid priority %q: must be one of: high, medium, low", p)
	}
	return nil
}

// --- Core data structures ---

// Task is a unit of work. Subtasks reuse the type but never carry
// subtasks of their own; their ID is the index within the parent.
type Task struct {
	ID           int      `json:"id"`
	Title        string   `json:"title"`
	Description  string   `json:"description"`
	Details      string   `json:"details,omitempty"`
	TestStrategy string   `json:"testStrategy,omitempty"`
	Status       Status   `json:"status"`
	Priority     Priority `json:"priority,omitempty"`
	Dependencies []string `json:"dependencies"`
	Subtasks     []Task   `json:"subtasks,omitempty"`
}

// timeNow stamps metadata; tests replace it.
var timeNow = time.Now

// Metadata describes the collection as a whole.
type Metadata struct {
	ProjectName string    `json:"projectName"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
	TaskCount   int       `json:"taskCount"`
}

// Collection is the root of tasks.json.
type Collection struct {
	Tasks    []Task   `json:"tasks"`
	Metadata Metadata `json:"metadata"`
}

// NewCollection returns an empty collection stamped with the current time.
func NewCollection(projectName string) *Collection {
	now := timeNow().UTC()
	return &Collection{
		Tasks: []Task{},
		Metadata: Metadata{
			ProjectName: projectName,
			CreatedAt:   now,
			UpdatedAt:   now,
		},
	}
}

// Validate checks the collection's shape: enums, unique positive task ids,
// contiguous subtask numbering and no nested subtasks. Dependency edges
// are not checked here.
func (c *Collection) Validate() error {
	var problems []error
	seen := make(map[int]bool, len(c.Tasks))
	for i, t := range c.Tasks {
		where := fmt.Sprintf("tasks[%d]", i)
		if t.ID <= 0 {
			problems = append(problems, fmt.Errorf("%s: id must be positive, got %d", where, t.ID))
		} else if seen[t.ID] {
			problems = append(problems, fmt.Errorf("%s: duplicate id %d", where, t.ID))
		}
		seen[t.ID] = true

		problems = append(problems, validateTask(where, t)...)
		if err := ValidatePriority(t.Priority); err != nil {
			problems = append(problems, fmt.Errorf("%s: %w", where, err))
		}

		for j, st := range t.Subtasks {
			subWhere := fmt.Sprintf("%s.subtasks[%d]", where, j)
			if st.ID != j+1 {
				problems = append(problems, fmt.Errorf("%s: id must be %d, got %d", subWhere, j+1, st.ID))
			}
			if len(st.Subtasks) > 0 {
				problems = append(problems, fmt.Errorf("%s: subtasks cannot have subtasks", subWhere))
			}
			if st.Priority != "" {
				if err := ValidatePriority(st.Priority); err != nil {
					problems = append(problems, fmt.Errorf("%s: %w", subWhere, err))
				}
			}
			problems = append(problems, validateTask(subWhere, st)...)
		}
	}
	return errors.Join(problems...)
}

func validateTask(where string, t Task) []error {
	var problems []error
	if strings.TrimSpace(t.Title) == "" {
		problems = append(problems, fmt.Errorf("%s: title is required", where))
	}
	if err := ValidateStatus(t.Status); err != nil {
		problems = append(problems, fmt.Errorf("%s: %w", where, err))
	}
	return problems
}

// --- IDs ---

// ID is a parsed task or subtask id. Sub is zero for top-level tasks.
type ID struct {
	Task int
	Sub  int
}

// IsSubtask reports whether the id addresses a subtask.
func (id ID) IsSubtask() bool { return id.Sub > 0 }

func (id ID) String() string {
	if id.Sub > 0 {
		return fmt.Sprintf("%d.%d", id.Task, id.Sub)
	}
	return strconv.Itoa(id.Task)
}

// ParseID parses "7" or "7.2".
func ParseID(s string) (ID, error) {
	s = strings.TrimSpace(s)
	parent, sub, isSub := strings.Cut(s, ".")
	p, err := strconv.Atoi(parent)
	if err != nil || p <= 0 {
		return ID{}, fmt.Errorf("invalid task id %q", s)
	}
	if !isSub {
		return ID{Task: p}, nil
	}
	n, err := strconv.Atoi(sub)
	if err != nil || n <= 0 {
		return ID{}, fmt.Errorf("invalid subtask id %q", s)
	}
	return ID{Task: p, Sub: n}, nil
}

// SubtaskID renders the composite id of a subtask.
func SubtaskID(parent, index int) string {
	return ID{Task: parent, Sub: index}.String()
}
