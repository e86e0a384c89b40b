package tasks

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/HendryAvila/taskloom/internal/errs"
)

// Node is one addressable entry of the dependency graph: a task or a
// subtask together with its full id.
type Node struct {
	ID   string
	Task *Task
}

// Nodes returns every task and subtask in document order: each task is
// followed by its subtasks. The pointers alias the collection.
func (c *Collection) Nodes() []Node {
	var nodes []Node
	for i := range c.Tasks {
		t := &c.Tasks[i]
		nodes = append(nodes, Node{ID: ID{Task: t.ID}.String(), Task: t})
		for j := range t.Subtasks {
			st := &t.Subtasks[j]
			nodes = append(nodes, Node{ID: SubtaskID(t.ID, st.ID), Task: st})
		}
	}
	return nodes
}

// IDs returns every full id in document order.
func (c *Collection) IDs() []string {
	nodes := c.Nodes()
	ids := make([]string, len(nodes))
	for i, n := range nodes {
		ids[i] = n.ID
	}
	return ids
}

// Find returns the task or subtask with the given full id, or nil.
func (c *Collection) Find(id string) *Task {
	pid, err := ParseID(id)
	if err != nil {
		return nil
	}
	parent := c.task(pid.Task)
	if parent == nil || !pid.IsSubtask() {
		return parent
	}
	if pid.Sub > len(parent.Subtasks) {
		return nil
	}
	return &parent.Subtasks[pid.Sub-1]
}

// Has reports whether id resolves to a task or subtask.
func (c *Collection) Has(id string) bool { return c.Find(id) != nil }

// Get is Find with a NotFound error.
func (c *Collection) Get(id string) (*Task, error) {
	if t := c.Find(id); t != nil {
		return t, nil
	}
	return nil, notFound("get", id)
}

func (c *Collection) task(id int) *Task {
	for i := range c.Tasks {
		if c.Tasks[i].ID == id {
			return &c.Tasks[i]
		}
	}
	return nil
}

// NextID returns the id the next added task will receive.
func (c *Collection) NextID() int {
	highest := 0
	for _, t := range c.Tasks {
		if t.ID > highest {
			highest = t.ID
		}
	}
	return highest + 1
}

// Touch refreshes the metadata counters and timestamp.
func (c *Collection) Touch() {
	c.Metadata.TaskCount = len(c.Tasks)
	c.Metadata.UpdatedAt = timeNow().UTC()
	if c.Metadata.CreatedAt.IsZero() {
		c.Metadata.CreatedAt = c.Metadata.UpdatedAt
	}
}

// --- Mutations ---

// AddTask appends t under the next free id and returns the stored copy.
// Status defaults to pending and priority to medium. Dependencies and
// subtasks are not copied; add them through the dependency engine and
// AddSubtask so every edge is checked.
func (c *Collection) AddTask(t Task) (Task, error) {
	if strings.TrimSpace(t.Title) == "" {
		return Task{}, errs.New(errs.InvalidArgument, "add task", "title is required")
	}
	if t.Status == "" {
		t.Status = StatusPending
	}
	if t.Priority == "" {
		t.Priority = PriorityMedium
	}
	if err := ValidateStatus(t.Status); err != nil {
		return Task{}, errs.New(errs.InvalidArgument, "add task", err.Error())
	}
	if err := ValidatePriority(t.Priority); err != nil {
		return Task{}, errs.New(errs.InvalidArgument, "add task", err.Error())
	}
	t.ID = c.NextID()
	t.Dependencies = []string{}
	t.Subtasks = nil
	c.Tasks = append(c.Tasks, t)
	return t, nil
}

// AddSubtask appends st to the parent's subtasks and returns its full id.
func (c *Collection) AddSubtask(parentID int, st Task) (string, error) {
	parent := c.task(parentID)
	if parent == nil {
		return "", notFound("add subtask", ID{Task: parentID}.String())
	}
	if strings.TrimSpace(st.Title) == "" {
		return "", errs.New(errs.InvalidArgument, "add subtask", "title is required")
	}
	if st.Status == "" {
		st.Status = StatusPending
	}
	if err := ValidateStatus(st.Status); err != nil {
		return "", errs.New(errs.InvalidArgument, "add subtask", err.Error())
	}
	if st.Priority != "" {
		if err := ValidatePriority(st.Priority); err != nil {
			return "", errs.New(errs.InvalidArgument, "add subtask", err.Error())
		}
	}
	st.ID = len(parent.Subtasks) + 1
	st.Dependencies = []string{}
	st.Subtasks = nil
	parent.Subtasks = append(parent.Subtasks, st)
	return SubtaskID(parentID, st.ID), nil
}

// SetStatus changes the status of a task or subtask and returns the full
// ids that changed. Marking a task done also marks its unfinished
// subtasks done; cancelled subtasks are left alone.
func (c *Collection) SetStatus(id string, status Status) ([]string, error) {
	if err := ValidateStatus(status); err != nil {
		return nil, errs.New(errs.InvalidArgument, "set status", err.Error()).WithID(id)
	}
	t := c.Find(id)
	if t == nil {
		return nil, notFound("set status", id)
	}

	var changed []string
	if t.Status != status {
		t.Status = status
		changed = append(changed, id)
	}
	pid, _ := ParseID(id)
	if status == StatusDone && !pid.IsSubtask() {
		for i := range t.Subtasks {
			st := &t.Subtasks[i]
			if st.Status != StatusDone && st.Status != StatusCancelled {
				st.Status = StatusDone
				changed = append(changed, SubtaskID(t.ID, st.ID))
			}
		}
	}
	return changed, nil
}

// Rewrite records one dependency edge changed as a side effect of a
// removal. An empty To means the edge was dropped.
type Rewrite struct {
	TaskID string `json:"taskId"`
	From   string `json:"from"`
	To     string `json:"to,omitempty"`
}

func (r Rewrite) String() string {
	if r.To == "" {
		return fmt.Sprintf("%s: dropped dependency on %s", r.TaskID, r.From)
	}
	return fmt.Sprintf("%s: dependency %s -> %s", r.TaskID, r.From, r.To)
}

// Renumbering maps an old subtask id to its new id.
type Renumbering struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RemoveResult reports everything a subtask removal changed.
type RemoveResult struct {
	Removed    string        `json:"removed"`
	Renumbered []Renumbering `json:"renumbered,omitempty"`
	Rewrites   []Rewrite     `json:"rewrites,omitempty"`
}

// RemoveSubtask deletes a subtask and renumbers its later siblings so
// indices stay contiguous from 1. Edges that pointed at the removed
// subtask are dropped and edges that pointed at a renumbered sibling
// follow it to its new id, so no edge silently changes target.
func (c *Collection) RemoveSubtask(id string) (RemoveResult, error) {
	pid, err := ParseID(id)
	if err != nil || !pid.IsSubtask() {
		return RemoveResult{}, errs.New(errs.InvalidArgument, "remove subtask",
			fmt.Sprintf("%q is not a subtask id", id)).WithID(id)
	}
	parent := c.task(pid.Task)
	if parent == nil || pid.Sub > len(parent.Subtasks) {
		return RemoveResult{}, notFound("remove subtask", id)
	}

	removed := pid.String()
	parent.Subtasks = slices.Delete(parent.Subtasks, pid.Sub-1, pid.Sub)

	result := RemoveResult{Removed: removed}
	moved := make(map[string]string)
	for i := pid.Sub - 1; i < len(parent.Subtasks); i++ {
		from := SubtaskID(parent.ID, parent.Subtasks[i].ID)
		parent.Subtasks[i].ID = i + 1
		to := SubtaskID(parent.ID, i+1)
		moved[from] = to
		result.Renumbered = append(result.Renumbered, Renumbering{From: from, To: to})
	}

	result.Rewrites = c.rewriteEdges(map[string]bool{removed: true}, moved)
	return result, nil
}

// RemoveTask deletes a task with its subtasks and drops every edge that
// pointed at any of them.
func (c *Collection) RemoveTask(id int) ([]Rewrite, error) {
	idx := slices.IndexFunc(c.Tasks, func(t Task) bool { return t.ID == id })
	if idx < 0 {
		return nil, notFound("remove task", ID{Task: id}.String())
	}

	gone := map[string]bool{ID{Task: id}.String(): true}
	for _, st := range c.Tasks[idx].Subtasks {
		gone[SubtaskID(id, st.ID)] = true
	}
	c.Tasks = slices.Delete(c.Tasks, idx, idx+1)
	return c.rewriteEdges(gone, nil), nil
}

func (c *Collection) rewriteEdges(dropped map[string]bool, moved map[string]string) []Rewrite {
	var rewrites []Rewrite
	for _, n := range c.Nodes() {
		deps := n.Task.Dependencies[:0]
		for _, dep := range n.Task.Dependencies {
			switch {
			case dropped[dep]:
				rewrites = append(rewrites, Rewrite{TaskID: n.ID, From: dep})
			case moved[dep] != "":
				rewrites = append(rewrites, Rewrite{TaskID: n.ID, From: dep, To: moved[dep]})
				deps = append(deps, moved[dep])
			default:
				deps = append(deps, dep)
			}
		}
		n.Task.Dependencies = deps
	}
	return rewrites
}

// --- Queries ---

// NextTask returns the task to work on next: a pending or in-progress
// top-level task whose dependencies are all done, highest priority first,
// then lowest id. It returns nil when nothing is ready.
func (c *Collection) NextTask() *Task {
	var ready []*Task
	for i := range c.Tasks {
		t := &c.Tasks[i]
		if t.Status != StatusPending && t.Status != StatusInProgress {
			continue
		}
		if c.depsDone(t) {
			ready = append(ready, t)
		}
	}
	if len(ready) == 0 {
		return nil
	}
	sort.SliceStable(ready, func(i, j int) bool {
		ri, rj := priorityRank[ready[i].Priority], priorityRank[ready[j].Priority]
		if ri != rj {
			return ri < rj
		}
		return ready[i].ID < ready[j].ID
	})
	next := *ready[0]
	return &next
}

func (c *Collection) depsDone(t *Task) bool {
	for _, dep := range t.Dependencies {
		d := c.Find(dep)
		if d == nil || d.Status != StatusDone {
			return false
		}
	}
	return true
}

// CountByStatus tallies top-level tasks by status.
func (c *Collection) CountByStatus() map[Status]int {
	counts := make(map[Status]int, len(validStatuses))
	for _, t := range c.Tasks {
		counts[t.Status]++
	}
	return counts
}

func notFound(op, id string) error {
	return errs.New(errs.NotFound, op, fmt.Sprintf("task %s not found", id)).WithID(id)
}
