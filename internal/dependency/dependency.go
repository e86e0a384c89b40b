// Package dependency keeps the task dependency graph acyclic and free of
// dangling references.
//
// An edge "A depends on B" is stored as B's full id in A's Dependencies.
// Every function works on an in-memory tasks.Collection; callers persist
// the result (normally inside tasks.FileStore.Mutate).
package dependency

import (
	"fmt"
	"slices"
	"strings"

	"github.com/HendryAvila/taskloom/internal/errs"
	"github.com/HendryAvila/taskloom/internal/tasks"
)

// Edge is one dependency: TaskID depends on DependsOn.
type Edge struct {
	TaskID    string `json:"taskId"`
	DependsOn string `json:"dependsOn"`
}

func (e Edge) String() string { return e.TaskID + " -> " + e.DependsOn }

// Cycle is a closed path of ids: the first id is repeated at the end.
// Each id depends on the next one.
type Cycle []string

func (c Cycle) String() string { return strings.Join(c, " -> ") }

// closingEdge is the edge from the last task of the path back to the start.
func (c Cycle) closingEdge() Edge {
	return Edge{TaskID: c[len(c)-2], DependsOn: c[len(c)-1]}
}

// Report is the outcome of a full-graph validation.
type Report struct {
	Valid    bool    `json:"valid"`
	Cycles   []Cycle `json:"cycles"`
	Dangling []Edge  `json:"dangling"`
}

// FixReport lists every edge FixAll removed.
type FixReport struct {
	DanglingRemoved []Edge `json:"danglingRemoved"`
	CycleEdgesCut   []Edge `json:"cycleEdgesCut"`
	Valid           bool   `json:"valid"`
}

// Changed reports whether FixAll modified the collection.
func (r FixReport) Changed() bool {
	return len(r.DanglingRemoved) > 0 || len(r.CycleEdgesCut) > 0
}

// AddDependency records that taskID depends on dependsOnID. Adding an
// existing edge is a no-op. The edge is rejected, and the collection left
// unchanged, if it would close a cycle or if the graph still contains a
// cycle once it is in place.
func AddDependency(c *tasks.Collection, taskID, dependsOnID string) error {
	taskID, dependsOnID, err := canonical("add dependency", taskID, dependsOnID)
	if err != nil {
		return err
	}
	task := c.Find(taskID)
	if task == nil {
		return errs.New(errs.NotFound, "add dependency", fmt.Sprintf("task %s not found", taskID)).WithID(taskID)
	}
	if !c.Has(dependsOnID) {
		return errs.New(errs.NotFound, "add dependency", fmt.Sprintf("dependency %s not found", dependsOnID)).WithID(dependsOnID)
	}
	if slices.Contains(task.Dependencies, dependsOnID) {
		return nil
	}
	if HasCircularDependency(c, taskID, dependsOnID) {
		return circular(taskID, dependsOnID, "")
	}

	task.Dependencies = append(task.Dependencies, dependsOnID)
	if report := ValidateAll(c); len(report.Cycles) > 0 {
		task.Dependencies = task.Dependencies[:len(task.Dependencies)-1]
		return circular(taskID, dependsOnID, report.Cycles[0].String())
	}
	return nil
}

// canonical parses both ids so aliases like "01" or " 1" compare equal
// to the stored form.
func canonical(op, taskID, dependsOnID string) (string, string, error) {
	a, err := tasks.ParseID(taskID)
	if err != nil {
		return "", "", errs.New(errs.InvalidArgument, op, err.Error()).WithID(taskID)
	}
	b, err := tasks.ParseID(dependsOnID)
	if err != nil {
		return "", "", errs.New(errs.InvalidArgument, op, err.Error()).WithID(dependsOnID)
	}
	return a.String(), b.String(), nil
}

func circular(taskID, dependsOnID, cycle string) error {
	msg := fmt.Sprintf("%s cannot depend on %s: it would create a circular dependency", taskID, dependsOnID)
	if cycle != "" {
		msg += " (" + cycle + ")"
	}
	return errs.New(errs.CircularDependency, "add dependency", msg).WithID(taskID)
}

// RemoveDependency deletes the edge if present and reports whether it did.
func RemoveDependency(c *tasks.Collection, taskID, dependsOnID string) (bool, error) {
	taskID, dependsOnID, err := canonical("remove dependency", taskID, dependsOnID)
	if err != nil {
		return false, err
	}
	task := c.Find(taskID)
	if task == nil {
		return false, errs.New(errs.NotFound, "remove dependency", fmt.Sprintf("task %s not found", taskID)).WithID(taskID)
	}
	idx := slices.Index(task.Dependencies, dependsOnID)
	if idx < 0 {
		return false, nil
	}
	task.Dependencies = slices.Delete(task.Dependencies, idx, idx+1)
	return true, nil
}

// HasCircularDependency reports whether making taskID depend on
// candidateID would close a cycle: true when the ids are equal or when
// candidateID already reaches taskID through its own dependencies.
func HasCircularDependency(c *tasks.Collection, taskID, candidateID string) bool {
	if a, err := tasks.ParseID(taskID); err == nil {
		taskID = a.String()
	}
	if b, err := tasks.ParseID(candidateID); err == nil {
		candidateID = b.String()
	}
	if taskID == candidateID {
		return true
	}
	visited := map[string]bool{candidateID: true}
	stack := []string{candidateID}
	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t := c.Find(id)
		if t == nil {
			continue
		}
		for _, dep := range t.Dependencies {
			if dep == taskID {
				return true
			}
			if !visited[dep] {
				visited[dep] = true
				stack = append(stack, dep)
			}
		}
	}
	return false
}

// ValidateAll sweeps the whole graph for cycles and dangling references.
// Both lists are in discovery order: nodes in document order, edges in
// stored order.
func ValidateAll(c *tasks.Collection) Report {
	nodes := c.Nodes()
	index := make(map[string]*tasks.Task, len(nodes))
	for _, n := range nodes {
		index[n.ID] = n.Task
	}

	report := Report{Cycles: []Cycle{}, Dangling: []Edge{}}
	for _, n := range nodes {
		for _, dep := range n.Task.Dependencies {
			if index[dep] == nil {
				report.Dangling = append(report.Dangling, Edge{TaskID: n.ID, DependsOn: dep})
			}
		}
	}
	report.Cycles = findCycles(nodes, index)
	report.Valid = len(report.Cycles) == 0 && len(report.Dangling) == 0
	return report
}

const (
	white = iota
	grey
	black
)

type frame struct {
	id   string
	next int
}

// findCycles runs an iterative depth-first search and reports one cycle
// per back edge it meets.
func findCycles(nodes []tasks.Node, index map[string]*tasks.Task) []Cycle {
	cycles := []Cycle{}
	color := make(map[string]int, len(nodes))

	for _, root := range nodes {
		if color[root.ID] != white {
			continue
		}
		color[root.ID] = grey
		path := []frame{{id: root.ID}}

		for len(path) > 0 {
			top := &path[len(path)-1]
			deps := index[top.id].Dependencies
			if top.next >= len(deps) {
				color[top.id] = black
				path = path[:len(path)-1]
				continue
			}
			dep := deps[top.next]
			top.next++
			if index[dep] == nil {
				continue
			}

			switch color[dep] {
			case white:
				color[dep] = grey
				path = append(path, frame{id: dep})
			case grey:
				cycles = append(cycles, closeCycle(path, dep))
			}
		}
	}
	return cycles
}

// closeCycle extracts the ids from start to the top of path and closes
// the loop back to start.
func closeCycle(path []frame, start string) Cycle {
	i := len(path) - 1
	for i > 0 && path[i].id != start {
		i--
	}
	cycle := make(Cycle, 0, len(path)-i+1)
	for _, f := range path[i:] {
		cycle = append(cycle, f.id)
	}
	return append(cycle, start)
}

// FixAll repairs the graph deterministically. Dangling references are
// stripped first; then, until no cycle remains, the closing edge of the
// first reported cycle is cut. The result is acyclic but not necessarily
// minimal.
func FixAll(c *tasks.Collection) FixReport {
	report := FixReport{DanglingRemoved: []Edge{}, CycleEdgesCut: []Edge{}}

	for _, e := range ValidateAll(c).Dangling {
		if removeEdge(c, e) {
			report.DanglingRemoved = append(report.DanglingRemoved, e)
		}
	}

	for {
		v := ValidateAll(c)
		if len(v.Cycles) == 0 {
			report.Valid = v.Valid
			return report
		}
		e := v.Cycles[0].closingEdge()
		if !removeEdge(c, e) {
			// Unreachable for a well-formed report; bail out rather than spin.
			report.Valid = false
			return report
		}
		report.CycleEdgesCut = append(report.CycleEdgesCut, e)
	}
}

func removeEdge(c *tasks.Collection, e Edge) bool {
	removed, err := RemoveDependency(c, e.TaskID, e.DependsOn)
	return err == nil && removed
}
