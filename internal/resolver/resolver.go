// Package resolver derives the ready set and the blocking conditions of a
// task graph snapshot.
package resolver

import (
	"sort"

	"github.com/msageha/migrun/internal/model"
)

// Blocker describes an incomplete task and the incomplete dependencies it is
// waiting on.
type Blocker struct {
	TaskID    string   `yaml:"task_id"`
	WaitingOn []string `yaml:"waiting_on"`
}

// FindReady returns every not-complete task, not marked in-flight, whose whole
// depends_on set resolves to complete tasks. Unknown dependencies never
// resolve. The result is sorted by ID.
func FindReady(g *model.TaskGraph) []*model.Task {
	if g == nil {
		return nil
	}
	var ready []*model.Task
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		if t.IsComplete() || g.InFlight(id) {
			continue
		}
		if len(waitingOn(g, t)) == 0 {
			ready = append(ready, t)
		}
	}
	return ready
}

// ReadyIDs is FindReady reduced to task IDs.
func ReadyIDs(g *model.TaskGraph) []string {
	ready := FindReady(g)
	ids := make([]string, len(ready))
	for i, t := range ready {
		ids[i] = t.ID
	}
	return ids
}

// Blockers lists, for every incomplete task that is not ready, the
// dependencies it is still waiting on. Sorted by task ID.
func Blockers(g *model.TaskGraph) []Blocker {
	if g == nil {
		return nil
	}
	var out []Blocker
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		if t.IsComplete() {
			continue
		}
		if deps := waitingOn(g, t); len(deps) > 0 {
			out = append(out, Blocker{TaskID: id, WaitingOn: deps})
		}
	}
	return out
}

// TransitiveDependents returns every task that depends on id directly or
// through a chain of dependencies, sorted.
func TransitiveDependents(g *model.TaskGraph, id string) []string {
	if g == nil {
		return nil
	}
	dependents := make(map[string][]string)
	for _, t := range g.Tasks() {
		for _, dep := range t.Dependencies() {
			if dep != t.ID {
				dependents[dep] = append(dependents[dep], t.ID)
			}
		}
	}

	visited := map[string]bool{id: true}
	queue := []string{id}
	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dependent := range dependents[current] {
			if visited[dependent] {
				continue
			}
			visited[dependent] = true
			result = append(result, dependent)
			queue = append(queue, dependent)
		}
	}
	sort.Strings(result)
	return result
}

func waitingOn(g *model.TaskGraph, t *model.Task) []string {
	var deps []string
	for _, dep := range t.Dependencies() {
		if !g.IsComplete(dep) {
			deps = append(deps, dep)
		}
	}
	return deps
}
