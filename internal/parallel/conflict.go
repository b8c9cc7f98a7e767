package parallel

import (
	"fmt"

	"github.com/msageha/migrun/internal/model"
)

// Reason says why two ready tasks cannot share a batch.
type Reason string

const (
	ReasonDependency Reason = "dependency"
	ReasonSharedFile Reason = "shared deliverable"
	ReasonUndeclared Reason = "undeclared deliverables"
	ReasonCapReached Reason = "cap reached"
)

// Conflict is one "unsafe to pair" edge of the conflict graph.
type Conflict struct {
	Reason Reason
	With   string // the other task
	Path   string // set for ReasonSharedFile
}

func (c Conflict) String() string {
	switch c.Reason {
	case ReasonSharedFile:
		return fmt.Sprintf("%s %s (with %s)", c.Reason, c.Path, c.With)
	case ReasonCapReached:
		return string(c.Reason)
	default:
		return fmt.Sprintf("%s (with %s)", c.Reason, c.With)
	}
}

// ancestors returns every task id reaches through depends_on, memoized.
// Unknown IDs and cycles terminate the walk.
func (d *Detector) ancestors(id string) map[string]bool {
	if a, ok := d.reach[id]; ok {
		return a
	}
	out := make(map[string]bool)
	stack := []string{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		t, ok := d.graph.Task(cur)
		if !ok {
			continue
		}
		for _, dep := range t.Dependencies() {
			if dep == id || out[dep] {
				continue
			}
			out[dep] = true
			stack = append(stack, dep)
		}
	}
	d.reach[id] = out
	return out
}

// conflict reports whether a and b are unsafe to pair. Dependency conflicts
// win over file conflicts; a task with undeclared deliverables conflicts
// with every other task.
func (d *Detector) conflict(a, b *model.Task) (Conflict, bool) {
	if d.ancestors(a.ID)[b.ID] || d.ancestors(b.ID)[a.ID] {
		return Conflict{Reason: ReasonDependency, With: b.ID}, true
	}
	if !a.Deliverables.Declared || !b.Deliverables.Declared {
		return Conflict{Reason: ReasonUndeclared, With: b.ID}, true
	}
	if path, ok := firstShared(a.Deliverables.Normalized(), b.Deliverables.Normalized()); ok {
		return Conflict{Reason: ReasonSharedFile, With: b.ID, Path: path}, true
	}
	return Conflict{}, false
}

// firstShared returns the smallest path present in both sorted sets.
func firstShared(a, b []string) (string, bool) {
	i, j := 0, 0
	for i < len(a) && j < len(b) {
		switch {
		case a[i] == b[j]:
			return a[i], true
		case a[i] < b[j]:
			i++
		default:
			j++
		}
	}
	return "", false
}
