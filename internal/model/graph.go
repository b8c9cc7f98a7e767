package model

import "sort"

// Plan is the on-disk shape of a migration plan in the system of record.
type Plan struct {
	Name  string  `yaml:"name,omitempty"`
	Tasks []*Task `yaml:"tasks"`
}

// TaskGraph is one loaded snapshot of the plan: tasks in load order plus an
// index from ID to the first task carrying it. Duplicate IDs are preserved so
// validation can report them.
type TaskGraph struct {
	name  string
	tasks []*Task
	index map[string]int
}

// NewTaskGraph builds a graph snapshot. Nil tasks are dropped.
func NewTaskGraph(name string, tasks []*Task) *TaskGraph {
	g := &TaskGraph{
		name:  name,
		tasks: make([]*Task, 0, len(tasks)),
		index: make(map[string]int, len(tasks)),
	}
	for _, t := range tasks {
		if t == nil {
			continue
		}
		g.tasks = append(g.tasks, t)
		if _, dup := g.index[t.ID]; !dup {
			g.index[t.ID] = len(g.tasks) - 1
		}
	}
	return g
}

// FromPlan builds a graph snapshot from a decoded plan file.
func FromPlan(p *Plan) *TaskGraph {
	if p == nil {
		return NewTaskGraph("", nil)
	}
	return NewTaskGraph(p.Name, p.Tasks)
}

func (g *TaskGraph) Name() string { return g.name }

// Tasks returns all tasks in load order, including duplicates.
func (g *TaskGraph) Tasks() []*Task { return g.tasks }

func (g *TaskGraph) Len() int { return len(g.tasks) }

// Task returns the first task with the given ID.
func (g *TaskGraph) Task(id string) (*Task, bool) {
	i, ok := g.index[id]
	if !ok {
		return nil, false
	}
	return g.tasks[i], true
}

// Has reports whether a task with the given ID exists.
func (g *TaskGraph) Has(id string) bool {
	_, ok := g.index[id]
	return ok
}

// IDs returns the distinct task IDs in sorted order.
func (g *TaskGraph) IDs() []string {
	ids := make([]string, 0, len(g.index))
	for id := range g.index {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IsComplete reports whether the task with the given ID exists and is complete.
func (g *TaskGraph) IsComplete(id string) bool {
	t, ok := g.Task(id)
	return ok && t.IsComplete()
}

func (g *TaskGraph) CompletedCount() int {
	n := 0
	for _, t := range g.tasks {
		if t.IsComplete() {
			n++
		}
	}
	return n
}

// Incomplete returns every not-complete task in load order.
func (g *TaskGraph) Incomplete() []*Task {
	var out []*Task
	for _, t := range g.tasks {
		if !t.IsComplete() {
			out = append(out, t)
		}
	}
	return out
}

// Dependents returns the IDs of tasks that list id in depends_on, sorted.
func (g *TaskGraph) Dependents(id string) []string {
	var out []string
	for _, t := range g.tasks {
		for _, dep := range t.DependsOn {
			if dep == id {
				out = append(out, t.ID)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// MarkInFlight records locally that a task was dispatched in the current
// iteration. The marker lives only in this snapshot and is never persisted.
func (g *TaskGraph) MarkInFlight(id string) {
	if t, ok := g.Task(id); ok {
		t.inFlight = true
	}
}

func (g *TaskGraph) InFlight(id string) bool {
	t, ok := g.Task(id)
	return ok && t.inFlight
}

// InFlightIDs returns the IDs marked in-flight, sorted.
func (g *TaskGraph) InFlightIDs() []string {
	var out []string
	for id, i := range g.index {
		if g.tasks[i].inFlight {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy, so callers can mutate markers without touching
// the snapshot another component holds.
func (g *TaskGraph) Clone() *TaskGraph {
	tasks := make([]*Task, len(g.tasks))
	for i, t := range g.tasks {
		c := *t
		c.DependsOn = append([]string(nil), t.DependsOn...)
		c.Deliverables.Paths = append([]string(nil), t.Deliverables.Paths...)
		tasks[i] = &c
	}
	return NewTaskGraph(g.name, tasks)
}
