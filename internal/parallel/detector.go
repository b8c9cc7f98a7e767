// Package parallel selects which ready tasks can run concurrently and reports
// the parallelization profile of a task graph.
package parallel

import (
	"sort"

	"github.com/msageha/migrun/internal/logging"
	"github.com/msageha/migrun/internal/model"
)

// DefaultSearchBudget bounds the number of search nodes SelectBatch visits
// before it falls back to the greedy selection.
const DefaultSearchBudget = 200000

const epsilon = 1e-9

// Detector answers parallel-safety questions against one graph snapshot.
// It is not safe for concurrent use.
type Detector struct {
	graph  *model.TaskGraph
	budget int
	logger *logging.Logger
	reach  map[string]map[string]bool
}

func NewDetector(g *model.TaskGraph) *Detector {
	if g == nil {
		g = model.NewTaskGraph("", nil)
	}
	return &Detector{
		graph:  g,
		budget: DefaultSearchBudget,
		logger: logging.Discard(),
		reach:  make(map[string]map[string]bool),
	}
}

// WithSearchBudget sets the node budget of the exact search. n <= 0 keeps the default.
func (d *Detector) WithSearchBudget(n int) *Detector {
	if n > 0 {
		d.budget = n
	}
	return d
}

func (d *Detector) WithLogger(l *logging.Logger) *Detector {
	if l != nil {
		d.logger = l
	}
	return d
}

// Deferral explains why a ready task was left out of the batch.
type Deferral struct {
	TaskID string
	Conflict
}

// Efficiency is the diagnostic time profile of one batch.
type Efficiency struct {
	SerialHours   float64 `yaml:"serial_hours" json:"serial_hours"`
	ParallelHours float64 `yaml:"parallel_hours" json:"parallel_hours"`
	SavedHours    float64 `yaml:"saved_hours" json:"saved_hours"`
	Percentage    float64 `yaml:"percentage" json:"percentage"`
}

// Selection is the outcome of one SelectBatch call.
type Selection struct {
	Batch      []*model.Task // ID order
	Deferred   []Deferral    // ID order
	Efficiency Efficiency
	// Exact is false when the search budget ran out and the batch came from
	// the greedy fallback.
	Exact bool
}

func (s Selection) IDs() []string {
	ids := make([]string, len(s.Batch))
	for i, t := range s.Batch {
		ids[i] = t.ID
	}
	return ids
}

// SelectBatch picks a largest set of pairwise safe tasks from ready, with at
// most limit members (limit <= 0 means no cap). Among sets of equal size it
// prefers the larger total estimated hours, then the lexicographically
// smaller sorted ID sequence, so the same graph always yields the same batch.
func (d *Detector) SelectBatch(ready []*model.Task, limit int) Selection {
	tasks := dedupeSorted(ready)
	if len(tasks) == 0 {
		return Selection{Exact: true}
	}
	if limit <= 0 || limit > len(tasks) {
		limit = len(tasks)
	}

	cg := d.buildConflictGraph(tasks)
	s := newSearch(cg, limit, d.budget)
	chosen, exact := s.run()
	if !exact {
		d.logger.Warn("batch_search_budget_exhausted ready=%d budget=%d fallback=greedy", len(tasks), d.budget)
		chosen = greedy(cg, limit)
	}
	sort.Ints(chosen)

	sel := Selection{Exact: exact}
	inBatch := make([]bool, len(tasks))
	for _, i := range chosen {
		inBatch[i] = true
		sel.Batch = append(sel.Batch, tasks[i])
	}
	for i, t := range tasks {
		if inBatch[i] {
			continue
		}
		sel.Deferred = append(sel.Deferred, Deferral{TaskID: t.ID, Conflict: deferReason(cg, i, chosen)})
	}
	sel.Efficiency = ComputeEfficiency(sel.Batch)
	d.logger.Debug("batch_selected ready=%d limit=%d batch=%v exact=%t", len(tasks), limit, sel.IDs(), exact)
	return sel
}

// ComputeEfficiency reports serial vs parallel hours for a batch.
func ComputeEfficiency(batch []*model.Task) Efficiency {
	var e Efficiency
	for _, t := range batch {
		h := t.Hours()
		e.SerialHours += h
		if h > e.ParallelHours {
			e.ParallelHours = h
		}
	}
	e.SavedHours = e.SerialHours - e.ParallelHours
	if e.SerialHours > 0 {
		e.Percentage = 100 * e.SavedHours / e.SerialHours
	}
	return e
}

// Wave is one batch in a simulated sequence over a fixed ready set.
type Wave struct {
	Index      int        `yaml:"index" json:"index"`
	TaskIDs    []string   `yaml:"task_ids" json:"task_ids"`
	Efficiency Efficiency `yaml:"efficiency" json:"efficiency"`
	Exact      bool       `yaml:"exact" json:"exact"`
}

// PlanWaves repeatedly selects batches from ready until every task is placed.
func (d *Detector) PlanWaves(ready []*model.Task, limit int) []Wave {
	remaining := dedupeSorted(ready)
	var waves []Wave
	for len(remaining) > 0 {
		sel := d.SelectBatch(remaining, limit)
		if len(sel.Batch) == 0 {
			break
		}
		waves = append(waves, Wave{
			Index:      len(waves) + 1,
			TaskIDs:    sel.IDs(),
			Efficiency: sel.Efficiency,
			Exact:      sel.Exact,
		})
		picked := make(map[string]bool, len(sel.Batch))
		for _, t := range sel.Batch {
			picked[t.ID] = true
		}
		next := make([]*model.Task, 0, len(remaining))
		for _, t := range remaining {
			if !picked[t.ID] {
				next = append(next, t)
			}
		}
		remaining = next
	}
	return waves
}

// conflictGraph is the ready set indexed by ID order with its "unsafe to
// pair" edges.
type conflictGraph struct {
	tasks []*model.Task
	hours []float64
	adj   [][]bool
	why   [][]Conflict
}

func (d *Detector) buildConflictGraph(tasks []*model.Task) *conflictGraph {
	n := len(tasks)
	cg := &conflictGraph{
		tasks: tasks,
		hours: make([]float64, n),
		adj:   make([][]bool, n),
		why:   make([][]Conflict, n),
	}
	for i, t := range tasks {
		cg.hours[i] = t.Hours()
		cg.adj[i] = make([]bool, n)
		cg.why[i] = make([]Conflict, n)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if c, ok := d.conflict(tasks[i], tasks[j]); ok {
				cg.adj[i][j], cg.adj[j][i] = true, true
				cg.why[i][j] = c
				rev := c
				rev.With = tasks[i].ID
				cg.why[j][i] = rev
			}
		}
	}
	return cg
}

// deferReason names the first batch member i conflicts with, or the cap.
func deferReason(cg *conflictGraph, i int, chosen []int) Conflict {
	for _, j := range chosen {
		if cg.adj[i][j] {
			return cg.why[i][j]
		}
	}
	return Conflict{Reason: ReasonCapReached}
}

// greedy takes tasks by hours descending then ID ascending, skipping conflicts.
func greedy(cg *conflictGraph, limit int) []int {
	var chosen []int
	for _, i := range byHoursDesc(cg) {
		if len(chosen) == limit {
			break
		}
		ok := true
		for _, j := range chosen {
			if cg.adj[i][j] {
				ok = false
				break
			}
		}
		if ok {
			chosen = append(chosen, i)
		}
	}
	return chosen
}

func byHoursDesc(cg *conflictGraph) []int {
	order := make([]int, len(cg.tasks))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return cg.hours[order[a]] > cg.hours[order[b]]+epsilon
	})
	return order
}

// dedupeSorted drops nil and repeated tasks and sorts by ID.
func dedupeSorted(ready []*model.Task) []*model.Task {
	seen := make(map[string]bool, len(ready))
	out := make([]*model.Task, 0, len(ready))
	for _, t := range ready {
		if t == nil || seen[t.ID] {
			continue
		}
		seen[t.ID] = true
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (d Deferral) String() string {
	return d.TaskID + ": " + d.Conflict.String()
}
