package parallel

import (
	"fmt"
	"sort"

	"github.com/msageha/migrun/internal/plan"
)

// LevelGroup is the set of tasks at one dependency depth. Tasks on the same
// level never depend on each other.
type LevelGroup struct {
	Level         int      `yaml:"level" json:"level"`
	TaskIDs       []string `yaml:"task_ids" json:"task_ids"`
	EarliestStart float64  `yaml:"earliest_start_hours" json:"earliest_start_hours"`
	MaxHours      float64  `yaml:"max_hours" json:"max_hours"`
	SavedHours    float64  `yaml:"saved_hours" json:"saved_hours"`
}

// Analysis is the whole-graph parallelization profile, counting every task
// regardless of status.
type Analysis struct {
	TotalTasks        int          `yaml:"total_tasks" json:"total_tasks"`
	Levels            []LevelGroup `yaml:"levels" json:"levels"`
	MaxParallelism    int          `yaml:"max_parallelism" json:"max_parallelism"`
	CriticalPath      []string     `yaml:"critical_path" json:"critical_path"`
	CriticalPathHours float64      `yaml:"critical_path_hours" json:"critical_path_hours"`
	SerialHours       float64      `yaml:"serial_hours" json:"serial_hours"`
	ParallelHours     float64      `yaml:"parallel_hours" json:"parallel_hours"`
	SavedHours        float64      `yaml:"saved_hours" json:"saved_hours"`
	EfficiencyGain    float64      `yaml:"efficiency_gain_percent" json:"efficiency_gain_percent"`
}

// Analyze computes dependency levels, the critical path, and serial versus
// level-parallel durations. It fails on cyclic graphs.
func (d *Detector) Analyze() (*Analysis, error) {
	order, err := plan.TopologicalOrder(d.graph)
	if err != nil {
		return nil, fmt.Errorf("analyze %s: %w", d.graph.Name(), err)
	}

	level := make(map[string]int, len(order))
	finish := make(map[string]float64, len(order))
	via := make(map[string]string, len(order))
	a := &Analysis{TotalTasks: len(order)}

	for _, id := range order {
		t, _ := d.graph.Task(id)
		lvl, start, prev := 0, 0.0, ""
		for _, dep := range t.Dependencies() {
			if dep == id || !d.graph.Has(dep) {
				continue
			}
			if level[dep]+1 > lvl {
				lvl = level[dep] + 1
			}
			if finish[dep] > start+epsilon {
				start, prev = finish[dep], dep
			}
		}
		level[id] = lvl
		finish[id] = start + t.Hours()
		via[id] = prev
		a.SerialHours += t.Hours()

		for len(a.Levels) <= lvl {
			a.Levels = append(a.Levels, LevelGroup{Level: len(a.Levels)})
		}
		g := &a.Levels[lvl]
		g.TaskIDs = append(g.TaskIDs, id)
		g.SavedHours += t.Hours()
		if t.Hours() > g.MaxHours {
			g.MaxHours = t.Hours()
		}
	}

	for i := range a.Levels {
		g := &a.Levels[i]
		sort.Strings(g.TaskIDs)
		g.EarliestStart = a.ParallelHours
		g.SavedHours -= g.MaxHours
		a.ParallelHours += g.MaxHours
		if len(g.TaskIDs) > a.MaxParallelism {
			a.MaxParallelism = len(g.TaskIDs)
		}
	}

	end := ""
	for _, id := range d.graph.IDs() {
		if finish[id] > a.CriticalPathHours+epsilon {
			a.CriticalPathHours, end = finish[id], id
		}
	}
	for id := end; id != ""; id = via[id] {
		a.CriticalPath = append([]string{id}, a.CriticalPath...)
	}

	a.SavedHours = a.SerialHours - a.ParallelHours
	if a.SerialHours > 0 {
		a.EfficiencyGain = 100 * a.SavedHours / a.SerialHours
	}
	return a, nil
}
