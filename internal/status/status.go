// Package status summarizes the progress of a migration plan.
package status

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/msageha/migrun/internal/model"
	"github.com/msageha/migrun/internal/orchestrator"
	"github.com/msageha/migrun/internal/resolver"
)

const (
	StateComplete = "complete"
	StateReady    = "ready"
	StateBlocked  = "blocked"
)

type PlanStatus struct {
	Plan      string       `json:"plan"`
	Total     int          `json:"total"`
	Completed int          `json:"completed"`
	Ready     int          `json:"ready"`
	Blocked   int          `json:"blocked"`
	Percent   float64      `json:"percent"`
	Tasks     []TaskStatus `json:"tasks"`
	LastRun   *RunStatus   `json:"last_run,omitempty"`
}

type TaskStatus struct {
	ID        string   `json:"id"`
	Title     string   `json:"title"`
	State     string   `json:"state"`
	WaitingOn []string `json:"waiting_on,omitempty"`
}

type RunStatus struct {
	RunID      string               `json:"run_id"`
	Outcome    orchestrator.Outcome `json:"outcome"`
	Iterations int                  `json:"iterations"`
	FinishedAt string               `json:"finished_at,omitempty"`
	Error      string               `json:"error,omitempty"`
}

// Build classifies every task of g. last may be nil.
func Build(g *model.TaskGraph, last *orchestrator.Report) PlanStatus {
	s := PlanStatus{Plan: g.Name()}

	waiting := make(map[string][]string)
	for _, b := range resolver.Blockers(g) {
		waiting[b.TaskID] = b.WaitingOn
	}
	for _, id := range g.IDs() {
		t, _ := g.Task(id)
		ts := TaskStatus{ID: id, Title: t.Title}
		switch {
		case t.IsComplete():
			ts.State = StateComplete
			s.Completed++
		case len(waiting[id]) > 0:
			ts.State = StateBlocked
			ts.WaitingOn = waiting[id]
			s.Blocked++
		default:
			ts.State = StateReady
			s.Ready++
		}
		s.Tasks = append(s.Tasks, ts)
	}
	s.Total = len(s.Tasks)
	if s.Total > 0 {
		s.Percent = 100 * float64(s.Completed) / float64(s.Total)
	}

	if last != nil {
		s.LastRun = &RunStatus{
			RunID:      last.RunID,
			Outcome:    last.Outcome,
			Iterations: last.Iterations,
			FinishedAt: last.FinishedAt,
			Error:      last.Error,
		}
	}
	return s
}

// Write prints s as an indented JSON document or as a text table.
func Write(w io.Writer, s PlanStatus, jsonOutput bool) error {
	if jsonOutput {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(s)
	}

	name := s.Plan
	if name == "" {
		name = "(unnamed)"
	}
	fmt.Fprintf(w, "Plan: %s\n", name)
	fmt.Fprintf(w, "Progress: %d/%d complete (%.1f%%), %d ready, %d blocked\n",
		s.Completed, s.Total, s.Percent, s.Ready, s.Blocked)

	if len(s.Tasks) > 0 {
		fmt.Fprintln(w, "\nTasks:")
		fmt.Fprintf(w, "  %-16s  %-8s  %s\n", "ID", "STATE", "WAITING_ON")
		for _, t := range s.Tasks {
			fmt.Fprintf(w, "  %-16s  %-8s  %s\n", t.ID, t.State, joinOrDash(t.WaitingOn))
		}
	}

	if s.LastRun != nil {
		fmt.Fprintf(w, "\nLast run: %s outcome=%s iterations=%d finished=%s\n",
			s.LastRun.RunID, s.LastRun.Outcome, s.LastRun.Iterations, s.LastRun.FinishedAt)
		if s.LastRun.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", s.LastRun.Error)
		}
	}
	return nil
}

func joinOrDash(ids []string) string {
	if len(ids) == 0 {
		return "-"
	}
	out := ids[0]
	for _, id := range ids[1:] {
		out += ", " + id
	}
	return out
}
