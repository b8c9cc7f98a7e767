package orchestrator

import (
	"fmt"
	"strings"

	"github.com/msageha/migrun/internal/plan"
	"github.com/msageha/migrun/internal/resolver"
	"github.com/msageha/migrun/internal/session"
)

// GraphError halts a run when the loaded graph has hard validation findings.
type GraphError struct {
	Result *plan.Result
}

func (e *GraphError) Error() string {
	hard := e.Result.Hard()
	parts := make([]string, len(hard))
	for i, f := range hard {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("task graph is invalid (%d errors): %s", len(hard), strings.Join(parts, "; "))
}

func (e *GraphError) FormatStderr() string {
	return e.Result.FormatStderr()
}

// StalledError reports that incomplete tasks remain but none can be dispatched.
type StalledError struct {
	Blockers []resolver.Blocker
	// Exhausted are ready tasks excluded after too many failed attempts.
	Exhausted []string
}

func (e *StalledError) Error() string {
	var parts []string
	for _, b := range e.Blockers {
		parts = append(parts, fmt.Sprintf("%s waits on [%s]", b.TaskID, strings.Join(b.WaitingOn, ", ")))
	}
	for _, id := range e.Exhausted {
		parts = append(parts, fmt.Sprintf("%s exhausted its dispatch attempts", id))
	}
	return fmt.Sprintf("no progress possible, %d tasks blocked: %s", len(parts), strings.Join(parts, "; "))
}

func (e *StalledError) FormatStderr() string {
	var sb strings.Builder
	sb.WriteString("error: no ready tasks but the graph is not complete\n")
	for _, b := range e.Blockers {
		fmt.Fprintf(&sb, "  %s: waiting on %s\n", b.TaskID, strings.Join(b.WaitingOn, ", "))
	}
	for _, id := range e.Exhausted {
		fmt.Fprintf(&sb, "  %s: dispatch attempts exhausted\n", id)
	}
	return sb.String()
}

// DispatchFailure is one task whose submission failed. It never blocks the
// rest of its batch.
type DispatchFailure struct {
	TaskID string
	Err    error
}

func (f DispatchFailure) Error() string {
	return fmt.Sprintf("dispatch %s: %v", f.TaskID, f.Err)
}

func (f DispatchFailure) Unwrap() error {
	return f.Err
}

// ReconcileError halts a run when the graph cannot be reloaded after a batch
// resolved, so the batch tasks' statuses are unknown.
type ReconcileError struct {
	Iteration int
	TaskIDs   []string
	Err       error
}

func (e *ReconcileError) Error() string {
	return fmt.Sprintf("reconcile batch %d [%s]: %v", e.Iteration, strings.Join(e.TaskIDs, ", "), e.Err)
}

func (e *ReconcileError) Unwrap() error {
	return e.Err
}

// CheckError halts a run when a required check session could not be started.
type CheckError struct {
	Kind session.CheckKind
	Err  error
}

func (e *CheckError) Error() string {
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *CheckError) Unwrap() error {
	return e.Err
}
