package orchestrator

import (
	"time"

	"github.com/msageha/migrun/internal/parallel"
	"github.com/msageha/migrun/internal/resolver"
	"github.com/msageha/migrun/internal/review"
	"github.com/msageha/migrun/internal/session"
	yamlutil "github.com/msageha/migrun/internal/yaml"
)

// Outcome is how a run ended.
type Outcome string

const (
	OutcomeComplete       Outcome = "complete"
	OutcomeSingleBatch    Outcome = "single_batch"
	OutcomeDryRun         Outcome = "dry_run"
	OutcomeIterationLimit Outcome = "iteration_limit"
	OutcomeInvalid        Outcome = "invalid"
	OutcomeStalled        Outcome = "stalled"
	OutcomeTimeout        Outcome = "timeout"
	OutcomeInterrupted    Outcome = "interrupted"
	OutcomeFailed         Outcome = "failed"
)

// Report summarizes one orchestration run.
type Report struct {
	yamlutil.SchemaHeader `yaml:",inline"`

	RunID      string             `yaml:"run_id"`
	Graph      string             `yaml:"graph"`
	Mode       string             `yaml:"mode"`
	DryRun     bool               `yaml:"dry_run"`
	StartedAt  string             `yaml:"started_at"`
	FinishedAt string             `yaml:"finished_at,omitempty"`
	Outcome    Outcome            `yaml:"outcome"`
	Error      string             `yaml:"error,omitempty"`
	Iterations int                `yaml:"iterations"`
	Progress   Progress           `yaml:"progress"`
	Advisories []string           `yaml:"advisories,omitempty"`
	Batches    []BatchRecord      `yaml:"batches,omitempty"`
	Failures   []FailureRecord    `yaml:"failures,omitempty"`
	Waves      []parallel.Wave    `yaml:"waves,omitempty"`
	Unresolved []string           `yaml:"unresolved,omitempty"`
	Blockers   []resolver.Blocker `yaml:"blockers,omitempty"`
	Exhausted  []string           `yaml:"exhausted,omitempty"`
}

// Progress counts tasks in the most recently loaded graph.
type Progress struct {
	Total     int `yaml:"total"`
	Completed int `yaml:"completed"`
}

// BatchRecord is one dispatched batch and what reconcile found afterwards.
type BatchRecord struct {
	Iteration  int                 `yaml:"iteration"`
	TaskIDs    []string            `yaml:"task_ids"`
	Deferred   []string            `yaml:"deferred,omitempty"`
	Exact      bool                `yaml:"exact"`
	Efficiency parallel.Efficiency `yaml:"efficiency"`
	Dispatched []session.Handle    `yaml:"dispatched,omitempty"`
	Merged     []string            `yaml:"merged,omitempty"`
	Closed     []string            `yaml:"closed,omitempty"`
	Completed  []string            `yaml:"completed,omitempty"`
	Incomplete []string            `yaml:"incomplete,omitempty"`
	Checks     []CheckRecord       `yaml:"checks,omitempty"`
}

// CheckRecord is a batch-level check session and its review state. State is
// empty until the review resolves.
type CheckRecord struct {
	Kind      session.CheckKind `yaml:"kind"`
	SessionID string            `yaml:"session_id"`
	ReviewRef string            `yaml:"review_ref"`
	State     review.State      `yaml:"state,omitempty"`
}

type FailureRecord struct {
	Iteration int    `yaml:"iteration"`
	TaskID    string `yaml:"task_id"`
	Error     string `yaml:"error"`
}

func newReport(runID, mode string, dryRun bool) *Report {
	return &Report{
		SchemaHeader: yamlutil.NewHeader(yamlutil.FileTypeRunReport),
		RunID:        runID,
		Mode:         mode,
		DryRun:       dryRun,
		StartedAt:    time.Now().UTC().Format(time.RFC3339),
	}
}

func (r *Report) finish(outcome Outcome, err error) {
	r.Outcome = outcome
	if err != nil {
		r.Error = err.Error()
	}
	r.FinishedAt = time.Now().UTC().Format(time.RFC3339)
}

// WriteReport persists the report atomically, keeping the previous one as .bak.
func WriteReport(path string, r *Report) error {
	return yamlutil.AtomicWriteDocument(path, yamlutil.FileTypeRunReport, r)
}

// LoadReport reads a report written by WriteReport.
func LoadReport(path string) (*Report, error) {
	var r Report
	if err := yamlutil.ReadDocument(path, yamlutil.FileTypeRunReport, &r); err != nil {
		return nil, err
	}
	return &r, nil
}
