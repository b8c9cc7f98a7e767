package session

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"text/template"

	"github.com/msageha/migrun/internal/model"
	"github.com/msageha/migrun/templates"
)

// CheckKind names a batch-level session that is not tied to one task.
type CheckKind string

const (
	// CheckCompatibility integrates the open pull requests of one batch.
	CheckCompatibility CheckKind = "compatibility_check"
	// CheckVerification re-derives task statuses after a batch merged.
	CheckVerification CheckKind = "completion_verification"
)

// Checker is implemented by executors that can start check sessions. The
// returned handle has Check set to kind and TaskID set to the kind's name.
type Checker interface {
	SubmitCheck(ctx context.Context, kind CheckKind, iteration int, batch []Handle) (Handle, error)
}

// CheckRenderer renders the prompts of the enabled check kinds.
type CheckRenderer struct {
	tmpls      map[CheckKind]*template.Template
	targetRepo string
	planPath   string
}

type checkData struct {
	Kind       CheckKind
	Iteration  int
	Batch      []Handle
	TargetRepo string
	PlanPath   string
}

// NewCheckRenderer parses the template of every enabled check, falling back
// to the embedded default when no path is configured.
func NewCheckRenderer(cfg model.ExecutorConfig, planPath string) (*CheckRenderer, error) {
	r := &CheckRenderer{
		tmpls:      make(map[CheckKind]*template.Template),
		targetRepo: cfg.TargetRepo,
		planPath:   planPath,
	}
	checks := []struct {
		kind     CheckKind
		cfg      model.CheckConfig
		embedded string
	}{
		{CheckCompatibility, cfg.CompatibilityCheck, templates.CompatibilityCheck},
		{CheckVerification, cfg.Verification, templates.Verification},
	}
	for _, c := range checks {
		if !c.cfg.Enabled {
			continue
		}
		var (
			text []byte
			err  error
		)
		if c.cfg.PromptTemplate == "" {
			text, err = templates.FS.ReadFile(c.embedded)
		} else {
			text, err = os.ReadFile(c.cfg.PromptTemplate)
		}
		if err != nil {
			return nil, fmt.Errorf("read %s template: %w", c.kind, err)
		}
		tmpl, err := template.New(string(c.kind)).Option("missingkey=error").Parse(string(text))
		if err != nil {
			return nil, fmt.Errorf("parse %s template: %w", c.kind, err)
		}
		r.tmpls[c.kind] = tmpl
	}
	return r, nil
}

// Enabled reports whether kind has a template.
func (r *CheckRenderer) Enabled(kind CheckKind) bool {
	if r == nil {
		return false
	}
	_, ok := r.tmpls[kind]
	return ok
}

func (r *CheckRenderer) Render(kind CheckKind, iteration int, batch []Handle) (string, error) {
	tmpl, ok := r.tmpls[kind]
	if !ok {
		return "", fmt.Errorf("%s is not enabled", kind)
	}
	var buf bytes.Buffer
	data := checkData{Kind: kind, Iteration: iteration, Batch: batch, TargetRepo: r.targetRepo, PlanPath: r.planPath}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", kind, err)
	}
	return buf.String(), nil
}

func checkTitle(kind CheckKind, iteration int) string {
	switch kind {
	case CheckCompatibility:
		return fmt.Sprintf("Ensure PR compatibility for batch %d", iteration)
	case CheckVerification:
		return fmt.Sprintf("Verify task completion after batch %d", iteration)
	}
	return fmt.Sprintf("%s for batch %d", kind, iteration)
}
